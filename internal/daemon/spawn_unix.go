//go:build unix

package daemon

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Spawn starts a detached daemon in its own session with stdio on
// /dev/null, and returns without waiting for it to listen. If another
// daemon wins the socket, the new process exits quietly.
func Spawn(ctx context.Context, opts SpawnOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	exe := opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return kperr.Wrap(err, "locating kpfind executable")
		}
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return kperr.Wrap(err, "opening %s", os.DevNull)
	}
	defer func() { _ = devNull.Close() }()

	// Not CommandContext: the daemon must outlive this invocation.
	cmd := exec.Command(exe, opts.args()...) //nolint:gosec,noctx // G204: Re-executes this binary
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return kperr.Wrap(err, "starting cache daemon")
	}
	return cmd.Process.Release()
}
