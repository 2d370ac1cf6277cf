package daemon

import (
	"strconv"
	"time"
)

// SpawnOptions describes the daemon process to start.
type SpawnOptions struct {
	// Executable defaults to the running binary.
	Executable string

	Socket      string
	Home        string
	IdleTimeout time.Duration
	Debug       bool
}

// args builds the hidden "daemon" subcommand line.
func (o SpawnOptions) args() []string {
	args := []string{"daemon", "--socket", o.Socket}
	if o.IdleTimeout > 0 {
		args = append(args, "--idle-timeout", strconv.FormatInt(int64(o.IdleTimeout/time.Second), 10))
	}
	if o.Home != "" {
		args = append(args, "--home", o.Home)
	}
	if o.Debug {
		args = append(args, "--debug")
	}
	return args
}
