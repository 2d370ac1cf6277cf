package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Help text is enriched once per process
var enrichOnce sync.Once

// enrichHelp adds subcommand lists to every parent command's help.
func enrichHelp() {
	enrichOnce.Do(func() { walkCommands(rootCmd, enrichParentLong) })
}

// walkCommands visits every command in the tree depth-first.
func walkCommands(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, sub := range cmd.Commands() {
		walkCommands(sub, fn)
	}
}

// enrichParentLong appends the visible subcommands to a parent command's
// Long description.
func enrichParentLong(cmd *cobra.Command) {
	if !cmd.HasSubCommands() || cmd == rootCmd {
		return
	}

	var sb strings.Builder
	sb.WriteString(cmd.Long)
	sb.WriteString("\n\nSubcommands:\n")
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			fmt.Fprintf(&sb, "  %-10s %s\n", sub.Name(), sub.Short)
		}
	}
	cmd.Long = sb.String()
}

// out is a helper for CLI output that ignores write errors.
//
//nolint:errcheck // CLI output writes are intentionally unchecked
func out(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// outln is a helper for CLI output with newline.
//
//nolint:errcheck // CLI output writes are intentionally unchecked
func outln(w io.Writer, args ...any) {
	fmt.Fprintln(w, args...)
}
