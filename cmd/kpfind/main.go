// Package main is the entry point for the kpfind CLI.
package main

import (
	"os"

	"github.com/mrz1836/kpfind/internal/cli"
)

// Set via -ldflags at release time.
//
//nolint:gochecknoglobals // Link-time build stamps
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	err := cli.Execute(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	os.Exit(cli.ExitCode(err))
}
