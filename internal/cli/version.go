package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// versionCmd prints build information.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cc := GetCmdContext(cmd)
		if cc.Fmt.IsJSON() {
			return cc.Fmt.Print(map[string]string{
				"version": buildInfo.Version,
				"commit":  buildInfo.Commit,
				"date":    buildInfo.Date,
				"go":      runtime.Version(),
			})
		}
		return cc.Fmt.Printf("kpfind %s %s/%s\n", formatVersion(buildInfo), runtime.GOOS, runtime.GOARCH)
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(versionCmd)
}
