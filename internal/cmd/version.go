package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
)

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: GroupConfig,
	Short:   "Print the muxsh version",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := Version
		if Commit != "" {
			v += " (" + Commit + ")"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "muxsh %s %s/%s\n", v, runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
