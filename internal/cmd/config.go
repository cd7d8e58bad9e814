package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/muxsh/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupConfig,
	Short:   "Print the effective configuration as TOML",
	Long: `Print the configuration muxsh would use, after layering the config file,
MUXSH_* environment variables and flags. The output is a valid config file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configShowPath bool

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "print the default config file path instead")

	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	if configShowPath {
		fmt.Fprintln(cmd.OutOrStdout(), config.DefaultPath())
		return nil
	}
	return cfg.Encode(cmd.OutOrStdout())
}
