// Package cmd provides CLI commands for the muxsh tool.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/config"
	"github.com/steveyegge/muxsh/internal/exitcode"
	"github.com/steveyegge/muxsh/internal/logging"
	"github.com/steveyegge/muxsh/internal/process"
	"github.com/steveyegge/muxsh/internal/style"
	"github.com/steveyegge/muxsh/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:     "muxsh",
	Short:   "Drive a shell inside screen or tmux and learn when each command ends",
	Version: Version,
	Long: `muxsh runs commands in a persistent interactive shell hosted by GNU screen
or tmux and reports each command's exit status as it finishes.

The shell stays a real multiplexer session: attach to it at any time to
watch the output or type alongside muxsh.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupSession = "session"
	GroupConfig  = "config"
)

// shutdownTimeout bounds the telemetry flush on exit.
const shutdownTimeout = 5 * time.Second

var (
	configPath       string
	flagMultiplexer  string
	flagTransportDir string
	flagLogLevel     string
)

// Effective configuration, logger and telemetry, set by loadConfig.
var (
	cfg    = config.Default()
	logger = zap.NewNop()
	tel    *telemetry.Provider
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSession, Title: "Sessions:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupConfig)
	rootCmd.SetCompletionCommandGroupID(GroupConfig)

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitcode.Wrap(exitcode.ErrUsage, "usage", err)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/muxsh/config.toml)")
	pf.StringVarP(&flagMultiplexer, "multiplexer", "m", "", `multiplexer to host the shell: "screen" or "tmux"`)
	pf.StringVar(&flagTransportDir, "transport-dir", "", "directory for the fifo and lock files")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
}

// loadConfig layers file, environment and flags, then builds the logger.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "loading config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("multiplexer") {
		c.Multiplexer = flagMultiplexer
	}
	if flags.Changed("transport-dir") {
		c.TransportDir = flagTransportDir
	}
	if flags.Changed("log-level") {
		c.Log.Level = flagLogLevel
	}
	if err := c.Validate(); err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "invalid configuration", err)
	}

	l, err := logging.New(logging.FromConfig(c.Log))
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "configuring logging", err)
	}

	cfg = c
	logger = l.With(zap.String("multiplexer", c.Multiplexer))

	if tel == nil {
		p, err := telemetry.Init(cmd.Context(), telemetry.Options{
			Service: "muxsh",
			Version: Version,
			Config:  c,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("telemetry disabled", zap.Error(err))
		}
		tel = p
	}
	return nil
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	ctx, stop := process.HandleSignals(context.Background())
	defer stop()

	err := rootCmd.ExecuteContext(ctx)

	// Catches sessions a command left open.
	process.DefaultHooks.Run()
	_ = logger.Sync()
	if tel != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("flushing telemetry", zap.Error(err))
		}
		cancel()
	}

	if err != nil {
		// Check for silent exit (commands that signal status via exit code)
		if code, ok := IsSilentExit(err); ok {
			return code
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
		return exitcode.Code(err)
	}
	return 0
}
