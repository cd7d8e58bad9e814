package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/muxsh/internal/command"
	"github.com/steveyegge/muxsh/internal/style"
)

var runCmd = &cobra.Command{
	Use:     "run [flags] COMMAND...",
	GroupID: GroupSession,
	Short:   "Run commands in a shell session and report their exit codes",
	Long: `Run each COMMAND in turn in a multiplexer-hosted shell and print its exit
status once it finishes. muxsh exits with the status of the last command.

Output stays in the multiplexer session; attach to it with the command
printed at start-up to watch it. The session is closed when run returns.

Exit codes other than the last command's own:
  40  a command did not finish within --timeout
  50  the shell exited before a command finished
  52  another session holds --name`,
	Example: `  muxsh run 'make test'
  muxsh run --name build --timeout 10m 'cd ~/src/app' 'make'
  muxsh run -m tmux --background 'sleep 5'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runName         string
	runBackground   bool
	runTimeout      time.Duration
	runStartTimeout time.Duration
)

func init() {
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "session name (default: random)")
	runCmd.Flags().BoolVarP(&runBackground, "background", "b", false, "run each command as a background job")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0, "per-command timeout (0 waits forever)")
	runCmd.Flags().DurationVar(&runStartTimeout, "start-timeout", DefaultStartTimeout, "how long to wait for the shell to start")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sh, err := openShell(ctx, runName, runStartTimeout)
	if err != nil {
		return err
	}
	defer sh.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", style.Dim.Render("attach:"), style.Info.Render(sh.session.AttachHint()))

	last := 0
	for _, text := range args {
		cctx, cancel := withOptionalTimeout(ctx, runTimeout)
		c, err := sh.run(cctx, text, runBackground)
		cancel()
		if err != nil {
			return err
		}
		last = printResult(cmd.OutOrStdout(), c)
	}

	if last != 0 {
		return NewSilentExit(last)
	}
	return nil
}

// printResult writes one completion line and returns the exit code.
func printResult(w io.Writer, c *command.Command) int {
	code, _ := c.ExitCode()
	prefix := style.SuccessPrefix
	if code != 0 {
		prefix = style.WarningPrefix
	}
	fmt.Fprintf(w, "%s %s %s %s\n", prefix, style.Bold.Render(c.Text()), style.Dim.Render("exit"), style.ExitCode(code))
	return code
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
