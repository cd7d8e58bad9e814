package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/muxsh/internal/command"
	"github.com/steveyegge/muxsh/internal/eventbus"
	"github.com/steveyegge/muxsh/internal/style"
	"github.com/steveyegge/muxsh/internal/ui"
)

var replCmd = &cobra.Command{
	Use:     "repl",
	GroupID: GroupSession,
	Short:   "Dispatch stdin lines to a shell session as they arrive",
	Long: `Open a shell session and dispatch every line read from stdin as a command.
Completions are printed as they happen, so background commands may finish
out of order.

At end of input repl waits up to --drain for unfinished commands, then
closes the session.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

var (
	replName         string
	replBackground   bool
	replDrain        time.Duration
	replStartTimeout time.Duration
)

func init() {
	replCmd.Flags().StringVarP(&replName, "name", "n", "", "session name (default: random)")
	replCmd.Flags().BoolVarP(&replBackground, "background", "b", false, "run every line as a background job")
	replCmd.Flags().DurationVar(&replDrain, "drain", 30*time.Second, "how long to wait for unfinished commands at end of input")
	replCmd.Flags().DurationVar(&replStartTimeout, "start-timeout", DefaultStartTimeout, "how long to wait for the shell to start")

	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sh, err := openShell(ctx, replName, replStartTimeout)
	if err != nil {
		return err
	}
	defer sh.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", style.Dim.Render("attach:"), style.Info.Render(sh.session.AttachHint()))
	interactive := ui.IsStdinTerminal()

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go readLines(cmd.InOrStdin(), lines, stop)

	prompt := func() {
		if interactive {
			fmt.Fprint(out, style.Dim.Render(sh.session.Identity()+"> "))
		}
	}
	prompt()

	var drain <-chan time.Time
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				if sh.pending() == 0 {
					return nil
				}
				drain = time.After(replDrain)
				continue
			}
			if strings.TrimSpace(line) == "" {
				prompt()
				continue
			}
			if _, err := sh.session.Submit(ctx, line, replBackground); err != nil {
				return err
			}

		case ev, ok := <-sh.events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case eventbus.EventCommandEnded:
				if c, ok := ev.Data.(*command.Command); ok {
					printResult(out, c)
					prompt()
				}
			case eventbus.EventClosed:
				fmt.Fprintf(cmd.ErrOrStderr(), "%s shell exited\n", style.WarningPrefix)
			}
			if lines == nil && sh.pending() == 0 {
				return nil
			}

		case <-drain:
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %d command(s) still running\n", style.WarningPrefix, sh.pending())
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// readLines sends each line of r to lines and closes it at end of input.
// It returns early once stop is closed, after the read in progress.
func readLines(r io.Reader, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
}
