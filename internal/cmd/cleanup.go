package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/exitcode"
	"github.com/steveyegge/muxsh/internal/lock"
	"github.com/steveyegge/muxsh/internal/screen"
	"github.com/steveyegge/muxsh/internal/session"
	"github.com/steveyegge/muxsh/internal/style"
	"github.com/steveyegge/muxsh/internal/transport"
)

var cleanupCmd = &cobra.Command{
	Use:     "cleanup NAME...",
	GroupID: GroupSession,
	Short:   "Quit leftover multiplexer sessions and remove their fifos",
	Long: `Quit the multiplexer sessions for the given names and remove their fifos.

A name may be the surface name or the full muxsh_ identity. Sessions whose
identity lock is held by a running muxsh are skipped unless --force is given.
With --wait, cleanup first gives a session that is shutting down that long to
release its lock.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCleanup,
}

var (
	cleanupForce bool
	cleanupWait  time.Duration
)

// lockRetryDelay is how often --wait retries a held identity lock.
const lockRetryDelay = 50 * time.Millisecond

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "clean up even if another muxsh holds the identity")
	cleanupCmd.Flags().DurationVar(&cleanupWait, "wait", 0, "how long to wait for a held identity lock to be released")

	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	mux := newMultiplexer(cfg)
	var errs []error
	for _, name := range args {
		identity := resolveIdentity(name)
		if err := cleanupIdentity(cmd.Context(), mux, identity, cleanupForce, cleanupWait); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", style.SuccessPrefix, identity)
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

// cleanupIdentity quits the multiplexer session for identity and removes its
// fifo, holding the identity lock while it does so. A positive wait retries a
// held lock for that long.
func cleanupIdentity(ctx context.Context, mux session.Multiplexer, identity string, force bool, wait time.Duration) error {
	unlock, err := acquireForCleanup(ctx, session.LockPath(cfg.TransportDir, identity), wait)
	switch {
	case err == nil:
		defer unlock()
	case errors.Is(err, lock.ErrIdentityInUse) && force:
		logger.Warn("cleaning up a session in use", zap.String("identity", identity))
	case errors.Is(err, lock.ErrIdentityInUse):
		return exitcode.Busy(identity)
	default:
		return err
	}

	if err := mux.Quit(identity); err != nil {
		if errors.Is(err, screen.ErrNotInstalled) || errors.Is(err, exec.ErrNotFound) {
			return exitcode.Wrapf(exitcode.ErrMultiplexerNotFound, err, "%s is not installed", mux.Name())
		}
		return exitcode.Wrapf(exitcode.ErrGeneral, err, "quitting %s", identity)
	}
	logger.Debug("multiplexer session quit", zap.String("identity", identity))
	return transport.Remove(session.TransportPath(cfg.TransportDir, identity))
}

func acquireForCleanup(ctx context.Context, path string, wait time.Duration) (func(), error) {
	if wait <= 0 {
		return lock.TryIdentity(path)
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return lock.WaitIdentity(wctx, path, lockRetryDelay)
}
