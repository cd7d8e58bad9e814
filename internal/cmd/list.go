package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/steveyegge/muxsh/internal/lock"
	"github.com/steveyegge/muxsh/internal/session"
	"github.com/steveyegge/muxsh/internal/style"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: GroupSession,
	Short:   "List muxsh sessions known in the transport directory",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// sessionLister is implemented by the screen and tmux clients.
type sessionLister interface {
	HasSession(name string) (bool, error)
}

// listEntry describes one identity found in the transport directory.
type listEntry struct {
	Identity string
	Held     bool
	Fifo     bool
	Live     string
}

func runList(cmd *cobra.Command, _ []string) error {
	lister, _ := newMultiplexer(cfg).(sessionLister)
	entries, err := collectEntries(cfg.TransportDir, lister)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, style.Dim.Render("no sessions in "+cfg.TransportDir))
		return nil
	}

	fmt.Fprint(out, renderEntries(entries, cfg.Multiplexer))
	return nil
}

// renderEntries lays entries out as a table. The last column reports whether
// muxName lists the session, "?" when it could not be asked.
func renderEntries(entries []listEntry, muxName string) string {
	tbl := style.NewTable(
		style.Column{Name: "IDENTITY", Width: 28},
		style.Column{Name: "OWNER", Width: 6, StyleFor: flagStyle("held")},
		style.Column{Name: "FIFO", Width: 5, StyleFor: flagStyle("yes")},
		style.Column{Name: strings.ToUpper(muxName), Width: 7, StyleFor: flagStyle("yes")},
	)
	for _, e := range entries {
		owner := "free"
		if e.Held {
			owner = "held"
		}
		fifo := "no"
		if e.Fifo {
			fifo = "yes"
		}
		tbl.AddRow(e.Identity, owner, fifo, e.Live)
	}
	return tbl.Render()
}

// flagStyle highlights on and dims everything else.
func flagStyle(on string) func(string) *lipgloss.Style {
	return func(cell string) *lipgloss.Style {
		if cell == on {
			return &style.Success
		}
		return &style.Dim
	}
}

// collectEntries finds identities from the lock and fifo files in dir.
func collectEntries(dir string, mux sessionLister) ([]listEntry, error) {
	names := map[string]bool{}
	for _, pattern := range []string{"*.lock", "*.log"} {
		matches, err := filepath.Glob(filepath.Join(dir, session.IdentityPrefix+pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			base := filepath.Base(m)
			names[strings.TrimSuffix(base, filepath.Ext(base))] = true
		}
	}

	entries := make([]listEntry, 0, len(names))
	for identity := range names {
		e := listEntry{Identity: identity, Live: "?"}

		unlock, err := lock.TryIdentity(session.LockPath(dir, identity))
		switch {
		case err == nil:
			unlock()
		case errors.Is(err, lock.ErrIdentityInUse):
			e.Held = true
		}

		if fi, err := os.Stat(session.TransportPath(dir, identity)); err == nil {
			e.Fifo = fi.Mode()&os.ModeNamedPipe != 0
		}

		if mux != nil {
			if ok, err := mux.HasSession(identity); err == nil {
				e.Live = "no"
				if ok {
					e.Live = "yes"
				}
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })
	return entries, nil
}
