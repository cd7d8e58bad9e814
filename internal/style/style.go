// Package style holds the lipgloss styles the muxsh CLI prints with.
package style

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/steveyegge/muxsh/internal/ui"
)

var (
	// Success marks a command that exited 0.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)

	// Warning marks a non-zero exit or a degraded state.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)

	// Error marks failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Info marks neutral notices such as attach hints.
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	// Dim is for secondary text.
	Dim = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	// Bold emphasizes identities and headers.
	Bold = lipgloss.NewStyle().Bold(true)

	// SuccessPrefix, WarningPrefix and ErrorPrefix lead status lines.
	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
)

func init() {
	if !ui.ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
		SuccessPrefix = "✓"
		WarningPrefix = "!"
		ErrorPrefix = "x"
	}
}

// ExitCode renders a command exit code: green for 0, yellow otherwise.
func ExitCode(code int) string {
	if code == 0 {
		return Success.Render("0")
	}
	return Warning.Render(strconv.Itoa(code))
}
