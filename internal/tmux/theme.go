package tmux

import (
	"hash/fnv"
)

// Theme is the status-bar styling of a muxsh tmux session.
type Theme struct {
	Name string // Human-readable theme name
	BG   string // Background color (hex or color name)
	FG   string // Foreground color (hex or color name)
}

// Style returns the tmux style string, e.g. "bg=#1e3a5f,fg=#e0e0e0".
func (t Theme) Style() string {
	return "bg=" + t.BG + ",fg=" + t.FG
}

// DefaultPalette is the set of status-bar themes sessions are spread over,
// so sessions attached side by side are told apart at a glance.
var DefaultPalette = []Theme{
	{Name: "ocean", BG: "#1e3a5f", FG: "#e0e0e0"},
	{Name: "forest", BG: "#2d5a3d", FG: "#e0e0e0"},
	{Name: "rust", BG: "#8b4513", FG: "#f5f5dc"},
	{Name: "plum", BG: "#4a3050", FG: "#e0e0e0"},
	{Name: "slate", BG: "#4a5568", FG: "#e0e0e0"},
	{Name: "ember", BG: "#b33a00", FG: "#f5f5dc"},
	{Name: "midnight", BG: "#1a1a2e", FG: "#c0c0c0"},
	{Name: "wine", BG: "#722f37", FG: "#f5f5dc"},
	{Name: "teal", BG: "#0d5c63", FG: "#e0e0e0"},
	{Name: "copper", BG: "#6d4c41", FG: "#f5f5dc"},
}

// AssignTheme picks a theme for a session identity. The same identity always
// gets the same theme.
func AssignTheme(identity string) Theme {
	return AssignThemeFromPalette(identity, DefaultPalette)
}

// AssignThemeFromPalette picks a theme using a custom palette.
func AssignThemeFromPalette(identity string, palette []Theme) Theme {
	if len(palette) == 0 {
		return DefaultPalette[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	idx := int(h.Sum32() % uint32(len(palette)))
	return palette[idx]
}
