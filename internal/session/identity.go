package session

import (
	"path/filepath"
	"strings"
)

// IdentityPrefix starts every session identity.
const IdentityPrefix = "muxsh_"

// Identity derives the session name from a surface id. Characters outside
// [A-Za-z0-9_-] become underscores, so the result is safe as a screen or tmux
// session name and as a file name.
func Identity(surfaceID string) string {
	return IdentityPrefix + sanitize(surfaceID)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

// TransportPath is the fifo the multiplexer logs the session to.
func TransportPath(dir, identity string) string {
	return filepath.Join(dir, identity+".log")
}

// LockPath is the file guarding the identity.
func LockPath(dir, identity string) string {
	return filepath.Join(dir, identity+".lock")
}
