// Package sentinel builds the completion marker appended to every dispatched
// command and recognizes it in the session's output stream.
//
// The marker printed after command N is:
//
//	\nID:<base36 N>;ExitCode:<$?>\n
//
// On the wire each line break arrives as CRLF, since the shell writes through
// a tty. The matching pattern is derived from the same template, so the
// emitted and recognized forms cannot drift apart.
package sentinel

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/steveyegge/muxsh/internal/escape"
)

const (
	// Template is the marker text before substitution.
	Template = "\nID:" + IDPlaceholder + ";ExitCode:" + StatusPlaceholder + "\n"

	// IDPlaceholder is replaced by the encoded command id.
	IDPlaceholder = "{id}"

	// StatusPlaceholder is expanded by the shell to the last exit status.
	StatusPlaceholder = "$?"

	idGroup     = `([0-9a-z]+)`
	statusGroup = `([0-9]{1,3})`

	// maxIDDigits is the length of the largest uint64 in base 36.
	maxIDDigits    = 13
	maxStatusWidth = 3
)

// EncodeID renders id in base 36 using lowercase digits.
func EncodeID(id uint64) string {
	return strconv.FormatUint(id, 36)
}

// DecodeID parses a base 36 id produced by EncodeID.
func DecodeID(s string) (uint64, error) {
	return strconv.ParseUint(s, 36, 64)
}

// Match is one sentinel found in a byte stream.
type Match struct {
	ID       uint64
	ExitCode int
	Start    int // offset of the first byte of the marker
	End      int // offset one past the last byte of the marker
}

// Codec emits sentinels and finds them again.
type Codec struct {
	pattern *regexp.Regexp
	literal string
	maxLen  int
}

// literalReplacer turns the template into text that reproduces it when
// placed between the double quotes of a printf call.
var literalReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	`"`, `\"`,
)

// New returns a Codec for Template.
func New() *Codec {
	quoted := escape.Pattern(Template)
	quoted = strings.Replace(quoted, regexp.QuoteMeta(IDPlaceholder), idGroup, 1)
	quoted = strings.Replace(quoted, regexp.QuoteMeta(StatusPlaceholder), statusGroup, 1)

	wire := escape.Normalize(Template)
	maxLen := len(wire) - len(IDPlaceholder) - len(StatusPlaceholder) + maxIDDigits + maxStatusWidth

	return &Codec{
		pattern: regexp.MustCompile(quoted),
		literal: literalReplacer.Replace(Template),
		maxLen:  maxLen,
	}
}

// Literal returns the printf format string that prints the sentinel for id.
// The exit status placeholder is left for the shell to expand.
func (c *Codec) Literal(id uint64) string {
	return strings.Replace(c.literal, IDPlaceholder, EncodeID(id), 1)
}

// Pattern returns the compiled expression matching any emitted sentinel.
// Group 1 captures the encoded id and group 2 the exit status.
func (c *Codec) Pattern() *regexp.Regexp {
	return c.pattern
}

// MaxLen is an upper bound on the byte length of one sentinel on the wire.
func (c *Codec) MaxLen() int {
	return c.maxLen
}

// Match returns every non-overlapping sentinel in buf, left to right.
// Markers whose id group does not fit a uint64 are skipped.
func (c *Codec) Match(buf []byte) []Match {
	locs := c.pattern.FindAllSubmatchIndex(buf, -1)
	if len(locs) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(locs))
	for _, loc := range locs {
		id, err := DecodeID(string(buf[loc[2]:loc[3]]))
		if err != nil {
			continue
		}
		// At most three digits, so Atoi cannot fail.
		code, _ := strconv.Atoi(string(buf[loc[4]:loc[5]]))
		matches = append(matches, Match{
			ID:       id,
			ExitCode: code,
			Start:    loc[0],
			End:      loc[1],
		})
	}
	return matches
}
