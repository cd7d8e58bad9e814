// Package escape converts text for delivery into a multiplexed shell and
// for matching that same text when it comes back out of the session log.
package escape

import (
	"regexp"
	"strings"
)

// sendReplacer applies screen "stuff" escaping for a string that will be
// wrapped in single quotes and handed to sh -c. Replacer rewrites each input
// byte once, so escapes it emits are never escaped again.
var sendReplacer = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	"\b", `\b`,
	`'`, `'"'"'`,
	`$`, `\$`,
)

// Send returns text in the form screen's stuff command reproduces byte for
// byte when the result sits inside a single-quoted shell argument.
func Send(text string) string {
	return sendReplacer.Replace(text)
}

// lineEndings matches any single line-ending sequence.
var lineEndings = regexp.MustCompile("\r\n|\r|\n")

// CRLF is the line ending a tty with onlcr writes to the session log.
const CRLF = "\r\n"

// Normalize rewrites every line-ending sequence in text as CRLF.
func Normalize(text string) string {
	return lineEndings.ReplaceAllLiteralString(text, CRLF)
}

// Pattern returns a regular expression fragment matching text as it appears
// in session output: line endings normalized to CRLF, metacharacters quoted.
func Pattern(text string) string {
	return regexp.QuoteMeta(Normalize(text))
}
