// muxsh drives a shell inside a terminal multiplexer and reports when each
// command finishes.
package main

import (
	"os"

	"github.com/steveyegge/muxsh/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
