// crosstalk relays short structured messages between AI coding agents.
package main

import (
	"os"

	"github.com/crosstalkhq/crosstalk/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
