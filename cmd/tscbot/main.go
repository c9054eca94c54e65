// Command tscbot is the entry point for the FAQ customer-service bot.
// It provides a CLI (via Cobra) for serving the LINE webhook and JSON API,
// importing knowledge, and querying the retrieval engine from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/cynthiaiii4/TSCBot/cmd/tscbot/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
