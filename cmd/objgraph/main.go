package main

import (
	"os"

	"github.com/conduit-lang/objgraph/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
