package main

import (
	"os"

	"github.com/dkeye/peercall/cmd/peer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
