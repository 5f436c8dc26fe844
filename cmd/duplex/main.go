package main

import (
	"os"

	"duplex/cmd/duplex/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
