package main

import (
	"os"

	"pairline/cmd/pairline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
