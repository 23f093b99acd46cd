package main

import (
	"os"

	"github.com/omochice/toy-private-chat/cmd/client/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
