package main

import (
	"os"

	"github.com/vaultlabs/share-vault/src/vaultctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
