package main

import (
	"os"

	"github.com/nicktill/tinywatch/cmd/watcherd/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
