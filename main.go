package main

import (
	"os"

	"github.com/setlist-architect/mcp-console-host/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
