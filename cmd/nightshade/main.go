package main

import (
	"os"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
