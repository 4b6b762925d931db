package main

import (
	"fmt"
	"os"

	"github.com/tatianab/story-loop/internal/cli"
)

func main() {
	cmd := cli.NewPlayCommand()
	cmd.Use = "game"
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
