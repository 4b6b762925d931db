package main

import "github.com/tatianab/story-loop/internal/cli"

func main() {
	cli.Execute()
}
