package main

import (
	"os"

	"github.com/david/volunteer-match/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
