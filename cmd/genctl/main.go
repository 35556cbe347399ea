package main

import (
	"os"

	"github.com/psantana5/gentrack/cmd/genctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
