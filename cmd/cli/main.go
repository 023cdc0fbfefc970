// Package main is the entry point for the runbox CLI.
// The CLI is the developer terminal tool for interacting with the runbox API.
package main

import (
	"os"

	"runbox/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
