// Package main provides the entry point for the correl8 CLI.
package main

import (
	"os"

	"github.com/correl8/correl8/cmd/correl8/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
