// Package main provides the entry point for the tendocs CLI.
package main

import (
	"os"

	"github.com/tendocs/tendocs/cmd/tendocs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
