// Package main provides the entry point for the trirank CLI.
package main

import (
	"os"

	"github.com/trirank/trirank/cmd/trirank/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
