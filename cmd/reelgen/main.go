// Package main is the entry point for the reelgen application.
package main

import (
	"os"

	"github.com/reelgen/reelgen/cmd/reelgen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
