// Package main provides the execsrc CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/execsrc/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
