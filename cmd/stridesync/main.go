// Package main provides the CLI for the stridesync transit data sync.
package main

import (
	"os"

	"github.com/leapstack-labs/stridesync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
