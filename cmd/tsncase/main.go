// Package main is the entry point for the tsncase command line tool.
package main

import (
	"os"

	"github.com/iti/tsncase/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
