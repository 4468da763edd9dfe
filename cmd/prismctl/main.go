// Package main is the entry point for the prismctl CLI.
//
// Usage:
//
//	prismctl [flags] <command> [args]
//
// Commands:
//
//	units     - List the registered units and their frequencies
//	invoke    - Send one wavefront to a local or remote unit
//	validate  - Check spectrum documents
//	serve     - Expose the registered units over websocket links
package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/prismmesh/cmd/prismctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
