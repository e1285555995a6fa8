// Package main is the entry point for the voxloop CLI.
//
// Usage:
//
//	voxloop [flags] <command> [subcommand] [args]
//
// Commands:
//
//	serve      - Run the session server
//	status     - Show engine status of a running server
//	sessions   - List, show and purge recorded sessions
//	voices     - List and sync persona voice artifacts
//	monitor    - Live terminal view of a running server
//	check      - Verify the local setup
//	config     - Manage the configuration file
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/voxloop/voxloop/cmd/voxloop/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
