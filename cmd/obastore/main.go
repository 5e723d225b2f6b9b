// Package main provides the entry point for the obastore command line tool.
package main

import (
	"fmt"
	"os"
)

// commands maps each subcommand to its handler. Handlers receive the
// arguments after the subcommand name and return an exit code.
var commands = map[string]func(args []string) int{
	"backup":  backupCmd,
	"restore": restoreCmd,
	"stats":   statsCmd,
	"check":   checkCmd,
	"config":  configCmd,
	"version": versionCmd,
}

func main() {
	os.Exit(run(os.Args))
}

// run executes the CLI and returns an exit code.
func run(args []string) int {
	if len(args) < 2 {
		printUsage(os.Stdout)
		return 1
	}

	name := args[1]
	switch name {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		fmt.Fprintln(os.Stderr, "Run 'obastore help' for usage.")
		return 1
	}
	return cmd(args[2:])
}
