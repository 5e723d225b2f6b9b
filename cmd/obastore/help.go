package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `obastore - OID-indexed persistent object store

Usage:
  obastore <command> [options]

Commands:
  backup      Create database backup
  restore     Restore from backup
  stats       Show database statistics
  check       Verify database consistency
  config      Configuration management
  version     Show version information

Use "obastore <command> -h" for more information about a command.

Environment Variables:
  OBASTORE_STORAGE_PATH    Override the database file path
  OBASTORE_LOGGING_LEVEL   Override the log level
`)
}

// printBackupUsage prints the backup command usage.
func printBackupUsage(w io.Writer) {
	fmt.Fprint(w, `Create database backup

Usage:
  obastore backup [options]

Options:
  -config string
        Path to configuration file
  -path string
        Database file path (overrides config)
  -output string
        Output file path (required)
  -compress
        Compress backup file
  -h, -help
        Show this help message
`)
}

// printRestoreUsage prints the restore command usage.
func printRestoreUsage(w io.Writer) {
	fmt.Fprint(w, `Restore from backup

Usage:
  obastore restore [options]

Options:
  -config string
        Path to configuration file
  -input string
        Input backup file path (required)
  -path string
        Target database file path (overrides config)
  -verify
        Verify checksums before restore
  -force
        Replace an existing database file
  -h, -help
        Show this help message
`)
}

// printStatsUsage prints the stats command usage.
func printStatsUsage(w io.Writer) {
	fmt.Fprint(w, `Show database statistics

Usage:
  obastore stats [options]

Options:
  -config string
        Path to configuration file
  -path string
        Database file path (overrides config)
  -h, -help
        Show this help message
`)
}

// printCheckUsage prints the check command usage.
func printCheckUsage(w io.Writer) {
	fmt.Fprint(w, `Verify database consistency

Usage:
  obastore check [options]

Checks the allocator free lists, the meta record and the checksum of
every object record.

Options:
  -config string
        Path to configuration file
  -path string
        Database file path (overrides config)
  -h, -help
        Show this help message
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  obastore config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Generate default configuration
  show        Show effective configuration

Use "obastore config <subcommand> -h" for more information.
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  obastore version [options]

Options:
  -short
        Show only the version and the file format it writes
  -path string
        Also report the format, generation and page size of a database file
  -h, -help
        Show this help message
`)
}
