package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/KilimcininKorOglu/obastore/internal/backup"
	"github.com/KilimcininKorOglu/obastore/internal/config"
	"github.com/KilimcininKorOglu/obastore/internal/logging"
	"github.com/KilimcininKorOglu/obastore/internal/storage/engine"
)

// loadConfig reads the configuration file, or the defaults when none is
// given, and applies a non-empty path override.
func loadConfig(configFile, path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadConfig(configFile)
	} else {
		cfg, err = config.ParseConfig(nil)
	}
	if err != nil {
		return nil, err
	}
	if path != "" {
		cfg.Storage.Path = path
	}
	return cfg, nil
}

// openDatabase validates cfg and opens the database it describes. Read-only
// opens never create the file.
func openDatabase(cfg *config.Config, readOnly bool) (*engine.DB, logging.Logger, error) {
	if readOnly {
		cfg.Storage.ReadOnly = true
		cfg.Storage.CreateIfNotExists = false
	}
	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	logger := logging.New(cfg.LoggerConfig())
	opts := cfg.EngineOptions(logger)

	db, err := engine.Open(cfg.Storage.Path, opts)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return db, logger, nil
}

// closeDatabase closes db and flushes the logger, reporting failures.
func closeDatabase(db *engine.DB, logger logging.Logger) {
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
	}
	logger.Sync()
}

// backupCmd handles the backup command.
func backupCmd(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	path := fs.String("path", "", "Database file path (overrides config)")
	output := fs.String("output", "", "Output file path")
	compress := fs.Bool("compress", false, "Compress backup file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printBackupUsage(os.Stdout)
		return 0
	}

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -output is required")
		return 1
	}

	cfg, err := loadConfig(*configFile, *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	db, logger, err := openDatabase(cfg, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return 1
	}
	defer closeDatabase(db, logger)

	fmt.Printf("Creating backup...\n")
	fmt.Printf("  Database:   %s\n", cfg.Storage.Path)
	fmt.Printf("  Output:     %s\n", *output)
	fmt.Printf("  Compress:   %v\n", *compress)
	fmt.Printf("  Generation: %d\n", db.Generation())

	stats, err := db.BackupToFile(*output, backup.Options{Compress: *compress})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backup failed: %v\n", err)
		return 1
	}

	fmt.Printf("\nBackup completed successfully!\n")
	fmt.Printf("  Total pages: %d\n", stats.TotalPages)
	fmt.Printf("  Total bytes: %d\n", stats.TotalBytes)
	if *compress && stats.CompressedBytes > 0 {
		fmt.Printf("  Compressed:  %d (%.1f%% reduction)\n", stats.CompressedBytes, stats.CompressionRatio()*100)
	}
	fmt.Printf("  Checksum:    %08x\n", stats.Checksum)
	fmt.Printf("  Duration:    %v\n", stats.Duration.Round(time.Millisecond))

	return 0
}

// restoreCmd handles the restore command.
func restoreCmd(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	input := fs.String("input", "", "Input backup file path")
	path := fs.String("path", "", "Target database file path (overrides config)")
	verify := fs.Bool("verify", false, "Verify checksums before restore")
	force := fs.Bool("force", false, "Replace an existing database file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printRestoreUsage(os.Stdout)
		return 0
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input is required")
		return 1
	}

	cfg, err := loadConfig(*configFile, *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	fmt.Printf("Restoring from backup...\n")
	fmt.Printf("  Input:    %s\n", *input)
	fmt.Printf("  Database: %s\n", cfg.Storage.Path)
	fmt.Printf("  Verify:   %v\n", *verify)

	stats, err := backup.RestoreToFile(*input, cfg.Storage.Path, backup.RestoreOptions{
		Verify:    *verify,
		Overwrite: *force,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Restore failed: %v\n", err)
		return 1
	}

	fmt.Printf("\nRestore completed successfully!\n")
	fmt.Printf("  Total pages: %d\n", stats.TotalPages)
	fmt.Printf("  Total bytes: %d\n", stats.TotalBytes)
	fmt.Printf("  Duration:    %v\n", stats.Duration.Round(time.Millisecond))

	return 0
}

// statsCmd handles the stats command.
func statsCmd(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	path := fs.String("path", "", "Database file path (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printStatsUsage(os.Stdout)
		return 0
	}

	cfg, err := loadConfig(*configFile, *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	db, logger, err := openDatabase(cfg, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return 1
	}
	defer closeDatabase(db, logger)

	stats, err := db.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
		return 1
	}

	printStats(os.Stdout, cfg.Storage.Path, stats, db.Roots())
	return 0
}

func printStats(w io.Writer, path string, stats *engine.Stats, roots []string) {
	fmt.Fprintf(w, "Database:    %s\n", path)
	fmt.Fprintf(w, "  ID:          %s\n", stats.DatabaseID)
	fmt.Fprintf(w, "  Generation:  %d\n", stats.Generation)
	fmt.Fprintf(w, "  Page size:   %d\n", stats.PageSize)
	fmt.Fprintf(w, "  Encrypted:   %v\n", stats.Encrypted)
	fmt.Fprintf(w, "  File size:   %d\n", stats.StoreLength)
	fmt.Fprintf(w, "  Objects:     %d\n", stats.Objects)
	fmt.Fprintf(w, "  Roots:       %d\n", stats.Roots)
	for _, name := range roots {
		fmt.Fprintf(w, "    - %s\n", name)
	}

	fmt.Fprintln(w, "\nSegments:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tBASE\tSIZE\tUSED\tFREE\tFREE RUNS")
	for _, s := range stats.Segments {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%d\n",
			s.Name, s.Base, s.Size, s.UsedBytes, s.FreeBytes, s.FreeRuns)
	}
	tw.Flush()
}

// checkCmd handles the check command.
func checkCmd(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	path := fs.String("path", "", "Database file path (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printCheckUsage(os.Stdout)
		return 0
	}

	cfg, err := loadConfig(*configFile, *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	db, logger, err := openDatabase(cfg, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return 1
	}
	defer closeDatabase(db, logger)

	if err := db.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
		return 1
	}

	fmt.Printf("Database %s is consistent (generation %d, %d objects)\n",
		cfg.Storage.Path, db.Generation(), db.Table().Len())
	return 0
}
