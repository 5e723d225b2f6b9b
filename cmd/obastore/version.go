package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/KilimcininKorOglu/obastore/internal/backup"
	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// Version information - these can be set at build time using ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// versionCmd handles the version command. With -path it also reports the
// format of an existing database file.
func versionCmd(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	short := fs.Bool("short", false, "Show only version and file format")
	path := fs.String("path", "", "Database file whose format to report")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printVersionUsage(os.Stdout)
		return 0
	}

	if *short {
		fmt.Printf("%s (format %d)\n", version, storage.CurrentVersion)
	} else {
		printVersion(os.Stdout)
	}

	if *path == "" {
		return 0
	}
	h, err := readFileHeader(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", *path, err)
		return 1
	}
	printFileFormat(os.Stdout, *path, h)
	return 0
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "obastore version %s\n", version)
	fmt.Fprintf(w, "  Commit:         %s\n", commit)
	fmt.Fprintf(w, "  Built:          %s\n", buildDate)
	fmt.Fprintf(w, "  File format:    %d\n", storage.CurrentVersion)
	fmt.Fprintf(w, "  Backup format:  %d\n", backup.BackupVersion)
	fmt.Fprintf(w, "  Go version:     %s\n", runtime.Version())
	fmt.Fprintf(w, "  OS/Arch:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// readFileHeader returns the newest valid header of the database at path
// without opening the database.
func readFileHeader(path string) (*storage.Header, error) {
	store, err := storage.OpenFileStore(path,
		storage.DefaultFileOptions().WithReadOnly(true).WithCreateIfNotExists(false))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	h, err := storage.ReadHeader(store)
	if errors.Is(err, storage.ErrUnsupportedVersion) {
		return nil, fmt.Errorf("written by a newer obastore: %w", err)
	}
	return h, err
}

func printFileFormat(w io.Writer, path string, h *storage.Header) {
	fmt.Fprintf(w, "\n%s\n", path)
	fmt.Fprintf(w, "  File format:    %d\n", h.Version)
	fmt.Fprintf(w, "  Generation:     %d\n", h.Generation)
	fmt.Fprintf(w, "  Page size:      %d\n", h.PageSize)
	fmt.Fprintf(w, "  Encrypted:      %v\n", h.Encrypted())
}
