// Package logging provides structured logging for obastore.
//
// # Overview
//
// The Logger interface is a small key-value logging surface backed by
// go.uber.org/zap:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Console and JSON output formats
//   - Named component loggers
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/obastore/obastore.log",
//	})
//	defer logger.Sync()
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stdout
//
// Libraries default to a no-op logger:
//
//	logger := logging.NewNop()
//
// # Structured Fields
//
// Key-value pairs follow the message:
//
//	logger.Info("commit", "generation", 12, "objects", 340)
//
// Component loggers carry a name and fixed fields:
//
//	segLogger := logger.Named("alloc").WithFields("segment", "default")
package logging
