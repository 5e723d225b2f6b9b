package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateStorageConfig(&config.Storage)...)
	errs = append(errs, validateSegments(config.Segments, config.Storage.PageSize)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

func validateStorageConfig(config *StorageConfig) []error {
	var errs []error

	if config.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "database path is required",
		})
	}

	if config.PageSize != 0 && !storage.ValidPageSize(config.PageSize) {
		errs = append(errs, ValidationError{
			Field: "storage.pageSize",
			Message: fmt.Sprintf("must be a power of two between %d and %d",
				storage.MinPageSize, storage.MaxPageSize),
		})
	}

	if config.EncryptionKeyFile != "" {
		if _, err := os.Stat(config.EncryptionKeyFile); err != nil {
			errs = append(errs, ValidationError{
				Field:   "storage.encryptionKeyFile",
				Message: fmt.Sprintf("cannot read key file: %v", err),
			})
		}
	}

	if config.Mmap && !config.ReadOnly {
		errs = append(errs, ValidationError{
			Field:   "storage.mmap",
			Message: "requires readOnly",
		})
	}

	return errs
}

func validateSegments(segs []SegmentConfig, pageSize int) []error {
	var errs []error
	if pageSize == 0 {
		pageSize = storage.DefaultPageSize
	}

	if len(segs) > storage.MaxSegments {
		errs = append(errs, ValidationError{
			Field:   "segments",
			Message: fmt.Sprintf("at most %d segments are supported", storage.MaxSegments),
		})
	}

	seen := make(map[string]bool, len(segs))
	for i, seg := range segs {
		field := fmt.Sprintf("segments[%d]", i)

		switch {
		case seg.Name == "":
			errs = append(errs, ValidationError{Field: field + ".name", Message: "name is required"})
		case len(seg.Name) > storage.MaxSegmentName:
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("longer than %d bytes", storage.MaxSegmentName),
			})
		case seen[seg.Name]:
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate segment %q", seg.Name),
			})
		}
		seen[seg.Name] = true

		if seg.Base < Size(pageSize) {
			errs = append(errs, ValidationError{
				Field:   field + ".base",
				Message: fmt.Sprintf("must not overlap the header page (minimum %d)", pageSize),
			})
		}
		if seg.Size == 0 {
			errs = append(errs, ValidationError{Field: field + ".size", Message: "must be positive"})
		} else if seg.Base+seg.Size < seg.Base {
			errs = append(errs, ValidationError{Field: field + ".size", Message: "segment wraps the address space"})
		}
		if seg.Quantum == 0 || seg.Quantum > 1<<32-1 {
			errs = append(errs, ValidationError{
				Field:   field + ".quantum",
				Message: "must be between 1 and 4GB-1",
			})
		}
	}

	errs = append(errs, validateOverlaps(segs)...)
	return errs
}

func validateOverlaps(segs []SegmentConfig) []error {
	sorted := make([]SegmentConfig, 0, len(segs))
	for _, s := range segs {
		if s.Size > 0 {
			sorted = append(sorted, s)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	var errs []error
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Base+prev.Size > cur.Base {
			errs = append(errs, ValidationError{
				Field:   "segments",
				Message: fmt.Sprintf("segment %q overlaps %q", cur.Name, prev.Name),
			})
		}
	}
	return errs
}

func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}
