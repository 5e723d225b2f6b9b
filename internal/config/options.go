package config

import (
	"github.com/KilimcininKorOglu/obastore/internal/logging"
	"github.com/KilimcininKorOglu/obastore/internal/storage/alloc"
	"github.com/KilimcininKorOglu/obastore/internal/storage/engine"
)

// EngineOptions converts the storage and segment sections into database
// options. A nil logger selects a no-op logger.
func (c *Config) EngineOptions(logger logging.Logger) engine.Options {
	opts := engine.DefaultOptions().
		WithPageSize(c.Storage.PageSize).
		WithReadOnly(c.Storage.ReadOnly).
		WithNoFlush(c.Storage.NoFlush).
		WithMmap(c.Storage.Mmap).
		WithCreateIfNotExists(c.Storage.CreateIfNotExists).
		WithLargeObjectThreshold(int(c.Storage.LargeObjectThreshold)).
		WithEncryptionKeyFile(c.Storage.EncryptionKeyFile).
		WithLogger(logger)

	if len(c.Segments) > 0 {
		segs := make([]alloc.SegmentConfig, len(c.Segments))
		for i, s := range c.Segments {
			segs[i] = alloc.SegmentConfig{
				Name:    s.Name,
				Base:    uint64(s.Base),
				Size:    uint64(s.Size),
				Quantum: uint32(s.Quantum),
				Large:   s.Large,
			}
		}
		opts = opts.WithSegments(segs...)
	}
	return opts
}

// FromSegments renders allocator segment configurations as configuration
// entries.
func FromSegments(segs []alloc.SegmentConfig) []SegmentConfig {
	out := make([]SegmentConfig, len(segs))
	for i, s := range segs {
		out[i] = SegmentConfig{
			Name:    s.Name,
			Base:    Size(s.Base),
			Size:    Size(s.Size),
			Quantum: Size(s.Quantum),
			Large:   s.Large,
		}
	}
	return out
}

// LoggerConfig returns the logging section in the form logging.New expects.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}
