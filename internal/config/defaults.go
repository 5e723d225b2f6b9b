package config

import (
	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/object"
)

// DefaultConfig returns a Config with sensible default values. Segments
// are left empty, which selects the engine's default layout.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:                 "/var/lib/obastore/data.obs",
			PageSize:             storage.DefaultPageSize,
			ReadOnly:             false,
			NoFlush:              false,
			Mmap:                 false,
			CreateIfNotExists:    true,
			EncryptionKeyFile:    "",
			LargeObjectThreshold: Size(object.DefaultLargeObjectThreshold),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
