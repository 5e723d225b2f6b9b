// Package config provides configuration parsing and management for obastore.
package config

// Config holds the complete obastore configuration.
type Config struct {
	Storage  StorageConfig   `yaml:"storage"`
	Segments []SegmentConfig `yaml:"segments,omitempty"`
	Logging  LogConfig       `yaml:"logging"`
}

// StorageConfig holds database file configuration.
type StorageConfig struct {
	Path                 string `yaml:"path"`
	PageSize             int    `yaml:"pageSize"`
	ReadOnly             bool   `yaml:"readOnly"`
	NoFlush              bool   `yaml:"noFlush"`
	Mmap                 bool   `yaml:"mmap"`
	CreateIfNotExists    bool   `yaml:"createIfNotExists"`
	EncryptionKeyFile    string `yaml:"encryptionKeyFile,omitempty"`
	LargeObjectThreshold Size   `yaml:"largeObjectThreshold"`
}

// SegmentConfig describes one allocator segment. Base and Size accept
// plain byte counts or suffixed sizes such as "64GB".
type SegmentConfig struct {
	Name    string `yaml:"name"`
	Base    Size   `yaml:"base"`
	Size    Size   `yaml:"size"`
	Quantum Size   `yaml:"quantum"`
	Large   bool   `yaml:"large,omitempty"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
