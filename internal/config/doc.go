// Package config provides configuration parsing and validation for obastore.
//
// # Overview
//
// The config package loads obastore settings from YAML files and
// environment variables. It supports:
//
//   - YAML configuration files decoded with gopkg.in/yaml.v3
//   - ${VAR} and ${VAR:-default} substitution inside the file
//   - OBASTORE_STORAGE_PATH and OBASTORE_LOGGING_LEVEL overrides
//   - Default values for all settings
//   - Configuration validation
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/obastore/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    log.Fatal(errs[0])
//	}
//	db, err := engine.Open(cfg.Storage.Path, cfg.EngineOptions(logger))
//
// # Example Configuration
//
//	storage:
//	  path: "${OBASTORE_DATA:-/var/lib/obastore}/data.obs"
//	  pageSize: 4096
//	  createIfNotExists: true
//	  encryptionKeyFile: "/etc/obastore/key"
//	  largeObjectThreshold: 64KB
//
//	segments:
//	  - name: default
//	    base: 4KB
//	    size: 63GB
//	    quantum: 16
//	  - name: large
//	    base: 64GB
//	    size: 1TB
//	    quantum: 4KB
//	    large: true
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stderr"
//
// Sizes accept plain byte counts or B, KB, MB, GB and TB suffixes.
//
// Setting storage.mmap serves reads from a memory mapping of the file and
// is only valid together with storage.readOnly. The obastore stats, check
// and backup commands always open read-only, so mmap applies to them as is.
package config
