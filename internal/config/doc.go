// Package config handles configuration loading for chatvault.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables, which keeps the
// encryption key out of the file:
//
//	database:
//	  encryption_key: "${CHATVAULT_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	database:
//	  busy_timeout: "5s"
//	  acquire_timeout: "5s"
//	cache:
//	  ttl: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/chatvault/vault.db"
//	  encryption_key: "${CHATVAULT_KEY}"
//	  max_connections: 5
//	  busy_timeout: "5s"
//	  acquire_timeout: "5s"
//
// Cache:
//
//	cache:
//	  enabled: true
//	  ttl: "30s"
//	  size: 512
//
// Backup:
//
//	backup:
//	  allowed_dirs:
//	    - "/var/backups/chatvault"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/chatvault/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, err := store.Open(cfg.StoreConfig())
package config
