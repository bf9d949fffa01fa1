// ABOUTME: Configuration loading and parsing for chatvault
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/2389/chatvault/internal/store"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chatvault configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds store location, encryption, and pool configuration
type DatabaseConfig struct {
	Path           string `yaml:"path"`
	InMemory       bool   `yaml:"in_memory"`
	EncryptionKey  string `yaml:"encryption_key"`
	MaxConnections int    `yaml:"max_connections"`

	BusyTimeout    time.Duration `yaml:"-"`
	AcquireTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	BusyTimeoutRaw    string `yaml:"busy_timeout"`
	AcquireTimeoutRaw string `yaml:"acquire_timeout"`
}

// CacheConfig holds read-cache tuning
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`

	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// BackupConfig holds the backup destination allow-list
type BackupConfig struct {
	AllowedDirs []string `yaml:"allowed_dirs"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, so the
// encryption key can live in the environment rather than on disk.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled: true,
			Size:    store.DefaultCacheSize,
			TTL:     store.DefaultCacheTTL,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" && !c.Database.InMemory {
		return fmt.Errorf("database.path is required (or set database.in_memory)")
	}
	if c.Database.Path != "" && c.Database.InMemory {
		return fmt.Errorf("database.path and database.in_memory are mutually exclusive")
	}
	if c.Database.Path != "" && c.Database.EncryptionKey == "" {
		return fmt.Errorf("database.encryption_key is required for a file-backed store")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Database.BusyTimeoutRaw != "" {
		cfg.Database.BusyTimeout, err = time.ParseDuration(cfg.Database.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Database.BusyTimeoutRaw, err)
		}
	}

	if cfg.Database.AcquireTimeoutRaw != "" {
		cfg.Database.AcquireTimeout, err = time.ParseDuration(cfg.Database.AcquireTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing acquire_timeout %q: %w", cfg.Database.AcquireTimeoutRaw, err)
		}
	}

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	return nil
}

// StoreConfig translates the file configuration into the store's config
// struct. A disabled cache maps to a zero TTL.
func (c *Config) StoreConfig() store.StoreConfig {
	ttl := c.Cache.TTL
	if !c.Cache.Enabled {
		ttl = 0
	}
	return store.StoreConfig{
		Location:          c.Database.Path,
		InMemory:          c.Database.InMemory,
		EncryptionKey:     c.Database.EncryptionKey,
		MaxConnections:    c.Database.MaxConnections,
		BusyTimeout:       c.Database.BusyTimeout,
		AcquireTimeout:    c.Database.AcquireTimeout,
		CacheTTL:          ttl,
		CacheSize:         c.Cache.Size,
		AllowedBackupDirs: c.Backup.AllowedDirs,
	}
}
