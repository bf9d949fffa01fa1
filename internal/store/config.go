// ABOUTME: StoreConfig and its validation, including the encryption-key allow-list
// ABOUTME: The config arrives fully resolved; no env or CLI coupling lives here

package store

import (
	"regexp"
	"time"
)

// Defaults applied by StoreConfig.withDefaults. DefaultCacheTTL is the
// exception: a zero CacheTTL means "cache disabled", so the default is
// applied by the config loader for unset values, not here.
const (
	DefaultMaxConnections = 5
	DefaultBusyTimeout    = 5 * time.Second
	DefaultAcquireTimeout = 5 * time.Second
	DefaultCacheTTL       = 30 * time.Second
	DefaultCacheSize      = 512
)

// keyPattern is the allow-list for encryption keys. The key is interpolated
// into a session pragma, so anything outside this narrow character class
// (quotes, semicolons, whitespace, backslashes in particular) is rejected at
// Open time.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*_+=.\-]{8,256}$`)

// StoreConfig describes one physical store. Location and InMemory are
// mutually exclusive; file-backed stores require an encryption key.
type StoreConfig struct {
	// Location is the path of the database file. Empty iff InMemory is set.
	Location string

	// InMemory selects a private in-memory store, shared across the pool's
	// connections. Intended for tests.
	InMemory bool

	// EncryptionKey encrypts the store at rest. Required for file-backed
	// stores; optional for in-memory ones. Must match the key allow-list.
	EncryptionKey string

	// MaxConnections bounds the pool. Defaults to DefaultMaxConnections.
	MaxConnections int

	// BusyTimeout is how long a connection waits on a locked database
	// before a statement fails.
	BusyTimeout time.Duration

	// AcquireTimeout is how long Acquire blocks for a free connection
	// before failing with ErrPoolExhausted.
	AcquireTimeout time.Duration

	// CacheTTL is the lifetime of read-cache entries. Zero disables the
	// cache entirely.
	CacheTTL time.Duration

	// CacheSize bounds the read cache entry count (LRU eviction beyond it).
	CacheSize int

	// AllowedBackupDirs is the set of directories Backup may write into.
	// Empty defaults to the directory containing the store file.
	AllowedBackupDirs []string
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

// Validate checks the config before any connection is opened.
func (c StoreConfig) Validate() error {
	if c.InMemory && c.Location != "" {
		return validationErr("location and in-memory are mutually exclusive")
	}
	if !c.InMemory && c.Location == "" {
		return validationErr("location is required for a file-backed store")
	}
	if !c.InMemory && c.EncryptionKey == "" {
		return validationErr("encryption key is required for a file-backed store")
	}
	if c.EncryptionKey != "" && !keyPattern.MatchString(c.EncryptionKey) {
		return validationErr("encryption key contains disallowed characters or has invalid length")
	}
	return nil
}

func (c StoreConfig) encrypted() bool {
	return c.EncryptionKey != ""
}
