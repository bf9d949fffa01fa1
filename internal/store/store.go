// ABOUTME: Store facade and domain types for the conversation store
// ABOUTME: Open wires pool, schema, cache, and repositories over one encrypted file

package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// timeLayout is the persisted timestamp format. Nanosecond precision keeps
// distinct rapid inserts distinguishable; ordering queries still tie-break
// on the integer id.
const timeLayout = time.RFC3339Nano

// Role is the closed enumeration of message authors.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Conversation is a titled sequence of messages, optionally linked to a
// persona by a weak reference. MessageCount and TotalTokens are denormalized
// aggregates recomputed inside every transaction that mutates the
// conversation's messages.
type Conversation struct {
	ID           int64
	UUID         string
	Title        string
	PersonaID    *int64
	Archived     bool
	MessageCount int
	TotalTokens  int
	Tags         []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message belongs to exactly one conversation. It is immutable once created
// except for metadata backfill (token count and model arriving after an
// asynchronous completion).
type Message struct {
	ID             int64
	UUID           string
	ConversationID int64
	Role           Role
	Content        string
	TokenCount     *int
	Model          *string
	CreatedAt      time.Time
}

// Persona is an independent entity; conversations reference it weakly and
// deleting a persona never deletes conversations.
type Persona struct {
	ID           int64
	UUID         string
	Name         string
	Description  string
	SystemPrompt string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stats holds aggregate store counts, used by the admin CLI.
type Stats struct {
	Conversations int
	Messages      int
	Personas      int
}

// Store is the public entry point to the subsystem. It is safe for
// concurrent use by any number of callers; the connection pool is the sole
// synchronization point.
type Store struct {
	cfg    StoreConfig
	pool   *Pool
	cache  *queryCache
	logger *slog.Logger

	Conversations *ConversationRepo
	Messages      *MessageRepo
	Personas      *PersonaRepo
}

// Open validates the config, brings up the encrypted connection pool, and
// runs the schema manager. Any failure leaves nothing behind to close; the
// store never serves operations against a partially-initialized schema.
func Open(cfg StoreConfig) (*Store, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "store")
	pool, err := newPool(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:    cfg,
		pool:   pool,
		cache:  newQueryCache(cfg.CacheTTL, cfg.CacheSize),
		logger: logger,
	}
	s.Conversations = &ConversationRepo{s: s}
	s.Messages = &MessageRepo{s: s}
	s.Personas = &PersonaRepo{s: s}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout+cfg.AcquireTimeout)
	defer cancel()
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, wrapErr(ErrConnectionFailed, "initializing schema", err)
	}

	logger.Info("store opened", "in_memory", cfg.InMemory)
	return s, nil
}

// Close releases the pool. The store must not be used afterwards.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Stats returns row counts for the three canonical tables.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.withConn(ctx, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
			return err
		}
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
			return err
		}
		return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM personas`).Scan(&st.Personas)
	})
	if err != nil {
		return nil, wrapErr(ErrIO, "reading store stats", err)
	}
	return &st, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
