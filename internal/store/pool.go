// ABOUTME: Bounded pool of identically-initialized encrypted SQLite connections
// ABOUTME: Applies key + cipher pragmas on every raw connection via a ConnectHook

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

// poolSeq disambiguates driver registrations: database/sql panics on
// duplicate names, and each pool needs its own ConnectHook closure.
var poolSeq atomic.Int64

// Pool owns the bounded set of live connections to one physical store. It is
// the only component permitted to create raw connections; repositories and
// the transaction executor always go through Acquire.
type Pool struct {
	db             *sql.DB
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// newPool opens the database and verifies the first connection, which
// exercises the full pragma sequence including the encryption handshake.
// A bad key fails here, fast — there is no fallback to an unencrypted store.
func newPool(cfg StoreConfig, logger *slog.Logger) (*Pool, error) {
	dsn, err := dataSourceName(cfg)
	if err != nil {
		return nil, err
	}

	pragmas := sessionPragmas(cfg)
	driverName := fmt.Sprintf("chatvault_sqlite_%d", poolSeq.Add(1))
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// A connection that fails any pragma is discarded by the
			// driver and never enters the pool.
			for _, pragma := range pragmas {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("initializing connection: %w", err)
				}
			}
			return nil
		},
	})

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, wrapErr(ErrConnectionFailed, "opening store", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(0)

	// Reading sqlite_master forces the cipher handshake: with a wrong key
	// the header is garbage and this fails.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout+cfg.AcquireTimeout)
	defer cancel()
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		db.Close()
		return nil, wrapErr(ErrConnectionFailed, "verifying store access", err)
	}

	logger.Info("connection pool ready",
		"max_connections", cfg.MaxConnections,
		"encrypted", cfg.encrypted(),
		"in_memory", cfg.InMemory,
	)
	return &Pool{
		db:             db,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
	}, nil
}

// dataSourceName builds the DSN for the configured location. In-memory
// stores use a uniquely named shared-cache database so every pooled
// connection sees the same data.
func dataSourceName(cfg StoreConfig) (string, error) {
	if cfg.InMemory {
		return fmt.Sprintf("file:chatvault_mem_%d?mode=memory&cache=shared", poolSeq.Add(1)), nil
	}
	dir := filepath.Dir(cfg.Location)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", wrapErr(ErrIO, "creating store directory", err)
	}
	return cfg.Location, nil
}

// sessionPragmas is the ordered initialization sequence applied to every
// connection. The key pragma must run first: SQLCipher cannot read the file
// header (and thus cannot switch journal modes) until the key is applied.
func sessionPragmas(cfg StoreConfig) []string {
	var pragmas []string
	if cfg.encrypted() {
		pragmas = append(pragmas,
			// Key charset is allow-listed by StoreConfig.Validate, so the
			// interpolation below cannot escape the literal.
			fmt.Sprintf("PRAGMA key = '%s'", cfg.EncryptionKey),
			"PRAGMA cipher_page_size = 4096",
			"PRAGMA kdf_iter = 256000",
			"PRAGMA cipher_hmac_algorithm = HMAC_SHA512",
		)
	}
	pragmas = append(pragmas,
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -8000",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
	)
	return pragmas
}

// Acquire blocks until a connection is free, up to the configured wait
// bound, then fails with ErrPoolExhausted rather than growing the pool.
// The returned connection must be released with Close on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, wrapErr(ErrPoolExhausted, "acquiring connection", nil)
		}
		return nil, wrapErr(ErrConnectionFailed, "acquiring connection", err)
	}
	return conn, nil
}

// withConn runs fn with a pooled connection, releasing it on every exit path.
func (p *Pool) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// Close shuts the pool down and closes all idle connections.
func (p *Pool) Close() error {
	p.logger.Info("closing connection pool")
	return p.db.Close()
}
