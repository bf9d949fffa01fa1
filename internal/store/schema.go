// ABOUTME: Schema manager: idempotent DDL for canonical tables, indices, and FTS5
// ABOUTME: Sync triggers keep the full-text index in the same transaction as writes

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS personas (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid          TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		active        INTEGER NOT NULL DEFAULT 1,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_personas_active ON personas(active);

	CREATE TABLE IF NOT EXISTS conversations (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid          TEXT NOT NULL UNIQUE,
		title         TEXT NOT NULL,
		persona_id    INTEGER REFERENCES personas(id) ON DELETE SET NULL,
		archived      INTEGER NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		total_tokens  INTEGER NOT NULL DEFAULT 0,
		tags          TEXT NOT NULL DEFAULT '[]',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_updated
		ON conversations(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_archived
		ON conversations(archived, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_persona
		ON conversations(persona_id);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid            TEXT NOT NULL UNIQUE,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
		content         TEXT NOT NULL,
		token_count     INTEGER,
		model           TEXT,
		created_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at);

	CREATE VIRTUAL TABLE IF NOT EXISTS conversations_fts USING fts5(
		title,
		content='conversations',
		content_rowid='id',
		tokenize='porter unicode61'
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		content='messages',
		content_rowid='id',
		tokenize='porter unicode61'
	);
`

// ftsTriggers propagate canonical-table mutations to the external-content
// FTS tables. Because triggers run inside the mutating transaction, the
// index can never diverge from a committed row. The message update trigger
// fires only on content changes so metadata backfill doesn't churn the index.
const ftsTriggers = `
	CREATE TRIGGER conv_fts_insert AFTER INSERT ON conversations BEGIN
		INSERT INTO conversations_fts(rowid, title) VALUES (new.id, new.title);
	END;

	CREATE TRIGGER conv_fts_delete AFTER DELETE ON conversations BEGIN
		INSERT INTO conversations_fts(conversations_fts, rowid, title)
		VALUES ('delete', old.id, old.title);
	END;

	CREATE TRIGGER conv_fts_update AFTER UPDATE OF title ON conversations BEGIN
		INSERT INTO conversations_fts(conversations_fts, rowid, title)
		VALUES ('delete', old.id, old.title);
		INSERT INTO conversations_fts(rowid, title) VALUES (new.id, new.title);
	END;

	CREATE TRIGGER msg_fts_insert AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TRIGGER msg_fts_delete AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content)
		VALUES ('delete', old.id, old.content);
	END;

	CREATE TRIGGER msg_fts_update AFTER UPDATE OF content ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content)
		VALUES ('delete', old.id, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
	END;
`

// createSchema runs the full DDL once per Open, inside one transaction.
// Everything is IF-NOT-EXISTS (triggers guarded by a sqlite_master probe),
// so reopening an existing store is a no-op. Failure here is fatal to Open.
func (s *Store) createSchema(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}

		var name string
		err := tx.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'trigger' AND name = 'conv_fts_insert'`,
		).Scan(&name)
		if err == sql.ErrNoRows {
			if _, err := tx.ExecContext(ctx, ftsTriggers); err != nil {
				return fmt.Errorf("creating fts triggers: %w", err)
			}
			return nil
		}
		return err
	})
}
