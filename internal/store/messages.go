// ABOUTME: Message repository: append, batch import, metadata backfill, listing
// ABOUTME: Recomputes conversation aggregates inside every mutating transaction

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// maxContentLen bounds a single message body at 1 MiB.
const maxContentLen = 1 << 20

// NewMessage holds the caller-supplied fields for Create and CreateBatch.
// UUID is optional: import paths that must preserve identifiers from another
// store may supply one; everyone else leaves it empty and gets a fresh one.
type NewMessage struct {
	ConversationID int64
	Role           Role
	Content        string
	TokenCount     *int
	Model          *string
	UUID           string
}

// MessageMetadata carries the backfill fields that arrive after an
// asynchronous completion finishes.
type MessageMetadata struct {
	TokenCount *int
	Model      *string
}

// ListMessages pages a conversation's messages in insertion order.
type ListMessages struct {
	ConversationID int64
	Offset         int
	Limit          int
}

// MessagePage is one page of messages plus the conversation's total.
type MessagePage struct {
	Items      []*Message
	TotalCount int
}

// MessageRepo implements message persistence.
type MessageRepo struct {
	s *Store
}

func (p NewMessage) validate() error {
	if !p.Role.valid() {
		return validationErr("role must be one of user, assistant, system")
	}
	if p.Content == "" {
		return validationErr("content cannot be empty")
	}
	if len(p.Content) > maxContentLen {
		return validationErr("content exceeds %d bytes", maxContentLen)
	}
	if p.TokenCount != nil && *p.TokenCount < 0 {
		return validationErr("token count cannot be negative")
	}
	return nil
}

// Create appends one message to a conversation and recomputes the parent's
// denormalized aggregates, all in one transaction. A nonexistent conversation
// yields ErrConstraint.
func (r *MessageRepo) Create(ctx context.Context, p NewMessage) (*Message, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	msg := &Message{
		UUID:           p.UUID,
		ConversationID: p.ConversationID,
		Role:           p.Role,
		Content:        p.Content,
		TokenCount:     p.TokenCount,
		Model:          p.Model,
		CreatedAt:      nowUTC(),
	}
	if msg.UUID == "" {
		msg.UUID = uuid.NewString()
	}

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := insertMessage(ctx, tx, msg)
		if err != nil {
			return err
		}
		msg.ID = id
		return refreshConversationAggregates(ctx, tx, msg.ConversationID)
	})
	if err != nil {
		return nil, err
	}

	r.s.cache.invalidate(nsMessage, nsConversation)
	r.s.logger.Debug("created message",
		"id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return msg, nil
}

// CreateBatch appends many messages atomically: either every message lands
// and the aggregates reflect all of them, or nothing changes. A single
// prepared statement is reused across the batch.
func (r *MessageRepo) CreateBatch(ctx context.Context, batch []NewMessage) ([]*Message, error) {
	if len(batch) == 0 {
		return []*Message{}, nil
	}
	for i := range batch {
		if err := batch[i].validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}

	msgs := make([]*Message, len(batch))
	touched := map[int64]bool{}
	for i, p := range batch {
		msgs[i] = &Message{
			UUID:           p.UUID,
			ConversationID: p.ConversationID,
			Role:           p.Role,
			Content:        p.Content,
			TokenCount:     p.TokenCount,
			Model:          p.Model,
			CreatedAt:      nowUTC(),
		}
		if msgs[i].UUID == "" {
			msgs[i].UUID = uuid.NewString()
		}
		touched[p.ConversationID] = true
	}

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (uuid, conversation_id, role, content, token_count, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing batch insert: %w", err)
		}
		defer stmt.Close()

		for i, msg := range msgs {
			res, err := stmt.ExecContext(ctx, msg.UUID, msg.ConversationID,
				string(msg.Role), msg.Content, msg.TokenCount, msg.Model,
				formatTime(msg.CreatedAt))
			if err != nil {
				if isConstraintViolation(err) {
					return wrapErr(ErrConstraint, fmt.Sprintf("inserting message %d of batch", i), err)
				}
				return fmt.Errorf("inserting message %d of batch: %w", i, err)
			}
			if msg.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}

		for convID := range touched {
			if err := refreshConversationAggregates(ctx, tx, convID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.s.cache.invalidate(nsMessage, nsConversation)
	r.s.logger.Debug("created message batch", "count", len(msgs))
	return msgs, nil
}

const messageColumns = `id, uuid, conversation_id, role, content, token_count, model, created_at`

// FindByID retrieves one message. Returns ErrNotFound when no row exists.
func (r *MessageRepo) FindByID(ctx context.Context, id int64) (*Message, error) {
	key := fmt.Sprintf("%sfind:%d", nsMessage, id)
	v, err := cached(r.s.cache, key, r.s.cfg.CacheTTL, func() (Message, error) {
		var msg Message
		err := r.s.pool.withConn(ctx, func(conn *sql.Conn) error {
			row := conn.QueryRowContext(ctx,
				`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
			return scanMessage(row, &msg)
		})
		return msg, err
	})
	if err != nil {
		return nil, err
	}
	out := v
	return &out, nil
}

// List returns a page of a conversation's messages in insertion order plus
// the conversation's total message count. An unknown conversation id yields
// an empty page, not an error.
func (r *MessageRepo) List(ctx context.Context, p ListMessages) (*MessagePage, error) {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	key := fmt.Sprintf("%slist:%d:%d:%d", nsMessage, p.ConversationID, p.Offset, p.Limit)
	return cached(r.s.cache, key, r.s.cfg.CacheTTL, func() (*MessagePage, error) {
		page := &MessagePage{Items: []*Message{}}
		err := r.s.pool.withConn(ctx, func(conn *sql.Conn) error {
			if err := conn.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, p.ConversationID,
			).Scan(&page.TotalCount); err != nil {
				return fmt.Errorf("counting messages: %w", err)
			}

			rows, err := conn.QueryContext(ctx, `
				SELECT `+messageColumns+` FROM messages
				WHERE conversation_id = ?
				ORDER BY id ASC
				LIMIT ? OFFSET ?
			`, p.ConversationID, p.Limit, p.Offset)
			if err != nil {
				return fmt.Errorf("querying messages: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var msg Message
				if err := scanMessage(rows, &msg); err != nil {
					return err
				}
				page.Items = append(page.Items, &msg)
			}
			return rows.Err()
		})
		if err != nil {
			return nil, err
		}
		return page, nil
	})
}

// UpdateMetadata backfills token count and model on an existing message and
// brings the conversation's token aggregate up to date in the same
// transaction. Content and role are immutable; there is deliberately no way
// to change them here.
func (r *MessageRepo) UpdateMetadata(ctx context.Context, id int64, meta MessageMetadata) error {
	if meta.TokenCount == nil && meta.Model == nil {
		return validationErr("metadata update requires at least one field")
	}
	if meta.TokenCount != nil && *meta.TokenCount < 0 {
		return validationErr("token count cannot be negative")
	}

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var convID int64
		err := tx.QueryRowContext(ctx,
			`SELECT conversation_id FROM messages WHERE id = ?`, id).Scan(&convID)
		if err == sql.ErrNoRows {
			return wrapErr(ErrNotFound, "updating message metadata", nil)
		}
		if err != nil {
			return fmt.Errorf("loading message: %w", err)
		}

		if meta.TokenCount != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET token_count = ? WHERE id = ?`, *meta.TokenCount, id); err != nil {
				return fmt.Errorf("updating token count: %w", err)
			}
		}
		if meta.Model != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET model = ? WHERE id = ?`, *meta.Model, id); err != nil {
				return fmt.Errorf("updating model: %w", err)
			}
		}
		return refreshConversationAggregates(ctx, tx, convID)
	})
	if err != nil {
		return err
	}

	r.s.cache.invalidate(nsMessage, nsConversation)
	return nil
}

// Delete removes one message and recomputes the parent's aggregates.
func (r *MessageRepo) Delete(ctx context.Context, id int64) error {
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var convID int64
		err := tx.QueryRowContext(ctx,
			`SELECT conversation_id FROM messages WHERE id = ?`, id).Scan(&convID)
		if err == sql.ErrNoRows {
			return wrapErr(ErrNotFound, "deleting message", nil)
		}
		if err != nil {
			return fmt.Errorf("loading message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting message: %w", err)
		}
		return refreshConversationAggregates(ctx, tx, convID)
	})
	if err != nil {
		return err
	}

	r.s.cache.invalidate(nsMessage, nsConversation)
	r.s.logger.Debug("deleted message", "id", id)
	return nil
}

// insertMessage writes one message row within tx and returns its new id.
func insertMessage(ctx context.Context, tx *sql.Tx, msg *Message) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (uuid, conversation_id, role, content, token_count, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.UUID, msg.ConversationID, string(msg.Role), msg.Content,
		msg.TokenCount, msg.Model, formatTime(msg.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return 0, wrapErr(ErrConstraint, "creating message", err)
		}
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return res.LastInsertId()
}

// refreshConversationAggregates recomputes message_count and total_tokens
// from the message rows themselves. Recomputing (rather than incrementing)
// makes the aggregates self-correcting under any mutation mix, and running
// inside the caller's transaction keeps them exact at every commit boundary.
func refreshConversationAggregates(ctx context.Context, tx *sql.Tx, convID int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			message_count = (SELECT COUNT(*) FROM messages WHERE conversation_id = ?),
			total_tokens  = (SELECT COALESCE(SUM(token_count), 0) FROM messages WHERE conversation_id = ?),
			updated_at    = ?
		WHERE id = ?
	`, convID, convID, formatTime(nowUTC()), convID)
	if err != nil {
		return fmt.Errorf("refreshing conversation aggregates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wrapErr(ErrConstraint, "refreshing conversation aggregates", nil)
	}
	return nil
}

func scanMessage(row rowScanner, msg *Message) error {
	var (
		role       string
		tokenCount sql.NullInt64
		model      sql.NullString
		createdAt  string
	)
	err := row.Scan(&msg.ID, &msg.UUID, &msg.ConversationID, &role,
		&msg.Content, &tokenCount, &model, &createdAt)
	if err == sql.ErrNoRows {
		return wrapErr(ErrNotFound, "loading message", nil)
	}
	if err != nil {
		return fmt.Errorf("scanning message: %w", err)
	}

	msg.Role = Role(role)
	if tokenCount.Valid {
		tc := int(tokenCount.Int64)
		msg.TokenCount = &tc
	}
	if model.Valid {
		msg.Model = &model.String
	}
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	return nil
}
