// ABOUTME: Conversation repository: the only component translating conversation operations to SQL
// ABOUTME: Validates inputs before storage, caches reads, invalidates on writes

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxTitleLen = 200

// NewConversation holds the caller-supplied fields for Create.
type NewConversation struct {
	Title     string
	PersonaID *int64
	Tags      []string
}

// UpdateConversation holds partial update fields. Nil pointers leave the
// column untouched; ClearPersona removes the persona reference.
type UpdateConversation struct {
	Title        *string
	PersonaID    *int64
	ClearPersona bool
	Tags         *[]string
}

// ListConversations filters and pages the conversation list.
type ListConversations struct {
	Offset          int
	Limit           int
	IncludeArchived bool
	PersonaID       *int64
}

// ConversationPage is one page of results plus the total matching count, so
// callers can render pagination controls.
type ConversationPage struct {
	Items      []*Conversation
	TotalCount int
}

// ConversationRepo implements conversation persistence.
type ConversationRepo struct {
	s *Store
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validationErr("title cannot be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", validationErr("title exceeds %d characters", maxTitleLen)
	}
	return title, nil
}

// Create inserts a new conversation with a freshly generated UUID. The UUID
// is assigned exactly once and never regenerated or reused.
func (r *ConversationRepo) Create(ctx context.Context, p NewConversation) (*Conversation, error) {
	title, err := validateTitle(p.Title)
	if err != nil {
		return nil, err
	}
	tags, err := marshalTags(p.Tags)
	if err != nil {
		return nil, err
	}

	conv := &Conversation{
		UUID:      uuid.NewString(),
		Title:     title,
		PersonaID: p.PersonaID,
		Tags:      p.Tags,
		CreatedAt: nowUTC(),
		UpdatedAt: nowUTC(),
	}

	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (uuid, title, persona_id, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, conv.UUID, conv.Title, conv.PersonaID, tags,
			formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
		if err != nil {
			if isConstraintViolation(err) {
				return wrapErr(ErrConstraint, "creating conversation", err)
			}
			return fmt.Errorf("inserting conversation: %w", err)
		}
		conv.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}

	r.s.cache.invalidate(nsConversation)
	r.s.logger.Debug("created conversation", "id", conv.ID, "uuid", conv.UUID)
	return conv, nil
}

const conversationColumns = `id, uuid, title, persona_id, archived, message_count, total_tokens, tags, created_at, updated_at`

// FindByID retrieves a conversation. Returns ErrNotFound when no row exists.
func (r *ConversationRepo) FindByID(ctx context.Context, id int64) (*Conversation, error) {
	key := fmt.Sprintf("%sfind:%d", nsConversation, id)
	v, err := cached(r.s.cache, key, r.s.cfg.CacheTTL, func() (Conversation, error) {
		var conv Conversation
		err := r.s.pool.withConn(ctx, func(conn *sql.Conn) error {
			row := conn.QueryRowContext(ctx,
				`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
			return scanConversation(row, &conv)
		})
		return conv, err
	})
	if err != nil {
		return nil, err
	}
	out := v
	return &out, nil
}

// FindByUUID retrieves a conversation by its external stable identifier.
func (r *ConversationRepo) FindByUUID(ctx context.Context, u string) (*Conversation, error) {
	key := fmt.Sprintf("%sfinduuid:%s", nsConversation, u)
	v, err := cached(r.s.cache, key, r.s.cfg.CacheTTL, func() (Conversation, error) {
		var conv Conversation
		err := r.s.pool.withConn(ctx, func(conn *sql.Conn) error {
			row := conn.QueryRowContext(ctx,
				`SELECT `+conversationColumns+` FROM conversations WHERE uuid = ?`, u)
			return scanConversation(row, &conv)
		})
		return conv, err
	})
	if err != nil {
		return nil, err
	}
	out := v
	return &out, nil
}

// List returns a page of conversations ordered by most recent activity,
// plus the total count under the same filters.
func (r *ConversationRepo) List(ctx context.Context, p ListConversations) (*ConversationPage, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	key := fmt.Sprintf("%slist:%d:%d:%t:%s", nsConversation,
		p.Offset, p.Limit, p.IncludeArchived, int64PtrKey(p.PersonaID))
	return cached(r.s.cache, key, r.s.cfg.CacheTTL, func() (*ConversationPage, error) {
		where := " WHERE 1=1"
		args := []any{}
		if !p.IncludeArchived {
			where += " AND archived = 0"
		}
		if p.PersonaID != nil {
			where += " AND persona_id = ?"
			args = append(args, *p.PersonaID)
		}

		page := &ConversationPage{Items: []*Conversation{}}
		err := r.s.pool.withConn(ctx, func(conn *sql.Conn) error {
			if err := conn.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM conversations`+where, args...,
			).Scan(&page.TotalCount); err != nil {
				return fmt.Errorf("counting conversations: %w", err)
			}

			query := `SELECT ` + conversationColumns + ` FROM conversations` + where +
				` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
			rows, err := conn.QueryContext(ctx, query, append(args, p.Limit, p.Offset)...)
			if err != nil {
				return fmt.Errorf("querying conversations: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var conv Conversation
				if err := scanConversation(rows, &conv); err != nil {
					return err
				}
				page.Items = append(page.Items, &conv)
			}
			return rows.Err()
		})
		if err != nil {
			return nil, err
		}
		return page, nil
	})
}

// Update applies a partial update. Returns ErrNotFound if the conversation
// does not exist.
func (r *ConversationRepo) Update(ctx context.Context, id int64, p UpdateConversation) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(nowUTC())}

	if p.Title != nil {
		title, err := validateTitle(*p.Title)
		if err != nil {
			return err
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if p.ClearPersona {
		sets = append(sets, "persona_id = NULL")
	} else if p.PersonaID != nil {
		sets = append(sets, "persona_id = ?")
		args = append(args, *p.PersonaID)
	}
	if p.Tags != nil {
		tags, err := marshalTags(*p.Tags)
		if err != nil {
			return err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
			append(args, id)...)
		if err != nil {
			if isConstraintViolation(err) {
				return wrapErr(ErrConstraint, "updating conversation", err)
			}
			return fmt.Errorf("updating conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return wrapErr(ErrNotFound, "updating conversation", nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.s.cache.invalidate(nsConversation)
	r.s.logger.Debug("updated conversation", "id", id)
	return nil
}

// SetArchived toggles the archived flag. Messages and the search index are
// left intact.
func (r *ConversationRepo) SetArchived(ctx context.Context, id int64, archived bool) error {
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET archived = ?, updated_at = ? WHERE id = ?`,
			boolToInt(archived), formatTime(nowUTC()), id)
		if err != nil {
			return fmt.Errorf("archiving conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return wrapErr(ErrNotFound, "archiving conversation", nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.s.cache.invalidate(nsConversation)
	return nil
}

// Delete removes the conversation, all of its messages, and every full-text
// index entry referencing them, in one transaction. Child messages are
// deleted explicitly (rather than by cascade) so the message FTS delete
// triggers fire deterministically.
func (r *ConversationRepo) Delete(ctx context.Context, id int64) error {
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("deleting conversation messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return wrapErr(ErrNotFound, "deleting conversation", nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.s.cache.invalidate(nsConversation, nsMessage)
	r.s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner, conv *Conversation) error {
	var (
		personaID            sql.NullInt64
		archived             int
		tagsJSON             string
		createdAt, updatedAt string
	)
	err := row.Scan(&conv.ID, &conv.UUID, &conv.Title, &personaID, &archived,
		&conv.MessageCount, &conv.TotalTokens, &tagsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return wrapErr(ErrNotFound, "loading conversation", nil)
	}
	if err != nil {
		return fmt.Errorf("scanning conversation: %w", err)
	}

	if personaID.Valid {
		conv.PersonaID = &personaID.Int64
	}
	conv.Archived = archived != 0
	if err := json.Unmarshal([]byte(tagsJSON), &conv.Tags); err != nil {
		return fmt.Errorf("parsing tags: %w", err)
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", validationErr("tags are not serializable: %v", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func int64PtrKey(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
