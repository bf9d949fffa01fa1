// ABOUTME: Full-text search over conversation titles and message contents
// ABOUTME: Compiles user queries into safe FTS5 match expressions, merges ranked results

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// SearchScope selects which tables a search covers.
type SearchScope string

const (
	ScopeAll           SearchScope = "all"
	ScopeConversations SearchScope = "conversations"
	ScopeMessages      SearchScope = "messages"
)

// SearchFilters narrows a search.
type SearchFilters struct {
	Scope           SearchScope
	ConversationID  *int64
	IncludeArchived bool
	Limit           int
}

// ResultKind identifies what a SearchResult points at.
type ResultKind string

const (
	ResultConversation ResultKind = "conversation"
	ResultMessage      ResultKind = "message"
)

// SearchResult is one ranked hit. ConversationID is set for both kinds: for
// conversation hits it equals ID. Score is higher-is-better.
type SearchResult struct {
	Kind           ResultKind
	ID             int64
	ConversationID int64
	UUID           string
	Title          string
	Snippet        string
	Score          float64
}

// compileSearchQuery turns free-form user input into an FTS5 match
// expression. Quoted phrases pass through as phrases, the operators AND and
// OR pass through bare, and every other term is double-quoted so FTS5 syntax
// characters in user input cannot alter the query structure.
func compileSearchQuery(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	var terms []string
	var phrase strings.Builder
	inPhrase := false
	flush := func(raw string) {
		if raw == "" {
			return
		}
		if raw == "AND" || raw == "OR" {
			terms = append(terms, raw)
			return
		}
		terms = append(terms, `"`+strings.ReplaceAll(raw, `"`, `""`)+`"`)
	}

	var word strings.Builder
	for _, r := range input {
		switch {
		case r == '"':
			if inPhrase {
				flush(phrase.String())
				phrase.Reset()
			} else {
				flush(word.String())
				word.Reset()
			}
			inPhrase = !inPhrase
		case inPhrase:
			phrase.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			flush(word.String())
			word.Reset()
		default:
			word.WriteRune(r)
		}
	}
	if inPhrase {
		flush(phrase.String())
	}
	flush(word.String())

	// Strip operators with nothing on one side ("AND kyoto", "kyoto OR").
	for len(terms) > 0 && (terms[0] == "AND" || terms[0] == "OR") {
		terms = terms[1:]
	}
	for len(terms) > 0 && (terms[len(terms)-1] == "AND" || terms[len(terms)-1] == "OR") {
		terms = terms[:len(terms)-1]
	}
	return strings.Join(terms, " ")
}

// Search runs a ranked full-text query across the configured scope. An empty
// or operator-only query returns no results and no error. Archived
// conversations (and their messages) are excluded unless IncludeArchived is
// set.
func (s *Store) Search(ctx context.Context, query string, f SearchFilters) ([]*SearchResult, error) {
	match := compileSearchQuery(query)
	if match == "" {
		return []*SearchResult{}, nil
	}
	if f.Scope == "" {
		f.Scope = ScopeAll
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}

	var results []*SearchResult
	err := s.pool.withConn(ctx, func(conn *sql.Conn) error {
		if f.Scope == ScopeAll || f.Scope == ScopeConversations {
			hits, err := searchConversations(ctx, conn, match, f)
			if err != nil {
				return err
			}
			results = append(results, hits...)
		}
		if f.Scope == ScopeAll || f.Scope == ScopeMessages {
			hits, err := searchMessages(ctx, conn, match, f)
			if err != nil {
				return err
			}
			results = append(results, hits...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// FTS5 rank is a negative BM25 value where closer to zero means a worse
	// match; negating it gives a higher-is-better score across both tables.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > f.Limit {
		results = results[:f.Limit]
	}
	if results == nil {
		results = []*SearchResult{}
	}

	s.logger.Debug("search completed", "results", len(results), "scope", f.Scope)
	return results, nil
}

func searchConversations(ctx context.Context, conn *sql.Conn, match string, f SearchFilters) ([]*SearchResult, error) {
	query := `
		SELECT c.id, c.uuid, c.title,
		       snippet(conversations_fts, 0, '<b>', '</b>', '…', 12),
		       fts.rank
		FROM conversations_fts fts
		JOIN conversations c ON c.id = fts.rowid
		WHERE conversations_fts MATCH ?`
	args := []any{match}
	if !f.IncludeArchived {
		query += ` AND c.archived = 0`
	}
	if f.ConversationID != nil {
		query += ` AND c.id = ?`
		args = append(args, *f.ConversationID)
	}
	query += ` ORDER BY fts.rank LIMIT ?`
	args = append(args, f.Limit)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching conversations: %w", err)
	}
	defer rows.Close()

	var out []*SearchResult
	for rows.Next() {
		r := &SearchResult{Kind: ResultConversation}
		var rank float64
		if err := rows.Scan(&r.ID, &r.UUID, &r.Title, &r.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("scanning conversation hit: %w", err)
		}
		r.ConversationID = r.ID
		r.Score = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}

func searchMessages(ctx context.Context, conn *sql.Conn, match string, f SearchFilters) ([]*SearchResult, error) {
	query := `
		SELECT m.id, m.uuid, m.conversation_id, c.title,
		       snippet(messages_fts, 0, '<b>', '</b>', '…', 12),
		       fts.rank
		FROM messages_fts fts
		JOIN messages m ON m.id = fts.rowid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts MATCH ?`
	args := []any{match}
	if !f.IncludeArchived {
		query += ` AND c.archived = 0`
	}
	if f.ConversationID != nil {
		query += ` AND m.conversation_id = ?`
		args = append(args, *f.ConversationID)
	}
	query += ` ORDER BY fts.rank LIMIT ?`
	args = append(args, f.Limit)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var out []*SearchResult
	for rows.Next() {
		r := &SearchResult{Kind: ResultMessage}
		var rank float64
		if err := rows.Scan(&r.ID, &r.UUID, &r.ConversationID, &r.Title, &r.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("scanning message hit: %w", err)
		}
		r.Score = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}

// RebuildIndex drops and repopulates both FTS tables from their canonical
// tables in one transaction. Recovery path for an index corrupted outside
// normal operation; reads of the canonical tables proceed concurrently.
func (s *Store) RebuildIndex(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations_fts(conversations_fts) VALUES ('rebuild')`); err != nil {
			return fmt.Errorf("rebuilding conversation index: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`); err != nil {
			return fmt.Errorf("rebuilding message index: %w", err)
		}
		return nil
	})
	if err != nil {
		return wrapErr(ErrIO, "rebuilding search index", err)
	}
	s.logger.Info("search index rebuilt")
	return nil
}
