// ABOUTME: Persona repository: named system-prompt profiles referenced weakly by conversations
// ABOUTME: Deleting a persona detaches conversations; it never deletes them

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxPersonaNameLen = 100

// NewPersona holds the caller-supplied fields for Create.
type NewPersona struct {
	Name         string
	Description  string
	SystemPrompt string
	Active       *bool
}

// UpdatePersona holds partial update fields; nil pointers leave the column
// untouched.
type UpdatePersona struct {
	Name         *string
	Description  *string
	SystemPrompt *string
	Active       *bool
}

// ListPersonas filters and pages the persona list.
type ListPersonas struct {
	Offset     int
	Limit      int
	ActiveOnly bool
}

// PersonaPage is one page of results plus the total matching count.
type PersonaPage struct {
	Items      []*Persona
	TotalCount int
}

// PersonaRepo implements persona persistence.
type PersonaRepo struct {
	s *Store
}

func validatePersonaName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationErr("persona name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxPersonaNameLen {
		return "", validationErr("persona name exceeds %d characters", maxPersonaNameLen)
	}
	return name, nil
}

// Create inserts a new persona. Active defaults to true when unset.
func (r *PersonaRepo) Create(ctx context.Context, p NewPersona) (*Persona, error) {
	name, err := validatePersonaName(p.Name)
	if err != nil {
		return nil, err
	}

	persona := &Persona{
		UUID:         uuid.NewString(),
		Name:         name,
		Description:  p.Description,
		SystemPrompt: p.SystemPrompt,
		Active:       true,
		CreatedAt:    nowUTC(),
		UpdatedAt:    nowUTC(),
	}
	if p.Active != nil {
		persona.Active = *p.Active
	}

	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO personas (uuid, name, description, system_prompt, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, persona.UUID, persona.Name, persona.Description, persona.SystemPrompt,
			boolToInt(persona.Active), formatTime(persona.CreatedAt), formatTime(persona.UpdatedAt))
		if err != nil {
			if isConstraintViolation(err) {
				return wrapErr(ErrConstraint, "creating persona", err)
			}
			return fmt.Errorf("inserting persona: %w", err)
		}
		persona.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}

	r.s.cache.invalidate(nsPersona)
	r.s.logger.Debug("created persona", "id", persona.ID, "name", persona.Name)
	return persona, nil
}

// CreateBatch inserts many personas atomically, reusing one prepared
// statement. Used by import tooling.
func (r *PersonaRepo) CreateBatch(ctx context.Context, batch []NewPersona) ([]*Persona, error) {
	if len(batch) == 0 {
		return []*Persona{}, nil
	}

	personas := make([]*Persona, len(batch))
	for i, p := range batch {
		name, err := validatePersonaName(p.Name)
		if err != nil {
			return nil, fmt.Errorf("persona %d: %w", i, err)
		}
		personas[i] = &Persona{
			UUID:         uuid.NewString(),
			Name:         name,
			Description:  p.Description,
			SystemPrompt: p.SystemPrompt,
			Active:       true,
			CreatedAt:    nowUTC(),
			UpdatedAt:    nowUTC(),
		}
		if p.Active != nil {
			personas[i].Active = *p.Active
		}
	}

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO personas (uuid, name, description, system_prompt, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing batch insert: %w", err)
		}
		defer stmt.Close()

		for i, persona := range personas {
			res, err := stmt.ExecContext(ctx, persona.UUID, persona.Name,
				persona.Description, persona.SystemPrompt, boolToInt(persona.Active),
				formatTime(persona.CreatedAt), formatTime(persona.UpdatedAt))
			if err != nil {
				if isConstraintViolation(err) {
					return wrapErr(ErrConstraint, fmt.Sprintf("inserting persona %d of batch", i), err)
				}
				return fmt.Errorf("inserting persona %d of batch: %w", i, err)
			}
			if persona.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.s.cache.invalidate(nsPersona)
	r.s.logger.Debug("created persona batch", "count", len(personas))
	return personas, nil
}

const personaColumns = `id, uuid, name, description, system_prompt, active, created_at, updated_at`

// FindByID retrieves one persona. Returns ErrNotFound when no row exists.
func (r *PersonaRepo) FindByID(ctx context.Context, id int64) (*Persona, error) {
	key := fmt.Sprintf("%sfind:%d", nsPersona, id)
	v, err := cached(r.s.cache, key, r.s.cfg.CacheTTL, func() (Persona, error) {
		var persona Persona
		err := r.s.pool.withConn(ctx, func(conn *sql.Conn) error {
			row := conn.QueryRowContext(ctx,
				`SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
			return scanPersona(row, &persona)
		})
		return persona, err
	})
	if err != nil {
		return nil, err
	}
	out := v
	return &out, nil
}

// List returns a page of personas ordered by name, plus the total count
// under the same filter.
func (r *PersonaRepo) List(ctx context.Context, p ListPersonas) (*PersonaPage, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	key := fmt.Sprintf("%slist:%d:%d:%t", nsPersona, p.Offset, p.Limit, p.ActiveOnly)
	return cached(r.s.cache, key, r.s.cfg.CacheTTL, func() (*PersonaPage, error) {
		where := ""
		if p.ActiveOnly {
			where = " WHERE active = 1"
		}

		page := &PersonaPage{Items: []*Persona{}}
		err := r.s.pool.withConn(ctx, func(conn *sql.Conn) error {
			if err := conn.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM personas`+where,
			).Scan(&page.TotalCount); err != nil {
				return fmt.Errorf("counting personas: %w", err)
			}

			rows, err := conn.QueryContext(ctx,
				`SELECT `+personaColumns+` FROM personas`+where+
					` ORDER BY name ASC, id ASC LIMIT ? OFFSET ?`,
				p.Limit, p.Offset)
			if err != nil {
				return fmt.Errorf("querying personas: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var persona Persona
				if err := scanPersona(rows, &persona); err != nil {
					return err
				}
				page.Items = append(page.Items, &persona)
			}
			return rows.Err()
		})
		if err != nil {
			return nil, err
		}
		return page, nil
	})
}

// Update applies a partial update. Returns ErrNotFound if the persona does
// not exist.
func (r *PersonaRepo) Update(ctx context.Context, id int64, p UpdatePersona) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(nowUTC())}

	if p.Name != nil {
		name, err := validatePersonaName(*p.Name)
		if err != nil {
			return err
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.SystemPrompt != nil {
		sets = append(sets, "system_prompt = ?")
		args = append(args, *p.SystemPrompt)
	}
	if p.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, boolToInt(*p.Active))
	}

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE personas SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
			append(args, id)...)
		if err != nil {
			return fmt.Errorf("updating persona: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return wrapErr(ErrNotFound, "updating persona", nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.s.cache.invalidate(nsPersona)
	r.s.logger.Debug("updated persona", "id", id)
	return nil
}

// Delete removes the persona. Conversations that referenced it keep all
// their data; the foreign key sets their persona_id to NULL.
func (r *PersonaRepo) Delete(ctx context.Context, id int64) error {
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting persona: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return wrapErr(ErrNotFound, "deleting persona", nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Conversation rows changed too (persona_id nulled by the foreign key).
	r.s.cache.invalidate(nsPersona, nsConversation)
	r.s.logger.Debug("deleted persona", "id", id)
	return nil
}

func scanPersona(row rowScanner, persona *Persona) error {
	var (
		active               int
		createdAt, updatedAt string
	)
	err := row.Scan(&persona.ID, &persona.UUID, &persona.Name, &persona.Description,
		&persona.SystemPrompt, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return wrapErr(ErrNotFound, "loading persona", nil)
	}
	if err != nil {
		return fmt.Errorf("scanning persona: %w", err)
	}

	persona.Active = active != 0
	if persona.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if persona.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}
