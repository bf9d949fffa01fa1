// ABOUTME: Online backup of the encrypted store to an allow-listed destination
// ABOUTME: VACUUM INTO produces a compacted copy keyed identically to the source

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
)

// Backup writes a consistent, compacted snapshot of the store to destPath.
// The snapshot is encrypted with the same key as the source. The destination
// must resolve inside one of the configured backup directories; path
// traversal sequences are rejected outright. In-memory stores cannot be
// backed up.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if s.cfg.InMemory {
		return validationErr("in-memory stores cannot be backed up")
	}

	dest, err := s.resolveBackupPath(destPath)
	if err != nil {
		return err
	}

	err = s.pool.withConn(ctx, func(conn *sql.Conn) error {
		// VACUUM INTO takes a consistent snapshot without blocking other
		// readers, and the output inherits the source's encryption key.
		_, err := conn.ExecContext(ctx, `VACUUM INTO ?`, dest)
		return err
	})
	if err != nil {
		return wrapErr(ErrIO, "writing backup", err)
	}

	s.logger.Info("backup written", "dest", dest)
	return nil
}

// resolveBackupPath validates destPath against the backup allow-list and
// returns its absolute form. When no allow-list is configured, only the
// directory containing the store file is permitted.
func (s *Store) resolveBackupPath(destPath string) (string, error) {
	if destPath == "" {
		return "", validationErr("backup destination cannot be empty")
	}
	// Checked on the raw input: a traversal sequence signals hostile intent
	// even when the cleaned path would land inside an allowed directory.
	for _, part := range strings.Split(filepath.ToSlash(destPath), "/") {
		if part == ".." {
			return "", validationErr("backup destination must not contain path traversal")
		}
	}

	abs, err := filepath.Abs(destPath)
	if err != nil {
		return "", validationErr("backup destination is not a valid path: %v", err)
	}

	allowed := s.cfg.AllowedBackupDirs
	if len(allowed) == 0 {
		allowed = []string{filepath.Dir(s.cfg.Location)}
	}
	for _, dir := range allowed {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if filepath.Dir(abs) == absDir {
			return abs, nil
		}
	}
	return "", validationErr("backup destination %q is outside the allowed directories", filepath.Dir(abs))
}

// BackupDirs returns the resolved allow-list, for admin tooling display.
func (s *Store) BackupDirs() []string {
	if len(s.cfg.AllowedBackupDirs) > 0 {
		return append([]string(nil), s.cfg.AllowedBackupDirs...)
	}
	if s.cfg.InMemory {
		return nil
	}
	return []string{filepath.Dir(s.cfg.Location)}
}
