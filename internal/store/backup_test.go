// ABOUTME: Tests for online backup and its destination allow-list
// ABOUTME: Traversal and out-of-allow-list paths are rejected; snapshots reopen with the same key

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup_RejectsTraversal(t *testing.T) {
	s := setupTestStore(t)

	for _, dest := range []string{
		"../escape.db",
		"backups/../../escape.db",
		filepath.Join(t.TempDir(), "..", "escape.db"),
	} {
		err := s.Backup(context.Background(), dest)
		assert.ErrorIs(t, err, ErrValidation, "dest %q", dest)
	}
}

func TestBackup_RejectsOutsideAllowList(t *testing.T) {
	allowedDir := t.TempDir()
	otherDir := t.TempDir()

	s := setupTestStoreWith(t, StoreConfig{
		AllowedBackupDirs: []string{allowedDir},
	})

	err := s.Backup(context.Background(), filepath.Join(otherDir, "sneaky.db"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	// The rejection names the offending directory, not the store key.
	assert.Contains(t, err.Error(), otherDir)
}

func TestBackup_RejectsEmptyDestination(t *testing.T) {
	s := setupTestStore(t)

	err := s.Backup(context.Background(), "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBackup_InMemoryNotSupported(t *testing.T) {
	s := setupTestStoreWith(t, StoreConfig{InMemory: true})

	err := s.Backup(context.Background(), filepath.Join(t.TempDir(), "mem.db"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBackup_SnapshotReopensWithSameKey(t *testing.T) {
	ctx := context.Background()
	backupDir := t.TempDir()

	s := setupTestStoreWith(t, StoreConfig{
		AllowedBackupDirs: []string{backupDir},
	})

	conv, err := s.Conversations.Create(ctx, NewConversation{Title: "backed up"})
	require.NoError(t, err)
	_, err = s.Messages.Create(ctx, NewMessage{
		ConversationID: conv.ID, Role: RoleUser, Content: "snapshot me",
	})
	require.NoError(t, err)

	dest := filepath.Join(backupDir, "snapshot.db")
	require.NoError(t, s.Backup(ctx, dest))

	// The snapshot is itself encrypted.
	raw := readFilePrefix(t, dest, 16)
	assert.NotEqual(t, "SQLite format 3\x00", string(raw))

	restored, err := Open(StoreConfig{Location: dest, EncryptionKey: testKey})
	require.NoError(t, err)
	defer restored.Close()

	got, err := restored.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "backed up", got.Title)
	assert.Equal(t, 1, got.MessageCount)

	results, err := restored.Search(ctx, "snapshot", SearchFilters{})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// A wrong key cannot open the snapshot either.
	_, err = Open(StoreConfig{Location: dest, EncryptionKey: "not-the-right-key"})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestBackup_DefaultsToStoreDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	s := setupTestStoreWith(t, StoreConfig{
		Location: filepath.Join(tmpDir, "test.db"),
	})
	ctx := context.Background()

	_, err := s.Conversations.Create(ctx, NewConversation{Title: "sibling backup"})
	require.NoError(t, err)

	// With no allow-list configured, the store file's directory is allowed.
	require.NoError(t, s.Backup(ctx, filepath.Join(tmpDir, "sibling.db")))

	// Anywhere else is not.
	err = s.Backup(ctx, filepath.Join(t.TempDir(), "elsewhere.db"))
	assert.ErrorIs(t, err, ErrValidation)
}
