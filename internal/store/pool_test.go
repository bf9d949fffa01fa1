// ABOUTME: Tests for the bounded connection pool
// ABOUTME: Saturation blocks callers, then fails with ErrPoolExhausted; release frees a slot

package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ExhaustionAndRelease(t *testing.T) {
	s := setupTestStoreWith(t, StoreConfig{
		MaxConnections: 2,
		AcquireTimeout: 200 * time.Millisecond,
	})
	ctx := context.Background()

	c1, err := s.pool.Acquire(ctx)
	require.NoError(t, err)
	c2, err := s.pool.Acquire(ctx)
	require.NoError(t, err)

	// Pool is saturated: a third acquire waits out the bound and fails
	// rather than growing the pool.
	start := time.Now()
	_, err = s.pool.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"acquire should block for the configured bound before failing")

	// Releasing one connection unblocks the next acquire.
	require.NoError(t, c1.Close())
	c3, err := s.pool.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, c2.Close())
	require.NoError(t, c3.Close())
}

func TestPool_AcquireHonorsCallerContext(t *testing.T) {
	s := setupTestStoreWith(t, StoreConfig{
		MaxConnections: 1,
		AcquireTimeout: 5 * time.Second,
	})

	c1, err := s.pool.Acquire(context.Background())
	require.NoError(t, err)
	defer c1.Close()

	// The caller's own deadline fires before the pool bound; the error is
	// a connection failure, not pool exhaustion.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.pool.Acquire(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_ConcurrentWritersSerialize(t *testing.T) {
	s := setupTestStoreWith(t, StoreConfig{MaxConnections: 3})
	ctx := context.Background()
	conv := createTestConversation(t, s)

	const writers = 10
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, err := s.Messages.Create(ctx, NewMessage{
				ConversationID: conv.ID, Role: RoleUser, Content: "concurrent write",
			})
			errs <- err
		}()
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
	}

	got, err := s.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, got.MessageCount)
}

func TestPool_EncryptedFileIsNotPlaintext(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(StoreConfig{Location: dbPath, EncryptionKey: testKey})
	require.NoError(t, err)
	conv, err := s.Conversations.Create(context.Background(), NewConversation{
		Title: "visible only with the key",
	})
	require.NoError(t, err)
	_ = conv
	require.NoError(t, s.Close())

	// A plaintext SQLite file starts with the 16-byte magic header; an
	// encrypted one does not.
	raw := readFilePrefix(t, dbPath, 16)
	assert.NotEqual(t, "SQLite format 3\x00", string(raw))
}

func readFilePrefix(t *testing.T, path string, n int) []byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, n)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	return buf
}
