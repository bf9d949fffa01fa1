// ABOUTME: Tests for store open/close lifecycle, encryption behavior, and end-to-end flows
// ABOUTME: Includes the full create-converse-search-archive-delete scenario

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "correct-horse-battery-staple"

// setupTestStore creates an encrypted file-backed store in a temp directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return setupTestStoreWith(t, StoreConfig{})
}

// setupTestStoreWith creates a store with overrides applied on top of the
// standard test fixture config.
func setupTestStoreWith(t *testing.T, cfg StoreConfig) *Store {
	t.Helper()
	tmpDir := t.TempDir()

	if !cfg.InMemory && cfg.Location == "" {
		cfg.Location = filepath.Join(tmpDir, "test.db")
	}
	if cfg.EncryptionKey == "" && !cfg.InMemory {
		cfg.EncryptionKey = testKey
	}

	s, err := Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestOpen_InMemory(t *testing.T) {
	s := setupTestStoreWith(t, StoreConfig{InMemory: true})
	ctx := context.Background()

	conv, err := s.Conversations.Create(ctx, NewConversation{Title: "scratch"})
	require.NoError(t, err)
	assert.NotZero(t, conv.ID)
	assert.NotEmpty(t, conv.UUID)
}

func TestOpen_LocationAndInMemoryMutuallyExclusive(t *testing.T) {
	_, err := Open(StoreConfig{InMemory: true, Location: "/tmp/x.db", EncryptionKey: testKey})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpen_FileStoreRequiresKey(t *testing.T) {
	_, err := Open(StoreConfig{Location: filepath.Join(t.TempDir(), "x.db")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpen_RejectsKeyWithDisallowedCharacters(t *testing.T) {
	for _, key := range []string{
		"short",                   // too short
		"has space in it!",        // whitespace
		"quote'attempt-aaaa",      // single quote
		"semi;colon-aaaaaaa",      // semicolon
		"back\\slash-aaaaaa",      // backslash
	} {
		_, err := Open(StoreConfig{
			Location:      filepath.Join(t.TempDir(), "x.db"),
			EncryptionKey: key,
		})
		assert.ErrorIs(t, err, ErrValidation, "key %q should be rejected", key)
	}
}

func TestOpen_WrongKeyFailsFast(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(StoreConfig{Location: dbPath, EncryptionKey: testKey})
	require.NoError(t, err)

	_, err = s.Conversations.Create(context.Background(), NewConversation{Title: "secret"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(StoreConfig{Location: dbPath, EncryptionKey: "wrong-key-entirely"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	// The key itself must never leak into the error text.
	assert.NotContains(t, err.Error(), "wrong-key-entirely")
	assert.NotContains(t, err.Error(), testKey)
}

func TestOpen_ReopenWithCorrectKey(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(StoreConfig{Location: dbPath, EncryptionKey: testKey})
	require.NoError(t, err)
	conv, err := s.Conversations.Create(context.Background(), NewConversation{Title: "persisted"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(StoreConfig{Location: dbPath, EncryptionKey: testKey})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Conversations.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
	assert.Equal(t, conv.UUID, got.UUID)
}

func TestOpen_SchemaIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(StoreConfig{Location: dbPath, EncryptionKey: testKey})
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}
}

func TestStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	conv, err := s.Conversations.Create(ctx, NewConversation{Title: "counted"})
	require.NoError(t, err)
	_, err = s.Messages.Create(ctx, NewMessage{
		ConversationID: conv.ID, Role: RoleUser, Content: "hello",
	})
	require.NoError(t, err)
	_, err = s.Personas.Create(ctx, NewPersona{Name: "counter"})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 1, stats.Messages)
	assert.Equal(t, 1, stats.Personas)
}

// TestScenario_TripPlanning exercises the full lifecycle: persona setup,
// conversation with messages, metadata backfill, search, archival behavior,
// and cascading delete.
func TestScenario_TripPlanning(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	persona, err := s.Personas.Create(ctx, NewPersona{
		Name:         "Travel Guide",
		SystemPrompt: "You are a knowledgeable travel assistant.",
	})
	require.NoError(t, err)

	conv, err := s.Conversations.Create(ctx, NewConversation{
		Title:     "Trip planning",
		PersonaID: &persona.ID,
		Tags:      []string{"travel", "japan"},
	})
	require.NoError(t, err)
	require.NotNil(t, conv.PersonaID)
	assert.Equal(t, persona.ID, *conv.PersonaID)

	m1, err := s.Messages.Create(ctx, NewMessage{
		ConversationID: conv.ID,
		Role:           RoleUser,
		Content:        "What should I see in Kyoto in autumn?",
	})
	require.NoError(t, err)

	m2, err := s.Messages.Create(ctx, NewMessage{
		ConversationID: conv.ID,
		Role:           RoleAssistant,
		Content:        "Kyoto in autumn is famous for its maple foliage at Tofukuji and Arashiyama.",
		TokenCount:     intPtr(42),
		Model:          strPtr("gpt-4"),
	})
	require.NoError(t, err)

	// Aggregates reflect both messages.
	got, err := s.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, 42, got.TotalTokens)

	// Backfill m1's metadata; total tokens follow.
	err = s.Messages.UpdateMetadata(ctx, m1.ID, MessageMetadata{TokenCount: intPtr(10)})
	require.NoError(t, err)
	got, err = s.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 52, got.TotalTokens)

	// Search finds the assistant message by a stemmed content word.
	results, err := s.Search(ctx, "foliage", SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultMessage, results[0].Kind)
	assert.Equal(t, m2.ID, results[0].ID)
	assert.Equal(t, conv.ID, results[0].ConversationID)
	assert.Equal(t, "Trip planning", results[0].Title)

	// Search also finds the conversation by title.
	results, err = s.Search(ctx, "trip", SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultConversation, results[0].Kind)

	// Archived conversations disappear from default search but keep data.
	require.NoError(t, s.Conversations.SetArchived(ctx, conv.ID, true))
	results, err = s.Search(ctx, "foliage", SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(ctx, "foliage", SearchFilters{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	page, err := s.Messages.List(ctx, ListMessages{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)

	// Deleting the persona detaches but preserves the conversation.
	require.NoError(t, s.Personas.Delete(ctx, persona.ID))
	got, err = s.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PersonaID)

	// Deleting the conversation removes messages and index entries.
	require.NoError(t, s.Conversations.Delete(ctx, conv.ID))
	_, err = s.Messages.FindByID(ctx, m1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	results, err = s.Search(ctx, "foliage", SearchFilters{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClose_StopsOperations(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := Open(StoreConfig{
		Location:      filepath.Join(tmpDir, "test.db"),
		EncryptionKey: testKey,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Conversations.Create(context.Background(), NewConversation{Title: "late"})
	assert.Error(t, err)
}

func TestOpen_DefaultsApplied(t *testing.T) {
	s := setupTestStore(t)
	assert.Equal(t, DefaultMaxConnections, s.cfg.MaxConnections)
	assert.Equal(t, DefaultBusyTimeout, s.cfg.BusyTimeout)
	assert.Equal(t, DefaultAcquireTimeout, s.cfg.AcquireTimeout)
	assert.Equal(t, DefaultCacheSize, s.cfg.CacheSize)
}

func TestTimestamps_RoundTripUTC(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	conv, err := s.Conversations.Create(ctx, NewConversation{Title: "clocked"})
	require.NoError(t, err)
	after := time.Now().UTC().Add(time.Second)

	got, err := s.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.True(t, got.CreatedAt.After(before) && got.CreatedAt.Before(after))
}

func TestErrorKinds_AreDistinct(t *testing.T) {
	kinds := []error{
		ErrConnectionFailed, ErrPoolExhausted, ErrValidation,
		ErrNotFound, ErrConstraint, ErrIO,
	}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}
