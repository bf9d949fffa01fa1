// ABOUTME: Tests for atomic batch writes through the transaction executor
// ABOUTME: Verifies all-or-nothing semantics when a mid-batch statement fails

package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBatch_AllOrNothing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, s)

	// Seed one message whose UUID we reuse to poison the batch.
	seed, err := s.Messages.Create(ctx, NewMessage{
		ConversationID: conv.ID, Role: RoleUser, Content: "seed",
	})
	require.NoError(t, err)

	batch := make([]NewMessage, 500)
	for i := range batch {
		batch[i] = NewMessage{
			ConversationID: conv.ID,
			Role:           RoleUser,
			Content:        fmt.Sprintf("bulk message %d", i),
		}
	}
	// Item 250 collides with the seed's unique identifier, failing the
	// batch after 250 successful inserts.
	batch[250].UUID = seed.UUID

	_, err = s.Messages.CreateBatch(ctx, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstraint)

	// Nothing from the batch is visible; only the seed remains, and the
	// aggregates agree.
	page, err := s.Messages.List(ctx, ListMessages{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)

	got, err := s.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MessageCount)

	// Index entries from the rolled-back inserts are gone too.
	results, err := s.Search(ctx, "bulk", SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCreateBatch_Success(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, s)

	batch := make([]NewMessage, 500)
	for i := range batch {
		batch[i] = NewMessage{
			ConversationID: conv.ID,
			Role:           RoleUser,
			Content:        fmt.Sprintf("bulk message %d", i),
			TokenCount:     intPtr(2),
		}
	}

	msgs, err := s.Messages.CreateBatch(ctx, batch)
	require.NoError(t, err)
	require.Len(t, msgs, 500)
	for i, msg := range msgs {
		assert.NotZero(t, msg.ID)
		assert.NotEmpty(t, msg.UUID)
		if i > 0 {
			assert.Greater(t, msg.ID, msgs[i-1].ID, "batch preserves order")
		}
	}

	got, err := s.Conversations.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, got.MessageCount)
	assert.Equal(t, 1000, got.TotalTokens)
}

func TestCreateBatch_Empty(t *testing.T) {
	s := setupTestStore(t)

	msgs, err := s.Messages.CreateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateBatch_ValidatesBeforeWriting(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, s)

	batch := []NewMessage{
		{ConversationID: conv.ID, Role: RoleUser, Content: "fine"},
		{ConversationID: conv.ID, Role: Role("bogus"), Content: "rejected"},
	}
	_, err := s.Messages.CreateBatch(ctx, batch)
	assert.ErrorIs(t, err, ErrValidation)

	page, err := s.Messages.List(ctx, ListMessages{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount, "validation failure must not write anything")
}

func TestCreateBatch_MultipleConversations(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	convA := createTestConversation(t, s)
	convB, err := s.Conversations.Create(ctx, NewConversation{Title: "second fixture"})
	require.NoError(t, err)

	_, err = s.Messages.CreateBatch(ctx, []NewMessage{
		{ConversationID: convA.ID, Role: RoleUser, Content: "for A", TokenCount: intPtr(1)},
		{ConversationID: convB.ID, Role: RoleUser, Content: "for B", TokenCount: intPtr(2)},
		{ConversationID: convA.ID, Role: RoleAssistant, Content: "also A", TokenCount: intPtr(3)},
	})
	require.NoError(t, err)

	gotA, err := s.Conversations.FindByID(ctx, convA.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotA.MessageCount)
	assert.Equal(t, 4, gotA.TotalTokens)

	gotB, err := s.Conversations.FindByID(ctx, convB.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotB.MessageCount)
	assert.Equal(t, 2, gotB.TotalTokens)
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, s)

	// A panic inside fn must roll back, release the connection, and
	// propagate to the caller.
	func() {
		defer func() {
			require.NotNil(t, recover())
		}()
		_ = s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO messages (uuid, conversation_id, role, content, created_at)
				 VALUES ('panic-msg', ?, 'user', 'never committed', ?)`,
				conv.ID, formatTime(nowUTC()))
			require.NoError(t, err)
			panic("boom")
		})
	}()

	// The insert was rolled back and the pool still serves requests.
	page, err := s.Messages.List(ctx, ListMessages{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)

	_, err = s.Messages.Create(ctx, NewMessage{
		ConversationID: conv.ID, Role: RoleUser, Content: "after the panic",
	})
	assert.NoError(t, err)
}
