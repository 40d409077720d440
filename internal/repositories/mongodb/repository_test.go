package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"chat-relay/internal/apperror"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestMongo connects to MONGODB_URI and uses a throwaway database.
func setupTestMongo(t *testing.T) *database.MongoDB {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set, skipping mongo repository tests")
	}

	db, err := database.NewMongoConnection(config.MongoConfig{
		URI:      uri,
		Database: "chat_relay_test_" + uuid.NewString()[:8],
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Skipf("mongo unavailable: %v", err)
	}
	require.NoError(t, EnsureIndexes(context.Background(), db))

	t.Cleanup(func() {
		ctx := context.Background()
		_ = db.DB.Drop(ctx)
		_ = db.Close(ctx)
	})
	return db
}

func TestConversationRepository_Mongo(t *testing.T) {
	db := setupTestMongo(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	direct := &models.Conversation{}
	require.NoError(t, repo.Create(ctx, direct, []string{"alice", "bob"}))
	group := &models.Conversation{IsGroup: true}
	require.NoError(t, repo.Create(ctx, group, []string{"alice", "bob"}))

	got, err := repo.FindDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, direct.ID, got.ID)

	_, err = repo.FindDirect(ctx, "alice", "carol")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	convs, err := repo.ListConversationsFor(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 2)

	ok, err := repo.IsParticipant(ctx, "carol", group.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.AddParticipant(ctx, group.ID, "carol"))
	ok, err = repo.IsParticipant(ctx, "carol", group.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.RemoveParticipant(ctx, group.ID, "carol"))
	participants, err := repo.GetParticipants(ctx, group.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, participants)

	_, err = repo.IsParticipant(ctx, "alice", "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, repo.AddParticipant(ctx, "missing", "alice"), apperror.ErrNotFound)
}

func TestConversationRepository_MongoDirectKeyIsUnique(t *testing.T) {
	db := setupTestMongo(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	key := models.DirectPairKey("alice", "bob")
	first := &models.Conversation{DirectKey: &key}
	require.NoError(t, repo.Create(ctx, first, []string{"alice", "bob"}))
	err := repo.Create(ctx, &models.Conversation{DirectKey: &key}, []string{"alice", "bob"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// Conversations without a key are not constrained.
	require.NoError(t, repo.Create(ctx, &models.Conversation{IsGroup: true}, []string{"alice", "bob"}))
	require.NoError(t, repo.Create(ctx, &models.Conversation{IsGroup: true}, []string{"alice", "bob"}))

	require.NoError(t, repo.RemoveParticipant(ctx, first.ID, "bob"))
	require.NoError(t, repo.Create(ctx, &models.Conversation{DirectKey: &key}, []string{"alice", "bob"}))
}

func TestMessageRepository_Mongo(t *testing.T) {
	db := setupTestMongo(t)
	convs := NewConversationRepository(db)
	messages := NewMessageRepository(db)
	ctx := context.Background()

	conv := &models.Conversation{}
	require.NoError(t, convs.Create(ctx, conv, []string{"alice", "bob"}))

	var last *models.Message
	for i, sender := range []string{"alice", "bob", "bob"} {
		msg, err := messages.Create(ctx, sender, conv.ID, "m")
		require.NoError(t, err, "message %d", i)
		last = msg
		time.Sleep(2 * time.Millisecond)
	}

	got, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, last.ID, *got.LastMessageID)

	n, err := messages.MarkRead(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	unread, err := messages.CountUnread(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	page, err := messages.ListPage(ctx, conv.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, last.ID, page.Messages[1].ID, "pages are chronological")
}
