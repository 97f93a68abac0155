package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"convohub/internal/models"
	"convohub/internal/repositories"
)

func messageDoc(t *mtest.T, msg models.Message) bson.D {
	raw, err := bson.Marshal(msg)
	require.NoError(t, err)
	var doc bson.D
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc
}

func stored(edited bool) models.Message {
	return models.Message{
		ID:         "m1",
		ChatID:     "c1",
		SenderID:   "alice",
		Type:       models.MessageTypeText,
		Text:       "hello",
		SeenBy:     []string{"alice"},
		DeletedFor: []string{},
		Reactions:  []models.Reaction{},
		IsEdited:   edited,
		CreatedAt:  time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// sentQuery returns the filter and update of the first findAndModify issued.
func sentQuery(t *mtest.T) (bson.Raw, bson.RawValue) {
	evt := t.GetStartedEvent()
	require.NotNil(t, evt)
	require.Equal(t, "findAndModify", evt.CommandName)
	return evt.Command.Lookup("query").Document(), evt.Command.Lookup("update")
}

func TestMessageConditionalWrites(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("edit filters on unedited live message from sender", func(mt *mtest.T) {
		repo := NewMessageRepo(mt.Coll)
		edited := stored(true)
		edited.Text = "hello!"
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(mt, edited)}))

		got, err := repo.EditMessage(ctx, "m1", "alice", "hello!", at)
		require.NoError(mt, err)
		assert.Equal(mt, "hello!", got.Text)
		assert.True(mt, got.IsEdited)

		query, update := sentQuery(mt)
		assert.Equal(mt, "alice", query.Lookup("senderId").StringValue())
		assert.False(mt, query.Lookup("isEdited").Boolean())
		assert.False(mt, query.Lookup("isDeleted").Boolean())
		assert.True(mt, update.Document().Lookup("$set", "isEdited").Boolean())
	})

	mt.Run("second edit is not applied and returns current record", func(mt *mtest.T) {
		repo := NewMessageRepo(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch, messageDoc(mt, stored(true))),
		)

		got, err := repo.EditMessage(ctx, "m1", "alice", "again", at)
		assert.ErrorIs(mt, err, repositories.ErrNotApplied)
		assert.Equal(mt, "m1", got.ID)
		assert.True(mt, got.IsEdited)
		assert.Equal(mt, "hello", got.Text)
	})

	mt.Run("miss on unknown message is not found", func(mt *mtest.T) {
		repo := NewMessageRepo(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch),
		)

		_, err := repo.EditMessage(ctx, "missing", "alice", "x", at)
		assert.ErrorIs(mt, err, repositories.ErrMessageNotFound)
	})

	mt.Run("reaction upsert is a single pipeline update on a live message", func(mt *mtest.T) {
		repo := NewMessageRepo(mt.Coll)
		reacted := stored(false)
		reacted.Reactions = []models.Reaction{{UserID: "bob", Emoji: "👍", ReactedAt: at}}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(mt, reacted)}))

		got, err := repo.UpsertReaction(ctx, "m1", models.Reaction{UserID: "bob", Emoji: "👍", ReactedAt: at})
		require.NoError(mt, err)
		require.Len(mt, got.Reactions, 1)
		assert.Equal(mt, "👍", got.Reactions[0].Emoji)

		query, update := sentQuery(mt)
		assert.False(mt, query.Lookup("isDeleted").Boolean())
		assert.Equal(mt, bson.TypeArray, update.Type)
	})

	mt.Run("reaction on deleted message is not applied", func(mt *mtest.T) {
		repo := NewMessageRepo(mt.Coll)
		deleted := stored(false)
		deleted.IsDeleted = true
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, "db.messages", mtest.FirstBatch, messageDoc(mt, deleted)),
		)

		got, err := repo.UpsertReaction(ctx, "m1", models.Reaction{UserID: "bob", Emoji: "👍", ReactedAt: at})
		assert.ErrorIs(mt, err, repositories.ErrNotApplied)
		assert.True(mt, got.IsDeleted)
	})

	mt.Run("pin and unpin filter on the opposite state", func(mt *mtest.T) {
		repo := NewMessageRepo(mt.Coll)
		pinned := stored(false)
		pinned.IsPinned = true
		pinned.PinnedBy = "bob"
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(mt, pinned)}),
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(mt, stored(false))}),
		)

		got, err := repo.SetPinned(ctx, "m1", true, "bob", at)
		require.NoError(mt, err)
		assert.True(mt, got.IsPinned)
		query, _ := sentQuery(mt)
		assert.False(mt, query.Lookup("isPinned").Boolean())
		assert.False(mt, query.Lookup("isDeleted").Boolean())

		got, err = repo.SetPinned(ctx, "m1", false, "bob", at)
		require.NoError(mt, err)
		assert.False(mt, got.IsPinned)
		query, update := sentQuery(mt)
		assert.True(mt, query.Lookup("isPinned").Boolean())
		_, err = update.Document().LookupErr("$unset", "pinnedBy")
		assert.NoError(mt, err)
	})

	mt.Run("delete for everyone only matches the live sender message", func(mt *mtest.T) {
		repo := NewMessageRepo(mt.Coll)
		deleted := stored(false)
		deleted.IsDeleted = true
		deleted.Text = models.DeletedPlaceholder
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: messageDoc(mt, deleted)}))

		got, err := repo.DeleteForEveryone(ctx, "m1", "alice", models.DeletedPlaceholder, at)
		require.NoError(mt, err)
		assert.True(mt, got.IsDeleted)

		query, update := sentQuery(mt)
		assert.Equal(mt, "alice", query.Lookup("senderId").StringValue())
		assert.False(mt, query.Lookup("isDeleted").Boolean())
		assert.Equal(mt, models.DeletedPlaceholder, update.Document().Lookup("$set", "text").StringValue())
	})
}
