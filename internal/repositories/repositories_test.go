package repositories

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

var (
	_ UserRepository    = (*UserRepo)(nil)
	_ ChatRepository    = (*ChatRepo)(nil)
	_ MessageRepository = (*MessageRepo)(nil)
	_ InviteRepository  = (*InviteRepo)(nil)
)

func TestNewPostgresStoreWiresEveryRepository(t *testing.T) {
	store := NewPostgresStore(&sqlx.DB{})

	assert.NotNil(t, store.Users)
	assert.NotNil(t, store.Chats)
	assert.NotNil(t, store.Messages)
	assert.NotNil(t, store.Invites)
	assert.NotNil(t, store.Close)
}

func TestMessageRowToModelInitialisesSlices(t *testing.T) {
	msg := messageRow{ID: "m1", Type: "image"}.toModel()

	assert.Equal(t, "m1", msg.ID)
	assert.NotNil(t, msg.SeenBy)
	assert.NotNil(t, msg.DeletedFor)
	assert.NotNil(t, msg.Reactions)
	assert.Equal(t, "image", string(msg.Type))
}
