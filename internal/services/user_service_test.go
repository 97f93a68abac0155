package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convohub/internal/apperr"
)

func TestUserDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	users, err := f.users.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, users, 3)
	for _, u := range users {
		assert.NotEqual(t, "alice", u.ID)
	}

	profile, err := f.users.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.Name)

	_, err = f.users.Profile(ctx, "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestOnlineStatusOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	online, err := f.users.SetOnlineStatus(ctx, "alice", true)
	require.NoError(t, err)
	assert.True(t, online.IsOnline)

	offline, err := f.users.SetOnlineStatus(ctx, "alice", false)
	require.NoError(t, err)
	assert.False(t, offline.IsOnline)
	require.NotNil(t, offline.LastSeen)

	touched, err := f.users.TouchLastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, touched.LastSeen.After(*offline.LastSeen))

	_, err = f.users.SetOnlineStatus(ctx, "ghost", true)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
