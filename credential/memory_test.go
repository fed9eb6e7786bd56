package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestMemory() *Memory {
	return NewMemoryWithCost(bcrypt.MinCost)
}

func TestCreateUserSucceedsOnceUntilDeleted(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory()

	created, err := store.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, created)

	// Second create for the same name must report a business failure
	created, err = store.CreateUser(ctx, "alice", "other")
	require.NoError(t, err)
	assert.False(t, created)

	deleted, err := store.DeleteUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, deleted)

	// After deletion the name is free again
	created, err = store.CreateUser(ctx, "alice", "third")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAuthenticateUsesLatestPassword(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory()

	_, err := store.CreateUser(ctx, "alice", "first")
	require.NoError(t, err)

	ok, err := store.Authenticate(ctx, "alice", "first")
	require.NoError(t, err)
	assert.True(t, ok)

	updated, err := store.UpdateUser(ctx, "alice", "second")
	require.NoError(t, err)
	assert.True(t, updated)

	ok, err = store.Authenticate(ctx, "alice", "first")
	require.NoError(t, err)
	assert.False(t, ok, "old password must stop working after update")

	ok, err = store.Authenticate(ctx, "alice", "second")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory()

	ok, err := store.Authenticate(ctx, "ghost", "whatever")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateAndDeleteUnknownUser(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory()

	updated, err := store.UpdateUser(ctx, "ghost", "pw")
	require.NoError(t, err)
	assert.False(t, updated)

	deleted, err := store.DeleteUser(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUserExists(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory()

	exists, err := store.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)

	exists, err = store.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	// Usernames are case-sensitive
	exists, err = store.UserExists(ctx, "Alice")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeletedUserCannotAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory()

	_, err := store.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)

	_, err = store.DeleteUser(ctx, "alice")
	require.NoError(t, err)

	ok, err := store.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.False(t, ok)
}
