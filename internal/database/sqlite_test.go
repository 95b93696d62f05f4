package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dimspell/tavern/internal/app/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	logger.Discard()

	db, err := NewMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
	assert.NoError(t, Migrate(db.Writer), "migrating twice is a no-op")
}

func TestUsers(t *testing.T) {
	logger.Discard()
	ctx := context.Background()

	db, err := NewLocal(filepath.Join(t.TempDir(), "tavern.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	created, err := db.Write.CreateUser(ctx, CreateUserParams{
		ID:           "u1",
		Username:     "alice",
		DisplayName:  "Alice",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Username)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = db.Write.CreateUser(ctx, CreateUserParams{ID: "u2", Username: "ALICE", PasswordHash: "x"})
	assert.Error(t, err, "usernames are unique regardless of case")

	byName, err := db.Read.GetUserByUsername(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", byName.ID)

	byID, err := db.Read.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.DisplayName)

	_, err = db.Read.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	users, err := db.Read.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
