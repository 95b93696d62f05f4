package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dimspell/tavern/internal/app/logger"
	"github.com/dimspell/tavern/internal/auth"
	"github.com/dimspell/tavern/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectory(t *testing.T) *SQLite {
	t.Helper()
	logger.Discard()

	auth.HashCost = 4
	t.Cleanup(func() { auth.HashCost = 12 })

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLite(db)
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t)

	alice, err := dir.Register(ctx, "alice", "Alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, alice.ID)

	_, err = dir.Register(ctx, "alice", "Other", "pwd")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	got, err := dir.Lookup(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = dir.Lookup(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUnknownUser)

	user, err := dir.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)

	_, err = dir.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = dir.Authenticate(ctx, "bob", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	byName, err := dir.ByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, alice, byName)
	_, err = dir.ByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrUnknownUser)

	users, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRetry(t *testing.T) {
	attempts := 0
	err := retry(context.Background(), time.Second, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry(ctx, time.Minute, func() error { return errors.New("busy") })
	assert.Error(t, err)
}
