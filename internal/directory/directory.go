// Package directory resolves user ids into the identity shown to other
// players.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/auth"
	"github.com/dimspell/tavern/internal/database"
	"github.com/dimspell/tavern/internal/model"
	"github.com/google/uuid"
)

var (
	ErrUnknownUser        = errors.New("unknown user")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username is already taken")
)

// Directory is the lookup consulted when a connection authenticates.
type Directory interface {
	Lookup(ctx context.Context, userID string) (model.User, error)
}

// SQLite is the directory backed by the users table. Lookups are retried
// with an exponential backoff while the database is busy.
type SQLite struct {
	db             *database.SQLite
	maxElapsedTime time.Duration
}

var _ Directory = (*SQLite)(nil)

func NewSQLite(db *database.SQLite) *SQLite {
	return &SQLite{db: db, maxElapsedTime: 2 * time.Second}
}

func (d *SQLite) Lookup(ctx context.Context, userID string) (model.User, error) {
	var user model.User
	err := retry(ctx, d.maxElapsedTime, func() error {
		row, err := d.db.Read.GetUserByID(ctx, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return backoff.Permanent(ErrUnknownUser)
		}
		if err != nil {
			return err
		}
		user = toUser(row)
		return nil
	})
	return user, err
}

// ByUsername finds a user by the name they log in with.
func (d *SQLite) ByUsername(ctx context.Context, username string) (model.User, error) {
	row, err := d.db.Read.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUnknownUser
	}
	if err != nil {
		return model.User{}, err
	}
	return toUser(row), nil
}

// Authenticate checks the credentials used to obtain a token.
func (d *SQLite) Authenticate(ctx context.Context, username, password string) (model.User, error) {
	row, err := d.db.Read.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, err
	}
	if !auth.CheckPassword(password, row.PasswordHash) {
		return model.User{}, ErrInvalidCredentials
	}
	return toUser(row), nil
}

// Register creates a user with a hashed password.
func (d *SQLite) Register(ctx context.Context, username, displayName, password string) (model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.User{}, errors.New("username and password are required")
	}
	if _, err := d.db.Read.GetUserByUsername(ctx, username); err == nil {
		return model.User{}, ErrUsernameTaken
	}

	pwd, err := auth.NewPassword(password)
	if err != nil {
		return model.User{}, err
	}
	row, err := d.db.Write.CreateUser(ctx, database.CreateUserParams{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: pwd.String(),
	})
	if err != nil {
		return model.User{}, fmt.Errorf("could not create user: %w", err)
	}
	return toUser(row), nil
}

func (d *SQLite) List(ctx context.Context) ([]model.User, error) {
	rows, err := d.db.Read.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, toUser(row))
	}
	return users, nil
}

func toUser(row database.User) model.User {
	return model.User{
		ID:          row.ID,
		Username:    row.Username,
		DisplayName: row.DisplayName,
	}
}

func retry(ctx context.Context, maxElapsedTime time.Duration, operation func() error) error {
	exponentialBackOff := backoff.NewExponentialBackOff()
	exponentialBackOff.InitialInterval = 50 * time.Millisecond
	exponentialBackOff.MaxElapsedTime = maxElapsedTime

	return backoff.RetryNotify(
		operation,
		backoff.WithContext(exponentialBackOff, ctx),
		func(err error, duration time.Duration) {
			slog.Warn("Retrying directory lookup", "duration", duration.String(), logging.Error(err))
		},
	)
}
