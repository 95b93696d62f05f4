package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

const createUser = `INSERT INTO users (id, username, display_name, password_hash, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id, username, display_name, password_hash, created_at`

const getUserByID = `SELECT id, username, display_name, password_hash, created_at
FROM users
WHERE id = ?`

const getUserByUsername = `SELECT id, username, display_name, password_hash, created_at
FROM users
WHERE username = ?`

const listUsers = `SELECT id, username, display_name, password_hash, created_at
FROM users
ORDER BY username`

type Queries struct {
	db                    DBTX
	createUserStmt        *sql.Stmt
	getUserByIDStmt       *sql.Stmt
	getUserByUsernameStmt *sql.Stmt
	listUsersStmt         *sql.Stmt
}

func Prepare(ctx context.Context, db DBTX) (*Queries, error) {
	q := Queries{db: db}
	var err error
	if q.createUserStmt, err = db.PrepareContext(ctx, createUser); err != nil {
		return nil, fmt.Errorf("error preparing query CreateUser: %w", err)
	}
	if q.getUserByIDStmt, err = db.PrepareContext(ctx, getUserByID); err != nil {
		return nil, fmt.Errorf("error preparing query GetUserByID: %w", err)
	}
	if q.getUserByUsernameStmt, err = db.PrepareContext(ctx, getUserByUsername); err != nil {
		return nil, fmt.Errorf("error preparing query GetUserByUsername: %w", err)
	}
	if q.listUsersStmt, err = db.PrepareContext(ctx, listUsers); err != nil {
		return nil, fmt.Errorf("error preparing query ListUsers: %w", err)
	}
	return &q, nil
}

func (q *Queries) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{q.createUserStmt, q.getUserByIDStmt, q.getUserByUsernameStmt, q.listUsersStmt} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	return errors.Join(errs...)
}

type CreateUserParams struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	createdAt := arg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := q.createUserStmt.QueryRowContext(ctx, arg.ID, arg.Username, arg.DisplayName, arg.PasswordHash, createdAt.UnixMilli())
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(q.getUserByIDStmt.QueryRowContext(ctx, id))
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(q.getUserByUsernameStmt.QueryRowContext(ctx, username))
}

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.listUsersStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []User
	for rows.Next() {
		i, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var (
		i         User
		createdAt int64
	)
	err := row.Scan(&i.ID, &i.Username, &i.DisplayName, &i.PasswordHash, &createdAt)
	i.CreatedAt = time.UnixMilli(createdAt)
	return i, err
}
