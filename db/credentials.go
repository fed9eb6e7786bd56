package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/willowmail/willow/credential"
)

var _ credential.Store = (*Database)(nil)

const pgUniqueViolation = "23505"

// Authenticate verifies username and password against the credentials
// table. Unknown usernames and wrong passwords both report false without
// an error; only database failures surface as errors.
func (db *Database) Authenticate(ctx context.Context, username, password string) (bool, error) {
	start := time.Now()

	var hashedPassword string
	err := db.Pool.QueryRow(ctx,
		"SELECT password FROM credentials WHERE username = $1",
		username).Scan(&hashedPassword)
	observeQuery("authenticate", start, err)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("database error during authentication: %w", err)
	}

	return verifyPassword(hashedPassword, password) == nil, nil
}

// CreateUser inserts a freshly hashed credential. The unique constraint on
// username resolves concurrent creation races atomically.
func (db *Database) CreateUser(ctx context.Context, username, password string) (bool, error) {
	if username == "" {
		return false, nil
	}

	hash, err := GenerateBcryptHash(password)
	if err != nil {
		return false, err
	}

	start := time.Now()
	_, err = db.Pool.Exec(ctx,
		"INSERT INTO credentials (username, password) VALUES ($1, $2)",
		username, hash)
	observeQuery("create_user", start, err)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("database error creating user: %w", err)
	}
	return true, nil
}

// UpdateUser replaces the stored hash for an existing username with a
// newly salted one.
func (db *Database) UpdateUser(ctx context.Context, username, newPassword string) (bool, error) {
	hash, err := GenerateBcryptHash(newPassword)
	if err != nil {
		return false, err
	}

	start := time.Now()
	tag, err := db.Pool.Exec(ctx,
		"UPDATE credentials SET password = $1, updated_at = now() WHERE username = $2",
		hash, username)
	observeQuery("update_user", start, err)

	if err != nil {
		return false, fmt.Errorf("database error updating user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteUser removes the credential row for username.
func (db *Database) DeleteUser(ctx context.Context, username string) (bool, error) {
	start := time.Now()
	tag, err := db.Pool.Exec(ctx,
		"DELETE FROM credentials WHERE username = $1", username)
	observeQuery("delete_user", start, err)

	if err != nil {
		return false, fmt.Errorf("database error deleting user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UserExists reports whether a credential row exists for username.
func (db *Database) UserExists(ctx context.Context, username string) (bool, error) {
	start := time.Now()

	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM credentials WHERE username = $1)",
		username).Scan(&exists)
	observeQuery("user_exists", start, err)

	if err != nil {
		return false, fmt.Errorf("database error checking user existence: %w", err)
	}
	return exists, nil
}
