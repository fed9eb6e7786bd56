// Package credential defines the credential store contract shared by the
// protocol engines, the HTTP credential API and out-of-process callers.
//
// All operations return a business outcome as a bool and reserve the error
// for storage failures: a false result with a nil error means the caller
// did something wrong (unknown user, duplicate user, bad password), while
// a non-nil error means the backing store is unhealthy.
package credential

import "context"

// Store is the four-operation credential contract plus an existence probe.
// Implementations must serialize operations on the same username so that
// Authenticate never observes a half-written credential.
type Store interface {
	// Authenticate reports whether a credential exists for username and
	// the supplied password matches its stored hash.
	Authenticate(ctx context.Context, username, password string) (bool, error)

	// CreateUser stores a new credential. It returns false when the
	// username is already taken.
	CreateUser(ctx context.Context, username, password string) (bool, error)

	// UpdateUser replaces the password hash for an existing username.
	// It returns false when the username does not exist.
	UpdateUser(ctx context.Context, username, newPassword string) (bool, error)

	// DeleteUser removes the credential for username. It returns false
	// when the username does not exist.
	DeleteUser(ctx context.Context, username string) (bool, error)

	// UserExists reports whether a credential exists for username.
	UserExists(ctx context.Context, username string) (bool, error)
}
