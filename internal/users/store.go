// Package users is the credential and identity store: local accounts
// with bcrypt credentials, plus the (provider, subject) links that tie
// federated identities to local user records.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("users: not found")
	ErrAlreadyRegistered = errors.New("users: username already registered")
	// ErrLinkExists means another caller won the race to create the
	// (provider, subject) link; callers fall back to a lookup.
	ErrLinkExists = errors.New("users: external login already linked")
)

// User is a local user record. Records are created on registration or
// first federated login and never deleted by this broker.
type User struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// Store is the credential-store surface the flow and the federation
// linker depend on.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	CheckPassword(ctx context.Context, user *User, password string) (bool, error)
	FindByExternalLogin(ctx context.Context, provider, subjectID string) (*User, error)
	// CreateUser must be safe to call concurrently; usernames collide
	// only if the caller reuses one.
	CreateUser(ctx context.Context, username string) (*User, error)
	// AddExternalLogin returns ErrLinkExists when the (provider,
	// subjectID) pair is already linked to some user.
	AddExternalLogin(ctx context.Context, userID uuid.UUID, provider, subjectID string) error
}

// Registrar provisions local accounts with password credentials.
type Registrar interface {
	Register(ctx context.Context, username, password string) (*User, error)
}
