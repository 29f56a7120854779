package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
)

// SignInOptions describes the session to establish.
type SignInOptions struct {
	UserID   string
	Username string
	Provider string // empty for local logins
	Claims   []claims.Claim
	Tokens   map[string]string
	// Persistent sessions survive browser restarts, with Expiry as
	// their bounded lifetime (the remember-me path).
	Persistent bool
	Expiry     time.Time
}

// Manager owns session establishment and teardown. SignIn is the only
// commit point: until the store write returns, no session exists, so an
// aborted request leaves nothing behind.
type Manager struct {
	store      Store
	defaultTTL time.Duration
	now        func() time.Time
}

func NewManager(store Store, defaultTTL time.Duration) *Manager {
	return &Manager{
		store:      store,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SignIn establishes a session and returns the committed record.
func (m *Manager) SignIn(ctx context.Context, opts SignInOptions) (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}

	now := m.now()
	expiry := opts.Expiry
	if !opts.Persistent || expiry.IsZero() {
		expiry = now.Add(m.defaultTTL)
	}

	s := Session{
		SessionID:  id,
		UserID:     opts.UserID,
		Username:   opts.Username,
		Provider:   opts.Provider,
		Claims:     opts.Claims,
		Tokens:     opts.Tokens,
		Persistent: opts.Persistent,
		CreatedAt:  now,
		ExpiresAt:  expiry,
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SignOut removes the session. Unknown ids are not an error; sign-out is
// idempotent.
func (m *Manager) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.store.Delete(ctx, sessionID)
}

// Get loads a live session, treating expired records as absent.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil || s == nil {
		return nil, err
	}
	if m.now().After(s.ExpiresAt) {
		_ = m.store.Delete(ctx, sessionID)
		return nil, nil
	}
	return s, nil
}

// generateID generates a cryptographically secure session ID.
// 32 bytes = 256 bits of entropy.
func generateID() (string, error) {
	const size = 32

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
