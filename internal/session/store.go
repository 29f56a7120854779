package session

import (
	"context"
	"time"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
)

// Session is an established local authentication session. Provider is
// empty for local credential logins; for federated logins it names the
// upstream scheme, and Tokens may retain opaque upstream artifacts
// (e.g. the id_token used as a hint during upstream sign-out).
type Session struct {
	SessionID  string            `json:"session_id"`
	UserID     string            `json:"user_id"`
	Username   string            `json:"username"`
	Provider   string            `json:"provider,omitempty"`
	Claims     []claims.Claim    `json:"claims,omitempty"`
	Tokens     map[string]string `json:"tokens,omitempty"`
	Persistent bool              `json:"persistent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Store defines how sessions are stored and retrieved. Implementations
// must remain stateless and opaque.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
