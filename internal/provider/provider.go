// Package provider defines the contract for upstream identity providers.
// Implementations return identity facts only and must not perform user
// creation, linking, or session management.
package provider

import (
	"context"
	"errors"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
)

// ErrSignOutUnsupported means the upstream has no end-session endpoint
// or rejects the operation. Expected for several providers; callers
// swallow it and proceed with local sign-out.
var ErrSignOutUnsupported = errors.New("provider: upstream does not support sign-out")

// Assertion is a verified upstream identity assertion reduced to its
// claims plus the raw id_token artifact (kept opaquely for later
// upstream sign-out, never re-inspected).
type Assertion struct {
	Claims  []claims.Claim
	IDToken string
}

// Provider is an upstream identity provider the broker can federate to.
type Provider interface {
	// Name returns the provider identifier (e.g. "google", "keycloak").
	Name() string

	// AuthCodeURL returns the upstream authorization URL. State, nonce
	// and PKCE parameters are provided by the caller.
	AuthCodeURL(state, nonce, codeChallenge string) string

	// Exchange redeems the authorization code, verifies the id_token
	// and returns the assertion.
	Exchange(ctx context.Context, code, codeVerifier string) (*Assertion, error)

	// EndSessionURL builds the upstream sign-out URL, or returns
	// ErrSignOutUnsupported.
	EndSessionURL(idTokenHint, postLogoutRedirect string) (string, error)
}
