// Package federation maps federated identities onto local user records.
// A (provider, subject) pair resolves to exactly one user: existing links
// are reused, unseen subjects get a freshly provisioned user with an
// opaque username, and concurrent duplicate callbacks converge on the
// same record.
package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/logger"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/users"
)

// ErrMissingSubjectClaim means the upstream assertion carried no usable
// subject identifier. Fatal for the callback: a user must never be
// provisioned under an unknown identity.
var ErrMissingSubjectClaim = errors.New("federation: assertion carries no subject claim")

// Context is the one-shot product of an external-login callback: the
// upstream assertion reduced to what identity resolution needs.
type Context struct {
	Provider  string
	SubjectID string
	// Claims are the assertion's remaining claims, subject removed.
	Claims []claims.Claim
	// IDToken is the upstream token artifact, retained opaquely for a
	// later upstream sign-out. Never inspected or validated here.
	IDToken string
}

// BuildContext extracts the subject from an upstream assertion. The
// primary subject claim type is "sub"; some providers only send the
// nameidentifier variant, so that is the fallback.
func BuildContext(provider string, cs []claims.Claim, idToken string) (Context, error) {
	subject, idx := findSubject(cs)
	if idx < 0 {
		return Context{}, ErrMissingSubjectClaim
	}

	rest := make([]claims.Claim, 0, len(cs)-1)
	rest = append(rest, cs[:idx]...)
	rest = append(rest, cs[idx+1:]...)

	return Context{
		Provider:  provider,
		SubjectID: subject,
		Claims:    rest,
		IDToken:   idToken,
	}, nil
}

func findSubject(cs []claims.Claim) (string, int) {
	for i, c := range cs {
		if c.Type == claims.TypeSubject && c.Value != "" {
			return c.Value, i
		}
	}
	for i, c := range cs {
		if c.Type == claims.TypeNameIdentifier && c.Value != "" {
			return c.Value, i
		}
	}
	return "", -1
}

// SessionClaims is what AttachSessionClaims distills out of a federation
// context for the local session.
type SessionClaims struct {
	// Claims carries the upstream session id when present, so a later
	// logout can correlate the upstream and local sessions.
	Claims []claims.Claim
	// Tokens holds retained upstream artifacts by name, opaque to the
	// broker.
	Tokens map[string]string
}

// Linker resolves federated identities against the user store.
type Linker struct {
	store users.Store
}

func NewLinker(store users.Store) *Linker {
	return &Linker{store: store}
}

// ResolveOrCreate finds the user linked to (provider, subjectID),
// provisioning one on first sight. Losing the creation race to a
// concurrent callback is not an error: the winner's user is returned, so
// exactly one user ever exists per pair.
func (l *Linker) ResolveOrCreate(ctx context.Context, provider, subjectID string) (*users.User, error) {
	u, err := l.store.FindByExternalLogin(ctx, provider, subjectID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return nil, fmt.Errorf("federation: lookup: %w", err)
	}

	u, err = l.store.CreateUser(ctx, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("federation: provisioning user: %w", err)
	}

	err = l.store.AddExternalLogin(ctx, u.ID, provider, subjectID)
	if errors.Is(err, users.ErrLinkExists) {
		// a concurrent callback created the link first; use theirs
		return l.store.FindByExternalLogin(ctx, provider, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("federation: linking: %w", err)
	}

	logger.Info("provisioned user for external login",
		zap.String("provider", provider),
		zap.String("user_id", u.ID.String()),
	)
	return u, nil
}

// AttachSessionClaims propagates the upstream session id claim if present
// and records the id_token artifact for later retrieval.
func (l *Linker) AttachSessionClaims(fctx Context) SessionClaims {
	var sc SessionClaims

	if sid, ok := claims.First(fctx.Claims, claims.TypeSessionID); ok {
		sc.Claims = append(sc.Claims, claims.Claim{Type: claims.TypeSessionID, Value: sid})
	}

	if fctx.IDToken != "" {
		sc.Tokens = map[string]string{"id_token": fctx.IDToken}
	}
	return sc
}
