package claims

import (
	"context"

	"go.uber.org/zap"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/logger"
)

// ClaimSource yields the stored raw claims for a subject. The Postgres
// user store provides the production implementation.
type ClaimSource interface {
	ClaimsForSubject(ctx context.Context, subjectID string) ([]Claim, error)
}

// ActivityGate decides whether a subject may still receive tokens. It is
// a seam for suspension/revocation policy; the broker itself takes no
// position and defaults to AlwaysActive.
type ActivityGate interface {
	IsActive(ctx context.Context, subjectID string) (bool, error)
}

// AlwaysActive is the default gate: every known subject is active.
type AlwaysActive struct{}

func (AlwaysActive) IsActive(context.Context, string) (bool, error) { return true, nil }

// Profile answers the two questions the external token-issuance
// component asks when building a token: which claims belong to this
// subject, and is the subject active.
type Profile struct {
	source ClaimSource
	gate   ActivityGate
}

func NewProfile(source ClaimSource, gate ActivityGate) *Profile {
	if gate == nil {
		gate = AlwaysActive{}
	}
	return &Profile{source: source, gate: gate}
}

// ClaimsFor loads the subject's stored claims and aggregates them for
// token issuance.
func (p *Profile) ClaimsFor(ctx context.Context, subjectID string) (Set, error) {
	cs, err := p.source.ClaimsForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	out := Aggregate(cs)
	logger.Debug("profile claims aggregated",
		zap.String("subject", subjectID),
		zap.Int("claims", len(out)),
	)
	return out, nil
}

func (p *Profile) IsActive(ctx context.Context, subjectID string) (bool, error) {
	return p.gate.IsActive(ctx, subjectID)
}
