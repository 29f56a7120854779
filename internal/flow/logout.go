package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/events"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/logger"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/provider"
)

// LogoutView asks the user to confirm logout.
type LogoutView struct {
	LogoutID string `json:"logout_id"`
}

// LoggedOutView is the terminal logout state. ExternalSignOutURL, when
// set, is where the browser must be sent to end the upstream session.
type LoggedOutView struct {
	ExternalSignOutURL string `json:"external_sign_out_url,omitempty"`
	PostLogoutRedirect string `json:"post_logout_redirect"`
}

type logoutState struct {
	SessionID string `json:"session_id"`
}

// StartLogout begins logout for the given session. When policy requires
// no confirmation prompt, logout completes immediately and the second
// return value is set; otherwise the first carries the prompt view with
// a logout id to post back.
func (f *Flow) StartLogout(ctx context.Context, sessionID string) (*LogoutView, *LoggedOutView, error) {
	payload, err := json.Marshal(logoutState{SessionID: sessionID})
	if err != nil {
		return nil, nil, fmt.Errorf("flow: %w", err)
	}
	logoutID, err := f.logoutState.Protect(ctx, payload, f.opts.StateTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("flow: protecting logout state: %w", err)
	}

	if !f.opts.ShowLogoutPrompt {
		done, err := f.ConfirmLogout(ctx, logoutID)
		if err != nil {
			return nil, nil, err
		}
		return nil, done, nil
	}

	return &LogoutView{LogoutID: logoutID}, nil, nil
}

// ConfirmLogout completes logout. Federated sessions attempt an upstream
// sign-out when the provider supports one; providers that do not are an
// expected outcome and are ignored. The local session is cleared
// unconditionally, whatever the upstream said.
func (f *Flow) ConfirmLogout(ctx context.Context, logoutID string) (*LoggedOutView, error) {
	out := &LoggedOutView{PostLogoutRedirect: f.returnURL.defaultURL}

	payload, err := f.logoutState.Unprotect(ctx, logoutID)
	if err != nil {
		// expired or replayed logout id: nothing upstream to do, and
		// the transport clears the cookie regardless
		logger.Warn("logout state unavailable", zap.Error(err))
		return out, nil
	}

	var st logoutState
	if err := json.Unmarshal(payload, &st); err != nil {
		return out, nil
	}

	sess, err := f.sessions.Get(ctx, st.SessionID)
	if err != nil {
		return nil, fmt.Errorf("flow: loading session: %w", err)
	}
	if sess == nil {
		return out, nil
	}

	if sess.Provider != "" {
		out.ExternalSignOutURL = f.upstreamSignOutURL(sess.Provider, sess.Tokens["id_token"])
	}

	f.events.Raise(ctx, events.UserLogout{
		UserID:   sess.UserID,
		Provider: sess.Provider,
	})

	if err := f.sessions.SignOut(ctx, st.SessionID); err != nil {
		return nil, fmt.Errorf("flow: sign-out: %w", err)
	}
	return out, nil
}

// SignOutSession removes the named session directly. Transports call it
// with the session from the request's own cookie when finishing logout,
// so the local session is cleared even when the logout id was stale or
// forged. Idempotent, like the manager underneath.
func (f *Flow) SignOutSession(ctx context.Context, sessionID string) error {
	return f.sessions.SignOut(ctx, sessionID)
}

// upstreamSignOutURL asks the provider for its end-session URL.
// Unsupported sign-out is a normal protocol variance, not an error.
func (f *Flow) upstreamSignOutURL(providerName, idTokenHint string) string {
	p, err := f.providers.Get(providerName)
	if err != nil {
		logger.Warn("session references unknown provider",
			zap.String("provider", providerName),
		)
		return ""
	}

	u, err := p.EndSessionURL(idTokenHint, f.returnURL.defaultURL)
	if errors.Is(err, provider.ErrSignOutUnsupported) {
		return ""
	}
	if err != nil {
		logger.Warn("upstream sign-out failed",
			zap.String("provider", providerName),
			zap.Error(err),
		)
		return ""
	}
	return u
}
