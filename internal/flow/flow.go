// Package flow orchestrates the user-facing authentication state
// machine: local login, external-login initiation and callback, and
// logout with optional upstream sign-out. It owns no protocol or storage
// logic itself; collaborators are injected and the flow sequences them.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/events"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/federation"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/logger"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/provider"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/session"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/statecache"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/users"
)

// InvalidCredentialsMessage is the single message shown for any local
// login failure, so responses never reveal whether the username exists.
const InvalidCredentialsMessage = "Invalid username or password"

var (
	// ErrAuthentication is the generic fatal outcome for a broken
	// callback precondition. Internal details stay in the logs.
	ErrAuthentication = errors.New("flow: authentication error")
	// ErrStateRoundTrip means the round-trip state was expired, absent
	// or tampered with; the caller should restart the login flow.
	ErrStateRoundTrip = errors.New("flow: state round-trip aborted")
	// ErrAmbientPrincipalRequired means the chosen provider is an
	// ambient (negotiate-style) scheme and the request did not carry a
	// principal yet; the transport must issue the native challenge.
	ErrAmbientPrincipalRequired = errors.New("flow: ambient principal required")
)

// Options is the flow's deployment policy.
type Options struct {
	// CallbackURL is the absolute external-callback URL registered with
	// upstream providers.
	CallbackURL string
	// LocalLoginEnabled gates the username/password path. With it off
	// and exactly one provider configured, Login passes straight
	// through to the external challenge.
	LocalLoginEnabled  bool
	AllowRememberLogin bool
	RememberMeDuration time.Duration
	// StateTTL bounds the round-trip across the upstream redirect.
	StateTTL         time.Duration
	ShowLogoutPrompt bool
	// AmbientSchemes lists providers whose principal arrives with the
	// request itself (Windows/negotiate style).
	AmbientSchemes []string
}

// Flow is the authentication state machine.
type Flow struct {
	store       users.Store
	linker      *federation.Linker
	sessions    *session.Manager
	loginState  *statecache.Protector
	logoutState *statecache.Protector
	providers   *provider.Registry
	events      events.Sink
	returnURL   *ReturnURLValidator
	opts        Options
	now         func() time.Time
}

func New(
	store users.Store,
	linker *federation.Linker,
	sessions *session.Manager,
	loginState *statecache.Protector,
	logoutState *statecache.Protector,
	providers *provider.Registry,
	sink events.Sink,
	returnURL *ReturnURLValidator,
	opts Options,
) *Flow {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Flow{
		store:       store,
		linker:      linker,
		sessions:    sessions,
		loginState:  loginState,
		logoutState: logoutState,
		providers:   providers,
		events:      sink,
		returnURL:   returnURL,
		opts:        opts,
		now:         time.Now,
	}
}

// LoginView is what the login form renders from.
type LoginView struct {
	ReturnURL         string   `json:"return_url"`
	EnableLocalLogin  bool     `json:"enable_local_login"`
	ExternalProviders []string `json:"external_providers"`
	Error             string   `json:"error,omitempty"`
}

// Redirect tells the transport where to send the browser.
type Redirect struct {
	URL string
}

// LoginResult is a committed sign-in: the established session plus the
// validated destination.
type LoginResult struct {
	Session     *session.Session
	RedirectURL string
}

// LoginAttempt is one local credential submission. It lives for a single
// request and is never logged or persisted.
type LoginAttempt struct {
	Username   string
	Password   string
	RememberMe bool
	ReturnURL  string
}

// Login starts the flow for an anonymous GET. When external federation
// is the only configured path, it skips the form and initiates the
// challenge for the single provider.
func (f *Flow) Login(ctx context.Context, returnURL string) (*LoginView, *Redirect, error) {
	if !f.opts.LocalLoginEnabled && f.providers.Len() == 1 {
		redirect, err := f.InitiateExternalLogin(ctx, f.providers.Names()[0], returnURL, nil)
		if err != nil {
			return nil, nil, err
		}
		return nil, redirect, nil
	}

	return &LoginView{
		ReturnURL:         returnURL,
		EnableLocalLogin:  f.opts.LocalLoginEnabled,
		ExternalProviders: f.providers.Names(),
	}, nil, nil
}

// SubmitLocalLogin validates credentials and, on success, commits the
// session and redirects through return-URL validation. On failure the
// form is re-rendered with a generic error and no session exists.
func (f *Flow) SubmitLocalLogin(ctx context.Context, attempt LoginAttempt) (*LoginResult, *LoginView, error) {
	u, err := f.store.FindByUsername(ctx, attempt.Username)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		return nil, nil, fmt.Errorf("flow: user lookup: %w", err)
	}

	authenticated := false
	if u != nil {
		authenticated, err = f.store.CheckPassword(ctx, u, attempt.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("flow: password check: %w", err)
		}
	}

	if !authenticated {
		f.events.Raise(ctx, events.UserLoginFailure{
			Username: attempt.Username,
			Reason:   "invalid credentials",
		})
		return nil, &LoginView{
			ReturnURL:         attempt.ReturnURL,
			EnableLocalLogin:  f.opts.LocalLoginEnabled,
			ExternalProviders: f.providers.Names(),
			Error:             InvalidCredentialsMessage,
		}, nil
	}

	opts := session.SignInOptions{
		UserID:   u.ID.String(),
		Username: u.Username,
	}
	if attempt.RememberMe && f.opts.AllowRememberLogin {
		opts.Persistent = true
		opts.Expiry = f.now().Add(f.opts.RememberMeDuration)
	}

	sess, err := f.sessions.SignIn(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("flow: sign-in: %w", err)
	}

	f.events.Raise(ctx, events.UserLoginSuccess{
		Username: u.Username,
		UserID:   u.ID.String(),
	})

	return &LoginResult{
		Session:     sess,
		RedirectURL: f.returnURL.Validate(attempt.ReturnURL),
	}, nil, nil
}

// roundTripState is the payload protected across the upstream redirect.
type roundTripState struct {
	Provider     string `json:"provider"`
	ReturnURL    string `json:"return_url"`
	Nonce        string `json:"nonce,omitempty"`
	PKCEVerifier string `json:"pkce_verifier,omitempty"`
	// Assertion short-circuits the upstream exchange for ambient
	// schemes: the principal's claims ride inside the protected state
	// and the callback consumes them as the assertion.
	Assertion []claims.Claim `json:"assertion,omitempty"`
}

// AmbientPrincipal is a provider-issued principal that arrived with the
// request itself (negotiate-style authentication).
type AmbientPrincipal struct {
	Name string
}

// InitiateExternalLogin packages the round-trip state and redirects to
// the provider's challenge endpoint. For ambient schemes with a
// principal already present, the flow skips the network challenge: the
// principal becomes the assertion and the browser is sent straight to
// the callback.
func (f *Flow) InitiateExternalLogin(ctx context.Context, providerName, returnURL string, ambient *AmbientPrincipal) (*Redirect, error) {
	// ambient schemes need no registered provider object: the principal
	// arrives with the request and there is nothing to challenge
	if slices.Contains(f.opts.AmbientSchemes, providerName) {
		if ambient == nil || ambient.Name == "" {
			return nil, ErrAmbientPrincipalRequired
		}
		st := roundTripState{
			Provider:  providerName,
			ReturnURL: returnURL,
			Assertion: []claims.Claim{
				{Type: claims.TypeSubject, Value: ambient.Name},
				{Type: claims.TypeName, Value: ambient.Name},
			},
		}
		token, err := f.protectState(ctx, st)
		if err != nil {
			return nil, err
		}
		return &Redirect{URL: f.opts.CallbackURL + "?state=" + url.QueryEscape(token)}, nil
	}

	p, err := f.providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("flow: %w", err)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	verifier, challenge, err := newPKCE()
	if err != nil {
		return nil, err
	}

	token, err := f.protectState(ctx, roundTripState{
		Provider:     providerName,
		ReturnURL:    returnURL,
		Nonce:        nonce,
		PKCEVerifier: verifier,
	})
	if err != nil {
		return nil, err
	}

	return &Redirect{URL: p.AuthCodeURL(token, nonce, challenge)}, nil
}

// CallbackInput is what the transport hands the flow when the browser
// returns from the upstream provider.
type CallbackInput struct {
	StateToken    string
	Code          string
	UpstreamError string
}

// HandleExternalCallback resumes the flow after the upstream redirect:
// it recovers the round-trip state, obtains the assertion, resolves the
// local identity and commits the session. Recovering the state consumes
// it, which is also what retires the temporary external holding
// principal on the ambient path.
func (f *Flow) HandleExternalCallback(ctx context.Context, input CallbackInput) (*LoginResult, error) {
	if input.UpstreamError != "" {
		logger.Warn("external callback returned error",
			zap.String("error", input.UpstreamError),
		)
		return nil, fmt.Errorf("%w: upstream error", ErrAuthentication)
	}

	st, err := f.unprotectState(ctx, input.StateToken)
	if err != nil {
		return nil, err
	}

	assertion, err := f.obtainAssertion(ctx, st, input)
	if err != nil {
		return nil, err
	}

	fctx, err := federation.BuildContext(st.Provider, assertion.Claims, assertion.IDToken)
	if err != nil {
		// no usable subject: fatal, never provision an unknown identity
		logger.Error("external callback rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	u, err := f.linker.ResolveOrCreate(ctx, fctx.Provider, fctx.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("flow: identity resolution: %w", err)
	}

	sc := f.linker.AttachSessionClaims(fctx)

	sess, err := f.sessions.SignIn(ctx, session.SignInOptions{
		UserID:   u.ID.String(),
		Username: u.Username,
		Provider: fctx.Provider,
		Claims:   sc.Claims,
		Tokens:   sc.Tokens,
	})
	if err != nil {
		return nil, fmt.Errorf("flow: sign-in: %w", err)
	}

	f.events.Raise(ctx, events.UserLoginSuccess{
		Username:  u.Username,
		UserID:    u.ID.String(),
		Provider:  fctx.Provider,
		SubjectID: fctx.SubjectID,
	})

	return &LoginResult{
		Session:     sess,
		RedirectURL: f.returnURL.Validate(st.ReturnURL),
	}, nil
}

func (f *Flow) obtainAssertion(ctx context.Context, st roundTripState, input CallbackInput) (*provider.Assertion, error) {
	if len(st.Assertion) > 0 {
		return &provider.Assertion{Claims: st.Assertion}, nil
	}

	if input.Code == "" {
		return nil, fmt.Errorf("%w: no assertion present", ErrAuthentication)
	}

	p, err := f.providers.Get(st.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	assertion, err := p.Exchange(ctx, input.Code, st.PKCEVerifier)
	if err != nil {
		logger.Error("upstream exchange failed",
			zap.String("provider", st.Provider),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: exchange failed", ErrAuthentication)
	}

	if st.Nonce != "" {
		nonce, _ := claims.First(assertion.Claims, "nonce")
		if nonce != st.Nonce {
			return nil, fmt.Errorf("%w: nonce mismatch", ErrAuthentication)
		}
	}
	return assertion, nil
}

func (f *Flow) protectState(ctx context.Context, st roundTripState) (string, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("flow: %w", err)
	}
	token, err := f.loginState.Protect(ctx, payload, f.opts.StateTTL)
	if err != nil {
		return "", fmt.Errorf("flow: protecting state: %w", err)
	}
	return token, nil
}

func (f *Flow) unprotectState(ctx context.Context, token string) (roundTripState, error) {
	payload, err := f.loginState.Unprotect(ctx, token)
	if err != nil {
		logger.Warn("round-trip state unavailable", zap.Error(err))
		return roundTripState{}, fmt.Errorf("%w: %v", ErrStateRoundTrip, err)
	}
	var st roundTripState
	if err := json.Unmarshal(payload, &st); err != nil {
		return roundTripState{}, fmt.Errorf("%w: %v", ErrStateRoundTrip, err)
	}
	return st, nil
}
