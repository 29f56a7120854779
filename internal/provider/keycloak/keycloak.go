package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/logger"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/provider"
)

const providerName = "keycloak"

// Provider federates to a Keycloak realm. Keycloak publishes an
// end-session endpoint, so upstream sign-out is supported.
type Provider struct {
	oauthConfig   *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	endSessionURL string
}

// New initializes a Keycloak provider using discovery. issuer must be
// the realm issuer URL, e.g. https://sso.example.com/realms/broker
func New(
	ctx context.Context,
	issuer string,
	clientID string,
	redirectURL string,
) (*Provider, error) {

	if issuer == "" || clientID == "" || redirectURL == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init keycloak oidc provider: %w", err)
	}

	verifier := oidcProvider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	// end_session_endpoint is part of discovery but not surfaced by the
	// typed Endpoint(), so pull it from the raw document.
	var disco struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := oidcProvider.Claims(&disco); err != nil {
		return nil, fmt.Errorf("keycloak discovery claims parse failed: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    oidcProvider.Endpoint(),
		Scopes: []string{
			oidc.ScopeOpenID,
			"email",
			"profile",
		},
	}

	return &Provider{
		oauthConfig:   oauthCfg,
		verifier:      verifier,
		endSessionURL: disco.EndSessionEndpoint,
	}, nil
}

// Name returns the provider identifier used by the registry.
func (p *Provider) Name() string {
	return providerName
}

// AuthCodeURL builds the authorization URL with nonce and PKCE parameters.
func (p *Provider) AuthCodeURL(state, nonce, codeChallenge string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange redeems the authorization code and returns the verified
// assertion. This method MUST NOT create users, sessions, or perform
// linking logic.
func (p *Provider) Exchange(
	ctx context.Context,
	code string,
	codeVerifier string,
) (*provider.Assertion, error) {

	token, err := p.oauthConfig.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		logger.Error("keycloak token exchange failed", zap.Error(err))
		return nil, err
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("keycloak did not return id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Error("keycloak id_token verification failed", zap.Error(err))
		return nil, err
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("keycloak id_token claims parse failed: %w", err)
	}

	logger.Info("keycloak oidc verified",
		zap.String("issuer", idToken.Issuer),
		zap.Int("claims", len(raw)),
	)

	return &provider.Assertion{
		Claims:  provider.FlattenClaims(raw),
		IDToken: rawIDToken,
	}, nil
}

// EndSessionURL builds the realm's sign-out URL with the retained
// id_token as a hint.
func (p *Provider) EndSessionURL(idTokenHint, postLogoutRedirect string) (string, error) {
	if p.endSessionURL == "" {
		return "", provider.ErrSignOutUnsupported
	}

	q := url.Values{}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	if len(q) == 0 {
		return p.endSessionURL, nil
	}
	return p.endSessionURL + "?" + q.Encode(), nil
}
