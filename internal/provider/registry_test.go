package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
}

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) AuthCodeURL(state, nonce, codeChallenge string) string {
	return "https://" + p.name + ".example/auth?state=" + state
}

func (p stubProvider) Exchange(context.Context, string, string) (*Assertion, error) {
	return &Assertion{}, nil
}

func (p stubProvider) EndSessionURL(string, string) (string, error) {
	return "", ErrSignOutUnsupported
}

func TestRegistryLookupAndOrder(t *testing.T) {
	r, err := NewRegistry(stubProvider{name: "google"}, stubProvider{name: "keycloak"})
	require.NoError(t, err)

	assert.Equal(t, []string{"google", "keycloak"}, r.Names())
	assert.Equal(t, 2, r.Len())

	p, err := r.Get("keycloak")
	require.NoError(t, err)
	assert.Equal(t, "keycloak", p.Name())

	_, err = r.Get("github")
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(stubProvider{name: "google"}, stubProvider{name: "google"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google")
}

func TestRegistryEmpty(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Names())
}
