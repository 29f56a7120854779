package statecache

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is an in-memory Cache with consume-on-read semantics.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) GetDel(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	delete(c.entries, key)
	return v, nil
}

func (c *memCache) corruptAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		v[len(v)-1] ^= 0xff
		c.entries[k] = v
	}
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestProtectUnprotectRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := New(testKey(t), newMemCache(), "test:v1")
	require.NoError(t, err)

	payload := []byte(`{"return_url":"/dashboard","provider":"keycloak"}`)

	token, err := p.Protect(ctx, payload, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := p.Unprotect(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUnprotectIsSingleUse(t *testing.T) {
	ctx := context.Background()
	p, err := New(testKey(t), newMemCache(), "test:v1")
	require.NoError(t, err)

	token, err := p.Protect(ctx, []byte("payload"), time.Minute)
	require.NoError(t, err)

	_, err = p.Unprotect(ctx, token)
	require.NoError(t, err)

	// replaying the token must fail
	_, err = p.Unprotect(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnprotectUnknownToken(t *testing.T) {
	p, err := New(testKey(t), newMemCache(), "test:v1")
	require.NoError(t, err)

	_, err = p.Unprotect(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnprotectTamperedValue(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	p, err := New(testKey(t), cache, "test:v1")
	require.NoError(t, err)

	token, err := p.Protect(ctx, []byte("payload"), time.Minute)
	require.NoError(t, err)

	cache.corruptAll()

	_, err = p.Unprotect(ctx, token)
	assert.ErrorIs(t, err, ErrTampered)
}

func TestUnprotectExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := &now

	p, err := New(testKey(t), newMemCache(), "test:v1",
		WithClock(func() time.Time { return *clock }))
	require.NoError(t, err)

	token, err := p.Protect(ctx, []byte("payload"), time.Minute)
	require.NoError(t, err)

	// the cache entry is still present, only the embedded expiry passed
	later := now.Add(2 * time.Minute)
	clock = &later

	_, err = p.Unprotect(ctx, token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestPurposeSeparation(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	key := testKey(t)

	login, err := New(key, cache, "external:v1")
	require.NoError(t, err)
	logout, err := New(key, cache, "logout:v1")
	require.NoError(t, err)

	token, err := login.Protect(ctx, []byte("payload"), time.Minute)
	require.NoError(t, err)

	// same key, different purpose: the token must not resolve
	_, err = logout.Unprotect(ctx, token)
	assert.Error(t, err)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"), newMemCache(), "test:v1")
	assert.Error(t, err)
}

func TestProtectRejectsNonPositiveTTL(t *testing.T) {
	p, err := New(testKey(t), newMemCache(), "test:v1")
	require.NoError(t, err)

	_, err = p.Protect(context.Background(), []byte("x"), 0)
	assert.Error(t, err)
}
