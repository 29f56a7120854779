// Package statecache replaces large round-trip authentication state with
// an opaque reference. Protect seals a payload with AES-GCM, stores it in
// a shared cache under a random token, and hands back only the token,
// which is small enough for a redirect parameter or cookie regardless of
// payload size and tamper-proof without trusting the cache.
//
// Tokens are single use: a successful Unprotect consumes the cache entry,
// so a replayed redirect fails with ErrNotFound instead of opening a
// replay window for the remainder of the TTL.
package statecache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the token is unknown: never issued, already
	// consumed, or evicted by the cache TTL.
	ErrNotFound = errors.New("statecache: token not found")
	// ErrExpired means the entry was still present but its embedded
	// expiry has passed.
	ErrExpired = errors.New("statecache: state expired")
	// ErrTampered means the stored value failed its integrity check.
	ErrTampered = errors.New("statecache: state failed integrity check")

	// ErrCacheMiss is returned by Cache implementations for absent keys.
	ErrCacheMiss = errors.New("statecache: cache miss")
)

// Cache is the shared backing store. GetDel must remove the entry as it
// reads it; the redis implementation uses GETDEL so the consume is atomic
// across replicas of this service.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetDel(ctx context.Context, key string) ([]byte, error)
}

const (
	tokenBytes = 32
	keyBytes   = 32
)

// envelope is what actually gets sealed. The expiry rides inside the
// authenticated payload so a cache that outlives its TTL still cannot
// resurface stale state.
type envelope struct {
	ExpiresAt int64  `json:"exp"`
	Payload   []byte `json:"p"`
}

// Protector seals payloads and indirects them through the cache.
type Protector struct {
	aead    cipher.AEAD
	cache   Cache
	purpose string
	now     func() time.Time
}

// Option configures a Protector.
type Option func(*Protector)

// WithClock overrides the time source; tests use it to force expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Protector) { p.now = now }
}

// New builds a Protector over a 32-byte key. The purpose string is mixed
// into the AEAD's additional data, so state sealed for one consumer
// (say "external:v1") cannot be presented to another ("logout:v1").
func New(key []byte, cache Cache, purpose string, opts ...Option) (*Protector, error) {
	if len(key) != keyBytes {
		return nil, fmt.Errorf("statecache: key must be %d bytes, got %d", keyBytes, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("statecache: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("statecache: %w", err)
	}
	p := &Protector{
		aead:    aead,
		cache:   cache,
		purpose: purpose,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Protect seals payload and stores it under a fresh random token with the
// given TTL. The returned token is the only externally visible handle.
func (p *Protector) Protect(ctx context.Context, payload []byte, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("statecache: ttl must be positive")
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}

	plain, err := json.Marshal(envelope{
		ExpiresAt: p.now().Add(ttl).Unix(),
		Payload:   payload,
	})
	if err != nil {
		return "", fmt.Errorf("statecache: %w", err)
	}

	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("statecache: %w", err)
	}

	sealed := p.aead.Seal(nonce, nonce, plain, p.aad(token))

	if err := p.cache.Set(ctx, p.cacheKey(token), sealed, ttl); err != nil {
		return "", fmt.Errorf("statecache: cache write: %w", err)
	}
	return token, nil
}

// Unprotect resolves a token back into its original payload, consuming
// the cache entry. It never interprets the payload.
func (p *Protector) Unprotect(ctx context.Context, token string) ([]byte, error) {
	sealed, err := p.cache.GetDel(ctx, p.cacheKey(token))
	if errors.Is(err, ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statecache: cache read: %w", err)
	}

	if len(sealed) < p.aead.NonceSize() {
		return nil, ErrTampered
	}
	nonce, ciphertext := sealed[:p.aead.NonceSize()], sealed[p.aead.NonceSize():]

	plain, err := p.aead.Open(nil, nonce, ciphertext, p.aad(token))
	if err != nil {
		return nil, ErrTampered
	}

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, ErrTampered
	}

	if p.now().After(time.Unix(env.ExpiresAt, 0)) {
		return nil, ErrExpired
	}
	return env.Payload, nil
}

// aad binds the sealed envelope to both its token and its consumer, so a
// valid entry cannot be replayed under a different key or purpose.
func (p *Protector) aad(token string) []byte {
	return []byte(p.purpose + ":" + token)
}

func (p *Protector) cacheKey(token string) string {
	return "state:" + p.purpose + ":" + token
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("statecache: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
