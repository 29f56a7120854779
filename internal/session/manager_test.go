package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]Session{}}
}

func (s *memStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func TestSignInCommitsSession(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, time.Hour)
	ctx := context.Background()

	sess, err := m.SignIn(ctx, SignInOptions{
		UserID:   "user-1",
		Username: "ada",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.SessionID)

	got, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.False(t, got.Persistent)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.ExpiresAt, time.Minute)
}

func TestSignInPersistentUsesBoundedLifetime(t *testing.T) {
	m := NewManager(newMemStore(), time.Hour)
	expiry := time.Now().Add(30 * 24 * time.Hour)

	sess, err := m.SignIn(context.Background(), SignInOptions{
		UserID:     "user-1",
		Username:   "ada",
		Persistent: true,
		Expiry:     expiry,
	})
	require.NoError(t, err)
	assert.True(t, sess.Persistent)
	assert.Equal(t, expiry, sess.ExpiresAt)
}

func TestGetTreatsExpiredAsAbsent(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, time.Hour)
	ctx := context.Background()

	sess, err := m.SignIn(ctx, SignInOptions{UserID: "user-1", Username: "ada"})
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	got, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// expired record is also cleaned up
	store.mu.Lock()
	_, stillThere := store.sessions[sess.SessionID]
	store.mu.Unlock()
	assert.False(t, stillThere)
}

func TestSignOutIsIdempotent(t *testing.T) {
	m := NewManager(newMemStore(), time.Hour)
	ctx := context.Background()

	sess, err := m.SignIn(ctx, SignInOptions{UserID: "user-1", Username: "ada"})
	require.NoError(t, err)

	require.NoError(t, m.SignOut(ctx, sess.SessionID))
	require.NoError(t, m.SignOut(ctx, sess.SessionID))
	require.NoError(t, m.SignOut(ctx, ""))

	got, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
