package federation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/users"
)

// fakeStore is an in-memory users.Store with the same uniqueness
// guarantee the database enforces on (provider, subject_id).
type fakeStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*users.User
	links map[string]uuid.UUID // provider+"|"+subject -> user id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[uuid.UUID]*users.User{},
		links: map[string]uuid.UUID{},
	}
}

func linkKey(provider, subjectID string) string { return provider + "|" + subjectID }

func (s *fakeStore) FindByUsername(_ context.Context, username string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, users.ErrNotFound
}

func (s *fakeStore) CheckPassword(context.Context, *users.User, string) (bool, error) {
	return false, nil
}

func (s *fakeStore) FindByExternalLogin(_ context.Context, provider, subjectID string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.links[linkKey(provider, subjectID)]
	if !ok {
		return nil, users.ErrNotFound
	}
	return s.users[id], nil
}

func (s *fakeStore) CreateUser(_ context.Context, username string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &users.User{ID: uuid.New(), Username: username}
	s.users[u.ID] = u
	return u, nil
}

func (s *fakeStore) AddExternalLogin(_ context.Context, userID uuid.UUID, provider, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(provider, subjectID)
	if _, exists := s.links[key]; exists {
		return users.ErrLinkExists
	}
	s.links[key] = userID
	return nil
}

func TestResolveOrCreateProvisionsOnFirstSight(t *testing.T) {
	store := newFakeStore()
	linker := NewLinker(store)

	u, err := linker.ResolveOrCreate(context.Background(), "keycloak", "subject-1")
	require.NoError(t, err)
	require.NotNil(t, u)

	// opaque generated username, not derived from the subject
	_, err = uuid.Parse(u.Username)
	assert.NoError(t, err)
}

func TestResolveOrCreateReusesExistingIdentity(t *testing.T) {
	store := newFakeStore()
	linker := NewLinker(store)
	ctx := context.Background()

	first, err := linker.ResolveOrCreate(ctx, "keycloak", "subject-1")
	require.NoError(t, err)

	second, err := linker.ResolveOrCreate(ctx, "keycloak", "subject-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.links, 1)
}

func TestResolveOrCreateDistinctProvidersDistinctUsers(t *testing.T) {
	store := newFakeStore()
	linker := NewLinker(store)
	ctx := context.Background()

	a, err := linker.ResolveOrCreate(ctx, "google", "subject-1")
	require.NoError(t, err)
	b, err := linker.ResolveOrCreate(ctx, "keycloak", "subject-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestResolveOrCreateConcurrentCallbacksConverge(t *testing.T) {
	store := newFakeStore()
	linker := NewLinker(store)

	const n = 32
	results := make([]uuid.UUID, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := linker.ResolveOrCreate(context.Background(), "keycloak", "racing-subject")
			if !assert.NoError(t, err) {
				return
			}
			results[i] = u.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.Len(t, store.links, 1)
}

func TestBuildContextExtractsSubject(t *testing.T) {
	fctx, err := BuildContext("keycloak", []claims.Claim{
		{Type: "name", Value: "ada"},
		{Type: "sub", Value: "subject-1"},
		{Type: "email", Value: "ada@example.com"},
	}, "raw-id-token")
	require.NoError(t, err)

	assert.Equal(t, "subject-1", fctx.SubjectID)
	assert.Equal(t, "raw-id-token", fctx.IDToken)
	// subject claim is removed, the rest kept in order
	assert.Equal(t, []claims.Claim{
		{Type: "name", Value: "ada"},
		{Type: "email", Value: "ada@example.com"},
	}, fctx.Claims)
}

func TestBuildContextFallsBackToNameIdentifier(t *testing.T) {
	fctx, err := BuildContext("adfs", []claims.Claim{
		{Type: "nameidentifier", Value: "legacy-id"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "legacy-id", fctx.SubjectID)
}

func TestBuildContextMissingSubjectIsFatal(t *testing.T) {
	_, err := BuildContext("keycloak", []claims.Claim{
		{Type: "name", Value: "ada"},
	}, "")
	assert.ErrorIs(t, err, ErrMissingSubjectClaim)
}

func TestAttachSessionClaims(t *testing.T) {
	sc := NewLinker(newFakeStore()).AttachSessionClaims(Context{
		Provider:  "keycloak",
		SubjectID: "subject-1",
		Claims: []claims.Claim{
			{Type: "sid", Value: "upstream-session"},
			{Type: "name", Value: "ada"},
		},
		IDToken: "raw-id-token",
	})

	assert.Equal(t, []claims.Claim{{Type: "sid", Value: "upstream-session"}}, sc.Claims)
	assert.Equal(t, map[string]string{"id_token": "raw-id-token"}, sc.Tokens)
}

func TestAttachSessionClaimsNothingToAttach(t *testing.T) {
	sc := NewLinker(newFakeStore()).AttachSessionClaims(Context{
		Provider:  "google",
		SubjectID: "subject-1",
	})

	assert.Empty(t, sc.Claims)
	assert.Nil(t, sc.Tokens)
}
