package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateDeduplicatesByType(t *testing.T) {
	got := Aggregate([]Claim{
		{Type: "name", Value: "first"},
		{Type: "role", Value: "admin"},
		{Type: "name", Value: "second"},
		{Type: "role", Value: "user"},
	})

	seen := map[string]int{}
	for _, c := range got {
		seen[c.Type]++
	}
	for typ, n := range seen {
		assert.Equalf(t, 1, n, "type %q appears %d times", typ, n)
	}

	// first occurrence wins, original order kept
	require.Len(t, got, 2)
	assert.Equal(t, Claim{Type: "name", Value: "first"}, got[0])
	assert.Equal(t, Claim{Type: "role", Value: "admin"}, got[1])
}

func TestAggregateAppendsDerivedEmail(t *testing.T) {
	got := Aggregate([]Claim{
		{Type: "sub", Value: "123"},
		{Type: "name", Value: "user@example.com"},
	})

	email, ok := First(got, TypeEmail)
	require.True(t, ok)
	assert.Equal(t, "user@example.com", email)

	// derived claim is appended after the base claims
	assert.Equal(t, TypeEmail, got[len(got)-1].Type)
}

func TestAggregateNeverOverwritesExplicitEmail(t *testing.T) {
	got := Aggregate([]Claim{
		{Type: "name", Value: "derived@example.com"},
		{Type: "email", Value: "explicit@example.com"},
	})

	email, ok := First(got, TypeEmail)
	require.True(t, ok)
	assert.Equal(t, "explicit@example.com", email)

	count := 0
	for _, c := range got {
		if c.Type == TypeEmail {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAggregateNoEmailAnywhere(t *testing.T) {
	got := Aggregate([]Claim{
		{Type: "sub", Value: "123"},
		{Type: "name", Value: "Ada Lovelace"},
	})

	_, ok := First(got, TypeEmail)
	assert.False(t, ok)
	assert.Len(t, got, 2)
}

func TestAggregateEmptyInput(t *testing.T) {
	assert.Empty(t, Aggregate(nil))
}
