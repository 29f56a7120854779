package claims

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveEmailScansAllClaimValues(t *testing.T) {
	// the email often hides under a non-email claim type upstream
	email, ok := DeriveEmail([]Claim{
		{Type: "name", Value: "not-an-email"},
		{Type: "upn", Value: "user@example.com"},
	})
	require.True(t, ok)
	assert.Equal(t, "user@example.com", email)
}

func TestDeriveEmailFirstMatchWins(t *testing.T) {
	email, ok := DeriveEmail([]Claim{
		{Type: "name", Value: "first@example.com"},
		{Type: "email", Value: "second@example.com"},
	})
	require.True(t, ok)
	assert.Equal(t, "first@example.com", email)
}

func TestDeriveEmailNoMatch(t *testing.T) {
	_, ok := DeriveEmail([]Claim{
		{Type: "name", Value: "Ada Lovelace"},
		{Type: "sub", Value: "1234567890"},
	})
	assert.False(t, ok)
}

func TestIsEmail(t *testing.T) {
	valid := []string{
		"user@example.com",
		"first.last@example.com",
		"user+tag@sub.example.org",
		"u@ab.cd",
		`"quoted local"@example.com`,
		"user@[192.168.0.1]",
	}
	for _, v := range valid {
		assert.Truef(t, isEmail(v), "expected %q to match", v)
	}

	invalid := []string{
		"",
		"plainaddress",
		"@example.com",
		"user@",
		"user@localhost", // no dotted domain
		".user@example.com",
		"user@example.com ",
		"user@@example.com",
	}
	for _, v := range invalid {
		assert.Falsef(t, isEmail(v), "expected %q not to match", v)
	}
}

func TestDeriveEmailSkipsOversizedValues(t *testing.T) {
	huge := strings.Repeat("a", 300) + "@example.com"
	_, ok := DeriveEmail([]Claim{{Type: "name", Value: huge}})
	assert.False(t, ok)
}
