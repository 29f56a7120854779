package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateReturnURL(t *testing.T) {
	v := NewReturnURLValidator("/", []string{
		"https://client.example",
		"https://Other.Example/", // normalized on registration
	})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty falls back to default", "", "/"},
		{"local path accepted", "/dashboard", "/dashboard"},
		{"local path with query accepted", "/connect/authorize?client_id=spa", "/connect/authorize?client_id=spa"},
		{"registered origin accepted", "https://client.example/app/landing", "https://client.example/app/landing"},
		{"registered origin case-insensitive", "https://other.example/cb", "https://other.example/cb"},
		{"unregistered origin rejected", "https://evil.example/phish", "/"},
		{"protocol-relative rejected", "//evil.example/phish", "/"},
		{"backslash escape rejected", `/\evil.example`, "/"},
		{"schemeless garbage rejected", "evil.example/phish", "/"},
		{"different scheme same host rejected", "http://client.example/app", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Validate(tt.in))
		})
	}
}

func TestValidateReturnURLEmptyDefault(t *testing.T) {
	v := NewReturnURLValidator("", nil)
	assert.Equal(t, "/", v.Validate("https://anywhere.example"))
}
