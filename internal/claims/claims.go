// Package claims models the typed key/value facts attached to an
// authenticated subject and prepares them for inclusion in an identity
// token: derived attributes are appended, then the set is deduplicated
// by type with the first occurrence winning.
package claims

// Well-known claim types this broker interprets. Everything else is
// carried opaquely.
const (
	TypeSubject        = "sub"
	TypeNameIdentifier = "nameidentifier"
	TypeName           = "name"
	TypeSessionID      = "sid"
	TypeEmail          = "email"
)

// Claim is a single typed fact about a subject.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Set is an ordered claim sequence with unique types.
type Set []Claim

// Aggregate prepares base claims for token issuance. When an email
// address can be derived from the claim values and no explicit email
// claim exists, a synthesized email claim is appended. The result is
// deduplicated by type with the first occurrence winning and the
// original order kept, so explicit claims always beat derived ones.
func Aggregate(base []Claim) Set {
	cs := base
	if email, ok := DeriveEmail(base); ok && !HasType(base, TypeEmail) {
		cs = make([]Claim, 0, len(base)+1)
		cs = append(cs, base...)
		cs = append(cs, Claim{Type: TypeEmail, Value: email})
	}

	out := make(Set, 0, len(cs))
	seen := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		if _, dup := seen[c.Type]; dup {
			continue
		}
		seen[c.Type] = struct{}{}
		out = append(out, c)
	}
	return out
}

// HasType reports whether any claim in cs carries the given type.
func HasType(cs []Claim, typ string) bool {
	for _, c := range cs {
		if c.Type == typ {
			return true
		}
	}
	return false
}

// First returns the value of the first claim of the given type.
func First(cs []Claim, typ string) (string, bool) {
	for _, c := range cs {
		if c.Type == typ {
			return c.Value, true
		}
	}
	return "", false
}
