package claims

import "regexp"

// Some upstream providers (Azure AD was the observed offender) emit the
// user's email address under an unexpected claim type, typically as a
// duplicated name claim. DeriveEmail recovers it by scanning every claim
// value, not just email-typed ones, for the first RFC-5322-like address.
//
// Local part: quoted string, or dot-atom starting with an alphanumeric
// and using the permitted specials. Domain: dotted labels or a bracketed
// IPv4 literal. Go's RE2 engine matches in linear time, which gives the
// bounded-time guarantee the original enforced with a regex timeout; the
// length cap below keeps adversarially large values out entirely.
var emailPattern = regexp.MustCompile(
	`(?i)^(?:"(?:[^"\\]|\\.)+"` +
		`|[0-9a-z][a-z0-9!#$%&'*+/=?^_` + "`" + `{}|~-]*(?:\.[a-z0-9!#$%&'*+/=?^_` + "`" + `{}|~-]+)*)` +
		`@(?:\[(?:\d{1,3}\.){3}\d{1,3}\]` +
		`|(?:[0-9a-z][-a-z0-9_]*\.)+[a-z0-9][-a-z0-9]{0,22}[a-z0-9])$`)

const maxEmailCandidate = 254

// DeriveEmail returns the first claim value that looks like an email
// address, scanning claims in order regardless of their type. Values
// that are empty or longer than an address can legally be are skipped.
func DeriveEmail(cs []Claim) (string, bool) {
	for _, c := range cs {
		if isEmail(c.Value) {
			return c.Value, true
		}
	}
	return "", false
}

func isEmail(v string) bool {
	if v == "" || len(v) > maxEmailCandidate {
		return false
	}
	return emailPattern.MatchString(v)
}
