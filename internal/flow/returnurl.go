package flow

import (
	"net/url"
	"strings"
)

// ReturnURLValidator guards against open redirects. A return URL is
// accepted only if it is a local path or its origin belongs to a
// registered client; anything else is silently replaced with the
// default destination rather than erroring.
type ReturnURLValidator struct {
	defaultURL string
	allowed    map[string]struct{}
}

func NewReturnURLValidator(defaultURL string, clientOrigins []string) *ReturnURLValidator {
	if defaultURL == "" {
		defaultURL = "/"
	}
	allowed := make(map[string]struct{}, len(clientOrigins))
	for _, o := range clientOrigins {
		o = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(o), "/"))
		if o != "" {
			allowed[o] = struct{}{}
		}
	}
	return &ReturnURLValidator{defaultURL: defaultURL, allowed: allowed}
}

// Validate returns raw if it is a safe destination, else the default.
func (v *ReturnURLValidator) Validate(raw string) string {
	if raw == "" {
		return v.defaultURL
	}

	if isLocalURL(raw) {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return v.defaultURL
	}

	origin := strings.ToLower(u.Scheme + "://" + u.Host)
	if _, ok := v.allowed[origin]; ok {
		return raw
	}
	return v.defaultURL
}

// isLocalURL accepts single-slash paths only: "//host" and "/\host" are
// protocol-relative escapes browsers will follow off-site.
func isLocalURL(s string) bool {
	if !strings.HasPrefix(s, "/") {
		return false
	}
	return !strings.HasPrefix(s, "//") && !strings.HasPrefix(s, `/\`)
}
