package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppPort string `env:"APP_PORT" envDefault:"8080"`

	DatabaseDSN string `env:"DATABASE_DSN,required"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// StateProtectionKey is the base64 (raw url) encoding of the 32-byte
	// key that seals round-trip state payloads.
	StateProtectionKey string        `env:"STATE_PROTECTION_KEY,required"`
	StateTTL           time.Duration `env:"STATE_TTL" envDefault:"10m"`

	SessionDuration    time.Duration `env:"SESSION_DURATION" envDefault:"24h"`
	AllowRememberLogin bool          `env:"ALLOW_REMEMBER_LOGIN" envDefault:"true"`
	RememberMeDuration time.Duration `env:"REMEMBER_ME_DURATION" envDefault:"720h"`

	LocalLoginEnabled bool `env:"LOCAL_LOGIN_ENABLED" envDefault:"true"`
	ShowLogoutPrompt  bool `env:"SHOW_LOGOUT_PROMPT" envDefault:"true"`

	// AllowedRedirectOrigins lists registered client origins that are valid
	// post-login redirect destinations, e.g. https://app.example.com.
	// Local paths are always allowed.
	AllowedRedirectOrigins []string `env:"ALLOWED_REDIRECT_ORIGINS" envSeparator:","`
	DefaultRedirect        string   `env:"DEFAULT_REDIRECT" envDefault:"/"`

	// ExternalCallbackURL is the absolute URL upstream providers redirect
	// back to, e.g. https://broker.example.com/external/callback.
	ExternalCallbackURL string `env:"EXTERNAL_CALLBACK_URL,required"`

	// AmbientAuthSchemes lists providers whose principal arrives with the
	// request itself (Windows/negotiate style) instead of via a redirect.
	AmbientAuthSchemes []string `env:"AMBIENT_AUTH_SCHEMES" envSeparator:","`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	KeycloakIssuer   string `env:"KEYCLOAK_ISSUER"`
	KeycloakClientID string `env:"KEYCLOAK_CLIENT_ID"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
