package app

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/config"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/events"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/federation"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/flow"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/httpapi"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/middleware"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/provider"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/provider/google"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/provider/keycloak"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/session"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/statecache"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/users"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	userStore := users.NewPostgresStore(infra.DB)
	linker := federation.NewLinker(userStore)
	sessions := session.NewManager(session.NewRedisStore(infra.Redis.Client), cfg.SessionDuration)

	stateKey, err := base64.RawURLEncoding.DecodeString(cfg.StateProtectionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding state protection key: %w", err)
	}
	stateCache := statecache.NewRedisCache(infra.Redis.Client)

	loginState, err := statecache.New(stateKey, stateCache, "external:v1")
	if err != nil {
		return nil, nil, err
	}
	logoutState, err := statecache.New(stateKey, stateCache, "logout:v1")
	if err != nil {
		return nil, nil, err
	}

	registry, err := setupProviders(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	authFlow := flow.New(
		userStore,
		linker,
		sessions,
		loginState,
		logoutState,
		registry,
		events.LogSink{},
		flow.NewReturnURLValidator(cfg.DefaultRedirect, cfg.AllowedRedirectOrigins),
		flow.Options{
			CallbackURL:        cfg.ExternalCallbackURL,
			LocalLoginEnabled:  cfg.LocalLoginEnabled,
			AllowRememberLogin: cfg.AllowRememberLogin,
			RememberMeDuration: cfg.RememberMeDuration,
			StateTTL:           cfg.StateTTL,
			ShowLogoutPrompt:   cfg.ShowLogoutPrompt,
			AmbientSchemes:     cfg.AmbientAuthSchemes,
		},
	)

	authHandler := httpapi.NewHandler(authFlow, userStore)
	authMiddleware := middleware.NewAuthMiddleware(sessions)
	profile := claims.NewProfile(userStore, nil)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", func(c *gin.Context) {
		sess, _ := middleware.SessionFromContext(c.Request.Context())
		c.JSON(200, gin.H{
			"user_id":  sess.UserID,
			"username": sess.Username,
			"provider": sess.Provider,
		})
	})

	// userinfo-style view: the subject's stored claims, aggregated the
	// same way token issuance would see them
	api.GET("/profile", func(c *gin.Context) {
		sess, _ := middleware.SessionFromContext(c.Request.Context())

		active, err := profile.IsActive(c.Request.Context(), sess.UserID)
		if err != nil || !active {
			c.JSON(403, gin.H{"error": "subject inactive"})
			return
		}

		cs, err := profile.ClaimsFor(c.Request.Context(), sess.UserID)
		if err != nil {
			c.JSON(500, gin.H{"error": "profile unavailable"})
			return
		}
		c.JSON(200, gin.H{"sub": sess.UserID, "claims": cs})
	})

	return router, func() error {
		return infra.DB.Close()
	}, nil
}

// setupProviders registers every upstream provider with complete config;
// partially configured providers are a startup error, absent ones are
// skipped.
func setupProviders(ctx context.Context, cfg config.Config) (*provider.Registry, error) {
	var list []provider.Provider

	if cfg.GoogleClientID != "" {
		p, err := google.New(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.ExternalCallbackURL)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if cfg.KeycloakIssuer != "" {
		p, err := keycloak.New(ctx, cfg.KeycloakIssuer, cfg.KeycloakClientID, cfg.ExternalCallbackURL)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	return provider.NewRegistry(list...)
}
