// Package httpapi adapts the authentication flow to HTTP: form posts in,
// redirects and minimal JSON views out. All error mapping here follows
// one rule: internal details go to the logs, generic messages go to the
// client.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/flow"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/session"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/users"
)

// AmbientPrincipalHeader carries the negotiate-authenticated principal
// set by a fronting proxy (the classic REMOTE_USER contract). The broker
// never performs the negotiate handshake itself.
const AmbientPrincipalHeader = "Remote-User"

type Handler struct {
	flow      *flow.Flow
	registrar users.Registrar
	cookies   session.CookieOptions
}

func NewHandler(f *flow.Flow, registrar users.Registrar) *Handler {
	return &Handler{
		flow:      f,
		registrar: registrar,
		cookies: session.CookieOptions{
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/account/login", h.login)
	r.POST("/account/login", h.submitLogin)
	r.POST("/account/register", h.register)
	r.GET("/account/logout", h.logout)
	r.POST("/account/logout", h.confirmLogout)
	r.GET("/external/challenge/:provider", h.externalChallenge)
	r.GET("/external/callback", h.externalCallback)
}

func (h *Handler) login(c *gin.Context) {
	view, redirect, err := h.flow.Login(c.Request.Context(), c.Query("return_url"))
	if err != nil {
		h.renderFlowError(c, err)
		return
	}
	if redirect != nil {
		c.Redirect(http.StatusFound, redirect.URL)
		return
	}
	c.JSON(http.StatusOK, view)
}

type loginForm struct {
	Username   string `form:"username" json:"username"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
	ReturnURL  string `form:"return_url" json:"return_url"`
}

func (h *Handler) submitLogin(c *gin.Context) {
	var req loginForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, view, err := h.flow.SubmitLocalLogin(c.Request.Context(), flow.LoginAttempt{
		Username:   req.Username,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		ReturnURL:  req.ReturnURL,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if view != nil {
		c.JSON(http.StatusUnauthorized, view)
		return
	}

	h.commitSession(c, result)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	_, err := h.registrar.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, users.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "registration failed"})
	default:
		c.JSON(http.StatusCreated, gin.H{"status": "registered"})
	}
}

func (h *Handler) externalChallenge(c *gin.Context) {
	var ambient *flow.AmbientPrincipal
	if name := c.GetHeader(AmbientPrincipalHeader); name != "" {
		ambient = &flow.AmbientPrincipal{Name: name}
	}

	redirect, err := h.flow.InitiateExternalLogin(
		c.Request.Context(),
		c.Param("provider"),
		c.Query("return_url"),
		ambient,
	)
	if errors.Is(err, flow.ErrAmbientPrincipalRequired) {
		// hand the handshake back to the platform in front of us
		c.Header("WWW-Authenticate", "Negotiate")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}

	c.Redirect(http.StatusFound, redirect.URL)
}

func (h *Handler) externalCallback(c *gin.Context) {
	result, err := h.flow.HandleExternalCallback(c.Request.Context(), flow.CallbackInput{
		StateToken:    c.Query("state"),
		Code:          c.Query("code"),
		UpstreamError: c.Query("error"),
	})
	if err != nil {
		h.renderFlowError(c, err)
		return
	}

	h.commitSession(c, result)
}

func (h *Handler) logout(c *gin.Context) {
	sessionID := h.sessionID(c)

	view, done, err := h.flow.StartLogout(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	if done != nil {
		h.finishLogout(c, done)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) confirmLogout(c *gin.Context) {
	logoutID := c.PostForm("logout_id")
	if logoutID == "" {
		logoutID = c.Query("logout_id")
	}

	done, err := h.flow.ConfirmLogout(c.Request.Context(), logoutID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	h.finishLogout(c, done)
}

// commitSession issues the session cookie and redirects to the validated
// destination.
func (h *Handler) commitSession(c *gin.Context, result *flow.LoginResult) {
	session.SetCookie(
		c.Writer,
		result.Session.SessionID,
		result.Session.ExpiresAt,
		result.Session.Persistent,
		h.cookies,
	)
	c.Redirect(http.StatusFound, result.RedirectURL)
}

func (h *Handler) finishLogout(c *gin.Context, done *flow.LoggedOutView) {
	// the logout id may be stale; the caller's own session goes too
	if sid := h.sessionID(c); sid != "" {
		_ = h.flow.SignOutSession(c.Request.Context(), sid)
	}
	session.ClearCookie(c.Writer, h.cookies)

	if done.ExternalSignOutURL != "" {
		c.Redirect(http.StatusFound, done.ExternalSignOutURL)
		return
	}
	c.Redirect(http.StatusFound, done.PostLogoutRedirect)
}

func (h *Handler) sessionID(c *gin.Context) string {
	cookie, err := c.Request.Cookie(session.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// renderFlowError maps flow failures onto user-safe responses: an
// aborted round-trip restarts the login flow, everything else gets the
// generic authentication error.
func (h *Handler) renderFlowError(c *gin.Context, err error) {
	if errors.Is(err, flow.ErrStateRoundTrip) {
		c.Redirect(http.StatusFound, "/account/login")
		return
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
}
