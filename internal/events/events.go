// Package events is the observation sink for authentication outcomes.
// Raising an event is fire-and-forget: sink failures must never fail the
// user-facing flow, so Sink implementations return nothing.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/logger"
)

type Event interface {
	Name() string
}

// UserLoginSuccess is raised after a session commit, local or federated.
type UserLoginSuccess struct {
	Username  string
	UserID    string
	Provider  string // empty for local logins
	SubjectID string // upstream subject for federated logins
}

func (UserLoginSuccess) Name() string { return "user_login_success" }

// UserLoginFailure is raised on a failed credential check. It carries
// the attempted username but never the password.
type UserLoginFailure struct {
	Username string
	Reason   string
}

func (UserLoginFailure) Name() string { return "user_login_failure" }

type UserLogout struct {
	UserID   string
	Provider string
}

func (UserLogout) Name() string { return "user_logout" }

type Sink interface {
	Raise(ctx context.Context, e Event)
}

// LogSink records events through the structured logger.
type LogSink struct{}

func (LogSink) Raise(_ context.Context, e Event) {
	switch ev := e.(type) {
	case UserLoginSuccess:
		logger.Info("auth event",
			zap.String("event", ev.Name()),
			zap.String("username", ev.Username),
			zap.String("user_id", ev.UserID),
			zap.String("provider", ev.Provider),
		)
	case UserLoginFailure:
		logger.Warn("auth event",
			zap.String("event", ev.Name()),
			zap.String("username", ev.Username),
			zap.String("reason", ev.Reason),
		)
	case UserLogout:
		logger.Info("auth event",
			zap.String("event", ev.Name()),
			zap.String("user_id", ev.UserID),
			zap.String("provider", ev.Provider),
		)
	default:
		logger.Info("auth event", zap.String("event", e.Name()))
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Raise(context.Context, Event) {}
