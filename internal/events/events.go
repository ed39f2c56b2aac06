// Package events fans auth lifecycle events out to the configured brokers.
// Publishing never blocks or fails a request: callers log and move on.
package events

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	UserRegistered       Type = "user_registered"
	UserLoggedIn         Type = "user_logged_in"
	TokenRefreshed       Type = "token_refreshed"
	SessionRevoked       Type = "session_revoked"
	AllSessionsRevoked   Type = "all_sessions_revoked"
	RefreshReuseDetected Type = "refresh_reuse_detected"
)

type Event struct {
	Type      Type      `json:"type"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi publishes to every backend and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
