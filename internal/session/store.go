// Package session persists login sessions. A session is usable while it is
// valid and not yet expired. Invalidated sessions are kept for listing and
// auditing until they expire and get swept.
package session

import (
	"context"
	"time"

	"github.com/Skotchmaster/taskhub/internal/models"
)

type NewSession struct {
	UserID     string
	UserAgent  string
	IPAddress  string
	TTL        time.Duration
	RefreshJTI string
}

type Store interface {
	Create(ctx context.Context, in NewSession) (*models.Session, error)
	// Get returns domain.ErrSessionNotFound for unknown ids. A session found
	// already expired is deleted and still returned to this one caller.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Invalidate is idempotent and silent for unknown ids.
	Invalidate(ctx context.Context, id string) error
	// InvalidateAll returns how many sessions flipped from valid to invalid.
	InvalidateAll(ctx context.Context, userID string) (int64, error)
	// ListUsable returns the user's usable sessions, newest first.
	ListUsable(ctx context.Context, userID string) ([]models.Session, error)
	// Rotate swaps the refresh jti only if oldJTI is still current and the
	// session is valid. It reports whether the swap happened.
	Rotate(ctx context.Context, id, oldJTI, newJTI string, expiresAt time.Time) (bool, error)
	// Sweep removes expired sessions and reports how many went away.
	Sweep(ctx context.Context) (int64, error)
}

func IsUsable(s *models.Session, now time.Time) bool {
	return s != nil && s.Usable(now)
}

func nowUTC() time.Time { return time.Now().UTC() }
