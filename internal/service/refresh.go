package service

import (
	"context"
	"errors"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/events"
	"github.com/Skotchmaster/taskhub/internal/logging"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/Skotchmaster/taskhub/internal/tokens"
	"github.com/google/uuid"
)

// Refresh exchanges a refresh token for a new access token. The session the
// token names must exist, belong to the token's user and be usable.
func (h *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := h.Tokens.Verify(refreshToken, tokens.Refresh)
	if err != nil {
		l.Info("refresh_rejected", "reason", err.Error())
		return nil, err
	}

	sess, err := h.Sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		l.Info("refresh_rejected", "reason", "session not found", "session_id", claims.SessionID)
		return nil, domain.ErrSessionRevoked
	}
	if err != nil {
		l.Error("refresh_error", "error", err)
		return nil, err
	}
	if sess.UserID != claims.UserID {
		l.Warn("refresh_rejected", "reason", "session owner mismatch", "session_id", sess.ID)
		return nil, domain.ErrInvalidToken
	}
	if !sess.IsValid {
		l.Info("refresh_rejected", "reason", "session revoked", "session_id", sess.ID)
		return nil, domain.ErrSessionRevoked
	}
	if !h.now().Before(sess.ExpiresAt) {
		l.Info("refresh_rejected", "reason", "session expired", "session_id", sess.ID)
		return nil, domain.ErrSessionExpired
	}

	access, err := h.Tokens.IssueAccess(claims.UserID, sess.ID)
	if err != nil {
		return nil, err
	}
	res := &RefreshResult{AccessToken: access.Value, AccessExp: access.ExpiresAt}

	if h.Rotation.Enabled {
		if err := h.rotate(ctx, claims, sess, res); err != nil {
			return nil, err
		}
	}

	h.publish(ctx, events.Event{Type: events.TokenRefreshed, UserID: claims.UserID, SessionID: sess.ID})
	return res, nil
}

func (h *AuthService) rotate(ctx context.Context, claims *tokens.Claims, sess *models.Session, res *RefreshResult) error {
	if claims.ID == sess.RefreshJTI {
		next := uuid.NewString()
		refresh, err := h.Tokens.IssueRefreshWithJTI(claims.UserID, sess.ID, next)
		if err != nil {
			return err
		}
		swapped, err := h.Sessions.Rotate(ctx, sess.ID, claims.ID, next, refresh.ExpiresAt)
		if err != nil {
			return err
		}
		if swapped {
			res.RefreshToken, res.RefreshExp = refresh.Value, refresh.ExpiresAt
			return nil
		}

		// Lost a race against a parallel refresh with the same token.
		sess, err = h.Sessions.Get(ctx, sess.ID)
		if err != nil || !sess.Usable(h.now()) {
			return domain.ErrSessionRevoked
		}
	}
	return h.rotateWithinGrace(ctx, claims, sess, res)
}

// rotateWithinGrace accepts the token a rotation just replaced and hands out
// the current one again. Anything else is reuse and kills the session.
func (h *AuthService) rotateWithinGrace(ctx context.Context, claims *tokens.Claims, sess *models.Session, res *RefreshResult) error {
	inGrace := claims.ID == sess.PreviousJTI &&
		sess.RotatedAt != nil &&
		h.now().Sub(*sess.RotatedAt) <= h.Rotation.Grace
	if inGrace {
		refresh, err := h.Tokens.IssueRefreshWithJTI(claims.UserID, sess.ID, sess.RefreshJTI)
		if err != nil {
			return err
		}
		res.RefreshToken, res.RefreshExp = refresh.Value, refresh.ExpiresAt
		return nil
	}

	logging.FromContext(ctx).Warn("refresh_reuse_detected", "user_id", claims.UserID, "session_id", sess.ID)
	if err := h.Sessions.Invalidate(ctx, sess.ID); err != nil {
		return err
	}
	h.publish(ctx, events.Event{Type: events.RefreshReuseDetected, UserID: claims.UserID, SessionID: sess.ID})
	return domain.ErrSessionRevoked
}
