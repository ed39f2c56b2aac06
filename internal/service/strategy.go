package service

import (
	"context"
	"fmt"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/Skotchmaster/taskhub/internal/tokens"
)

type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyGoogle Strategy = "google"
	StrategyJWT    Strategy = "jwt"
)

// Credentials carries the input of one strategy; only the fields of the
// selected strategy are read.
type Credentials struct {
	Strategy Strategy

	Email    string
	Password string

	Profile OAuthProfile

	AccessToken string
}

// Identity is what a successful strategy yields. SessionID is set only for
// StrategyJWT, User only for the login strategies.
type Identity struct {
	UserID    string
	SessionID string
	User      *models.User
}

func (h *AuthService) Authenticate(ctx context.Context, c Credentials) (*Identity, error) {
	switch c.Strategy {
	case StrategyLocal:
		user, err := h.verifyLocal(ctx, c.Email, c.Password)
		if err != nil {
			return nil, err
		}
		return &Identity{UserID: user.ID, User: user}, nil

	case StrategyGoogle:
		c.Profile.Provider = models.ProviderGoogle
		user, err := h.OAuthLogin(ctx, c.Profile)
		if err != nil {
			return nil, err
		}
		return &Identity{UserID: user.ID, User: user}, nil

	case StrategyJWT:
		claims, err := h.Tokens.Verify(c.AccessToken, tokens.Access)
		if err != nil {
			return nil, err
		}
		return &Identity{UserID: claims.UserID, SessionID: claims.SessionID}, nil

	default:
		return nil, fmt.Errorf("unknown auth strategy %q: %w", c.Strategy, domain.ErrConfig)
	}
}
