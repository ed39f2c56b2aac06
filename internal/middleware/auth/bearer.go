package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/service"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	identityKey = "identity"
	userIDKey   = "user_id"
)

type Authenticator interface {
	Authenticate(ctx context.Context, c service.Credentials) (*service.Identity, error)
}

// RequireBearer admits requests with a valid access token in the
// Authorization header. No session lookup happens here: a token stays good
// until it expires even if its session was revoked.
func RequireBearer(a Authenticator) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  identityKey,
		TokenLookup: "header:Authorization:Bearer ",
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			return a.Authenticate(c.Request().Context(), service.Credentials{
				Strategy:    service.StrategyJWT,
				AccessToken: auth,
			})
		},
		SuccessHandler: func(c echo.Context) {
			if id, ok := IdentityFrom(c); ok {
				c.Set(userIDKey, id.UserID)
			}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			if errors.Is(err, domain.ErrExpiredToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		},
	})
}

func IdentityFrom(c echo.Context) (*service.Identity, bool) {
	id, ok := c.Get(identityKey).(*service.Identity)
	return id, ok && id != nil
}

// UserID returns the authenticated user id or "" on public routes.
func UserID(c echo.Context) string {
	s, _ := c.Get(userIDKey).(string)
	return s
}
