package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/labstack/echo/v4"
)

// leaf errors whose message may be shown to the caller verbatim.
var public = []error{
	domain.ErrInvalidCredentials,
	domain.ErrExpiredToken,
	domain.ErrInvalidToken,
	domain.ErrSessionRevoked,
	domain.ErrSessionExpired,
	domain.ErrEmailExists,
	domain.ErrUserNotFound,
	domain.ErrSessionNotFound,
}

func publicMessage(err error, fallback string) string {
	for _, p := range public {
		if errors.Is(err, p) {
			return p.Error()
		}
	}
	return fallback
}

// httpError maps a service error onto a status code. Anything outside the
// known categories is logged and hidden behind a generic 500.
func httpError(l *slog.Logger, err error) *echo.HTTPError {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Msg)
	case errors.Is(err, domain.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, publicMessage(err, "conflict"))
	case errors.Is(err, domain.ErrAuth):
		return echo.NewHTTPError(http.StatusUnauthorized, publicMessage(err, "Unauthorized"))
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, publicMessage(err, "not found"))
	default:
		l.Error("internal_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}
