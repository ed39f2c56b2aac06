package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/logging"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/Skotchmaster/taskhub/internal/oauth"
	"github.com/Skotchmaster/taskhub/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const oauthCookieTTL = 10 * time.Minute

type GoogleProvider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth.Profile, error)
}

func (h *AuthHTTP) GoogleStart(c echo.Context) error {
	if h.Google == nil {
		return echo.NewHTTPError(http.StatusNotFound, "google login is not configured")
	}
	state := uuid.NewString()
	verifier := oauth.NewVerifier()

	path := c.Echo().Reverse("google_callback")
	c.SetCookie(h.Cookies.create(oauthStateCookie, state, path, oauthCookieTTL))
	c.SetCookie(h.Cookies.create(oauthVerifierCookie, verifier, path, oauthCookieTTL))
	return c.Redirect(http.StatusFound, h.Google.AuthCodeURL(state, verifier))
}

// GoogleCallback finishes the code flow. The browser is sent back to the
// frontend with the refresh cookie set; the frontend then obtains its
// access token from the refresh endpoint.
func (h *AuthHTTP) GoogleCallback(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_google_callback")

	if h.Google == nil {
		return echo.NewHTTPError(http.StatusNotFound, "google login is not configured")
	}

	path := c.Echo().Reverse("google_callback")
	state, _ := c.Cookie(oauthStateCookie)
	verifier, _ := c.Cookie(oauthVerifierCookie)
	c.SetCookie(h.Cookies.delete(oauthStateCookie, path))
	c.SetCookie(h.Cookies.delete(oauthVerifierCookie, path))

	if e := c.QueryParam("error"); e != "" {
		l.Info("google_denied", "error", e)
		return h.failure(c, "access_denied")
	}
	if state == nil || verifier == nil || state.Value == "" || state.Value != c.QueryParam("state") {
		l.Warn("google_state_mismatch")
		return h.failure(c, "invalid_state")
	}

	profile, err := h.Google.Exchange(ctx, c.QueryParam("code"), verifier.Value)
	if err != nil {
		l.Warn("google_exchange_failed", "error", err)
		return h.failure(c, "exchange_failed")
	}

	id, err := h.Svc.Authenticate(ctx, service.Credentials{
		Strategy: service.StrategyGoogle,
		Profile: service.OAuthProfile{
			Provider:      models.ProviderGoogle,
			ProviderID:    profile.Subject,
			Email:         profile.Email,
			EmailVerified: profile.EmailVerified,
			DisplayName:   profile.Name,
			Picture:       profile.Picture,
		},
	})
	if err != nil {
		l.Error("google_login_failed", "error", err)
		if errors.Is(err, domain.ErrValidation) {
			return h.failure(c, "invalid_profile")
		}
		return h.failure(c, "no_user")
	}

	res, err := h.Svc.StartSession(ctx, id.User, clientMeta(c))
	if err != nil {
		l.Error("google_session_failed", "error", err)
		return h.failure(c, "session_creation_failed")
	}
	c.SetCookie(h.Cookies.refresh(res.RefreshToken))

	q := url.Values{"status": {"success"}}
	if ws := id.User.CurrentWorkspaceID; ws != nil {
		q.Set("current_workspace", *ws)
	}
	return c.Redirect(http.StatusFound, h.callbackURL(q))
}

func (h *AuthHTTP) failure(c echo.Context, code string) error {
	return c.Redirect(http.StatusFound, h.callbackURL(url.Values{"status": {"failure"}, "error": {code}}))
}

func (h *AuthHTTP) callbackURL(q url.Values) string {
	return h.FrontendCallbackURL + "?" + q.Encode()
}
