package httpserver

import (
	"net/http"
	"time"

	"github.com/Skotchmaster/taskhub/internal/logging"
	authmw "github.com/Skotchmaster/taskhub/internal/middleware/auth"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/Skotchmaster/taskhub/internal/service"
	"github.com/labstack/echo/v4"
)

type AuthHTTP struct {
	Svc     *service.AuthService
	Cookies CookieConfig
	// Google is nil when the provider is not configured.
	Google              GoogleProvider
	FrontendCallbackURL string
}

type userDTO struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Name             string  `json:"name"`
	ProfilePicture   *string `json:"profilePicture"`
	CurrentWorkspace *string `json:"currentWorkspace"`
}

func toUserDTO(u *models.User) userDTO {
	return userDTO{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		ProfilePicture:   u.ProfilePicture,
		CurrentWorkspace: u.CurrentWorkspaceID,
	}
}

type sessionDTO struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"userAgent"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

func clientMeta(c echo.Context) service.ClientMeta {
	return service.ClientMeta{UserAgent: c.Request().UserAgent(), IPAddress: c.RealIP()}
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Register(ctx, service.RegisterInput{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		return httpError(l, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message":     "User created successfully",
		"userId":      res.UserID,
		"workspaceId": res.WorkspaceID,
	})
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Login(ctx, req.Email, req.Password, clientMeta(c))
	if err != nil {
		return httpError(l, err)
	}

	c.SetCookie(h.Cookies.refresh(res.RefreshToken))
	l.Info("login_successful", "user_id", res.User.ID, "session_id", res.SessionID)

	return c.JSON(http.StatusOK, echo.Map{
		"message":      "Logged in successfully",
		"access_token": res.AccessToken,
		"user":         toUserDTO(res.User),
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	cookie, err := c.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "No refresh token provided")
	}

	res, err := h.Svc.Refresh(ctx, cookie.Value)
	if err != nil {
		he := httpError(l, err)
		if he.Code == http.StatusUnauthorized {
			c.SetCookie(h.Cookies.clearRefresh())
		}
		return he
	}

	if res.RefreshToken != "" {
		c.SetCookie(h.Cookies.refresh(res.RefreshToken))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":      "Token refreshed",
		"access_token": res.AccessToken,
	})
}

// LogOut always clears the cookie; the session behind it is revoked when
// the token still verifies.
func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	if cookie, err := c.Cookie(RefreshCookie); err == nil && cookie.Value != "" {
		if err := h.Svc.Logout(ctx, cookie.Value); err != nil {
			c.SetCookie(h.Cookies.clearRefresh())
			l.Error("logout_failed", "status", 500, "reason", "cannot revoke session", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
		}
	}

	c.SetCookie(h.Cookies.clearRefresh())
	l.Info("successful_logout")
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out successfully"})
}

func (h *AuthHTTP) LogOutAll(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout_all")

	id, ok := authmw.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}
	n, err := h.Svc.LogoutAll(ctx, id.UserID)
	if err != nil {
		return httpError(l, err)
	}

	c.SetCookie(h.Cookies.clearRefresh())
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Logged out from all devices",
		"revoked": n,
	})
}

func (h *AuthHTTP) Sessions(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_sessions")

	id, ok := authmw.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}
	list, err := h.Svc.ListSessions(ctx, id.UserID)
	if err != nil {
		return httpError(l, err)
	}

	out := make([]sessionDTO, 0, len(list))
	for _, s := range list {
		out = append(out, sessionDTO{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == id.SessionID,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

func (h *AuthHTTP) CurrentUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_current")

	id, ok := authmw.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}
	user, err := h.Svc.CurrentUser(ctx, id.UserID)
	if err != nil {
		return httpError(l, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "User fetch successfully",
		"user":    toUserDTO(user),
	})
}
