package httpserver

import (
	"context"
	"net/http"

	authmw "github.com/Skotchmaster/taskhub/internal/middleware/auth"
	"github.com/Skotchmaster/taskhub/internal/middleware/csrf"
	"github.com/Skotchmaster/taskhub/internal/middleware/ratelimit"
	"github.com/labstack/echo/v4"
)

type Deps struct {
	BasePath       string
	AuthHandler    *AuthHTTP
	Limiter        *ratelimit.Limiter
	AllowedOrigins []string
	// IPExtractor defaults to the socket address.
	IPExtractor echo.IPExtractor
	// Ready reports whether the backing stores answer.
	Ready func(ctx context.Context) error
}

func Register(e *echo.Echo, d *Deps) {
	e.IPExtractor = d.IPExtractor
	if e.IPExtractor == nil {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
			}
		}
		return c.NoContent(http.StatusOK)
	})

	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.New(nil, "", false)
	}
	bearer := authmw.RequireBearer(d.AuthHandler.Svc)
	authLimit := limiter.Middleware(ratelimit.AuthRule)
	refreshLimit := limiter.Middleware(ratelimit.RefreshRule)
	origin := csrf.OriginGuard(csrf.Config{AllowedOrigins: d.AllowedOrigins})

	api := e.Group(d.BasePath)

	auth := api.Group("/auth")
	auth.POST("/register", d.AuthHandler.Register, authLimit)
	auth.POST("/login", d.AuthHandler.Login, authLimit)
	auth.POST("/refresh", d.AuthHandler.Refresh, refreshLimit, origin)
	auth.POST("/logout", d.AuthHandler.LogOut, origin)
	auth.POST("/logout-all", d.AuthHandler.LogOutAll, bearer)
	auth.GET("/sessions", d.AuthHandler.Sessions, bearer)
	auth.GET("/google", d.AuthHandler.GoogleStart)
	auth.GET("/google/callback", d.AuthHandler.GoogleCallback).Name = "google_callback"

	user := api.Group("/user", bearer)
	user.GET("/current", d.AuthHandler.CurrentUser)
}
