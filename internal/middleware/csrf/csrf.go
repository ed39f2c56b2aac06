// Package csrf guards the cookie-authenticated endpoints. The refresh
// cookie is sent by the browser on any cross-site POST, so state-changing
// requests carrying a foreign Origin are refused.
package csrf

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

type Config struct {
	// AllowedOrigins are accepted in addition to the server's own origin,
	// e.g. the SPA's dev server.
	AllowedOrigins []string
}

func OriginGuard(cfg Config) echo.MiddlewareFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimRight(strings.ToLower(o), "/"); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			origin := requestOrigin(req)
			// Non-browser clients send neither header.
			if origin == "" {
				return next(c)
			}
			if _, ok := allowed[origin]; ok || sameOrigin(req, origin) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "invalid origin")
		}
	}
}

func requestOrigin(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		ref := r.Header.Get("Referer")
		if ref == "" {
			return origin
		}
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			return "invalid"
		}
		origin = u.Scheme + "://" + u.Host
	}
	return strings.TrimRight(strings.ToLower(origin), "/")
}

func sameOrigin(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, schemeOf(r)) && strings.EqualFold(u.Host, r.Host)
}

func schemeOf(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return p
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
