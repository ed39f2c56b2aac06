package httpserver

import (
	"net/http"
	"time"
)

const (
	RefreshCookie       = "refresh_token"
	oauthStateCookie    = "oauth_state"
	oauthVerifierCookie = "oauth_verifier"
)

type CookieConfig struct {
	// Secure is off for plain http local development only.
	Secure bool
	Domain string
	MaxAge time.Duration
}

func (cc CookieConfig) maxAge() time.Duration {
	if cc.MaxAge <= 0 {
		return 7 * 24 * time.Hour
	}
	return cc.MaxAge
}

func (cc CookieConfig) create(name, value, path string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cc.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (cc CookieConfig) delete(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   cc.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (cc CookieConfig) refresh(token string) *http.Cookie {
	return cc.create(RefreshCookie, token, "/", cc.maxAge())
}

func (cc CookieConfig) clearRefresh() *http.Cookie {
	return cc.delete(RefreshCookie, "/")
}
