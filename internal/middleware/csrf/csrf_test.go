package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, method string, headers map[string]string) int {
	t.Helper()
	e := echo.New()
	e.Any("/api/auth/refresh", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, OriginGuard(Config{AllowedOrigins: []string{"http://localhost:5173/"}}))

	req := httptest.NewRequest(method, "http://api.example.com/api/auth/refresh", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestOriginGuard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    int
	}{
		{"no origin", http.MethodPost, nil, http.StatusOK},
		{"same origin", http.MethodPost, map[string]string{"Origin": "http://api.example.com"}, http.StatusOK},
		{"allowed spa", http.MethodPost, map[string]string{"Origin": "http://LOCALHOST:5173"}, http.StatusOK},
		{"foreign origin", http.MethodPost, map[string]string{"Origin": "https://evil.example"}, http.StatusForbidden},
		{"foreign referer", http.MethodPost, map[string]string{"Referer": "https://evil.example/page"}, http.StatusForbidden},
		{"same referer", http.MethodPost, map[string]string{"Referer": "http://api.example.com/app"}, http.StatusOK},
		{"forwarded https", http.MethodPost, map[string]string{"Origin": "https://api.example.com", "X-Forwarded-Proto": "https"}, http.StatusOK},
		{"safe method", http.MethodGet, map[string]string{"Origin": "https://evil.example"}, http.StatusOK},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, serve(t, tt.method, tt.headers), tt.name)
	}
}
