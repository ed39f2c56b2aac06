package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skotchmaster/taskhub/internal/hash"
	"github.com/Skotchmaster/taskhub/internal/middleware/ratelimit"
	"github.com/Skotchmaster/taskhub/internal/oauth"
	"github.com/Skotchmaster/taskhub/internal/provision"
	"github.com/Skotchmaster/taskhub/internal/repo"
	"github.com/Skotchmaster/taskhub/internal/repo/repotest"
	"github.com/Skotchmaster/taskhub/internal/service"
	"github.com/Skotchmaster/taskhub/internal/session"
	"github.com/Skotchmaster/taskhub/internal/tokens"
	"github.com/Skotchmaster/taskhub/pkg/authclient"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword = "Str0ng!pass"
	callbackURL  = "http://localhost:5173/auth/google/callback"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGoogle struct {
	profile *oauth.Profile
	err     error
}

func (f *fakeGoogle) AuthCodeURL(state, verifier string) string {
	return "https://accounts.example/auth?state=" + url.QueryEscape(state)
}

func (f *fakeGoogle) Exchange(_ context.Context, code, verifier string) (*oauth.Profile, error) {
	if code == "" || verifier == "" {
		return nil, errors.New("missing code")
	}
	return f.profile, f.err
}

type env struct {
	e        *echo.Echo
	clock    *testClock
	refreshN atomic.Int32
}

func newEnv(t *testing.T, opts ...func(*Deps)) *env {
	t.Helper()

	db := repotest.NewSeededDB(t)
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}

	tok, err := tokens.NewService(tokens.Config{
		AccessSecret:  []byte("http-access-secret"),
		RefreshSecret: []byte("http-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           clock.Now,
	})
	require.NoError(t, err)

	store := session.NewGormStore(db)
	store.Now = clock.Now
	prov := provision.New(db)
	prov.Now = clock.Now

	svc := &service.AuthService{
		Repo:        &repo.GormRepo{DB: db},
		Sessions:    store,
		Tokens:      tok,
		Provisioner: prov,
		Hasher:      &hash.Hasher{Cost: bcrypt.MinCost},
		Now:         clock.Now,
	}

	ev := &env{e: echo.New(), clock: clock}
	ev.e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasSuffix(c.Request().URL.Path, "/auth/refresh") {
				ev.refreshN.Add(1)
			}
			return next(c)
		}
	})
	deps := &Deps{
		BasePath: "/api",
		AuthHandler: &AuthHTTP{
			Svc:     svc,
			Cookies: CookieConfig{MaxAge: tok.RefreshTTL()},
			Google: &fakeGoogle{profile: &oauth.Profile{
				Subject: "g-123", Email: "gina@example.com", EmailVerified: true, Name: "Gina Google",
			}},
			FrontendCallbackURL: callbackURL,
		},
		AllowedOrigins: []string{"http://localhost:5173"},
	}
	for _, opt := range opts {
		opt(deps)
	}
	Register(ev.e, deps)
	return ev
}

type call struct {
	method string
	path   string
	body   string
	bearer string
	cookie *http.Cookie
	header map[string]string
}

func (ev *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if c.bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.bearer)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ev.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func cookieFrom(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func registerBody(email string) string {
	return `{"name":"Ann Example","email":"` + email + `","password":"` + testPassword + `"}`
}

func (ev *env) register(t *testing.T, email string) map[string]any {
	t.Helper()
	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: registerBody(email)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func (ev *env) login(t *testing.T, email string) (string, *http.Cookie) {
	t.Helper()
	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/login",
		body: `{"email":"` + email + `","password":"` + testPassword + `"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	cookie := cookieFrom(rec, RefreshCookie)
	require.NotNil(t, cookie)
	return body["access_token"].(string), cookie
}

func TestAuthHTTP_Register(t *testing.T) {
	ev := newEnv(t)

	body := ev.register(t, "ann@example.com")
	assert.Equal(t, "User created successfully", body["message"])
	assert.NotEmpty(t, body["userId"])
	assert.NotEmpty(t, body["workspaceId"])

	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: registerBody("ANN@example.com")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/register",
		body: `{"name":"Ann","email":"bob@example.com","password":"short"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: `{"name":`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHTTP_ConcurrentRegisterSameEmail(t *testing.T) {
	ev := newEnv(t)

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = ev.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: registerBody("race@example.com")}).Code
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, codes)
}

func TestAuthHTTP_Login(t *testing.T) {
	ev := newEnv(t)
	reg := ev.register(t, "ann@example.com")

	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/login",
		body: `{"email":"ann@example.com","password":"` + testPassword + `"}`})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Logged in successfully", body["message"])
	assert.NotEmpty(t, body["access_token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, reg["userId"], user["id"])
	assert.Equal(t, reg["workspaceId"], user["currentWorkspace"])
	assert.NotContains(t, rec.Body.String(), "password")

	c := cookieFrom(rec, RefreshCookie)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 7*24*60*60, c.MaxAge)
}

func TestAuthHTTP_LoginFailuresLookAlike(t *testing.T) {
	ev := newEnv(t)
	ev.register(t, "ann@example.com")

	wrong := ev.do(t, call{method: http.MethodPost, path: "/api/auth/login",
		body: `{"email":"ann@example.com","password":"Wr0ng!pass"}`})
	unknown := ev.do(t, call{method: http.MethodPost, path: "/api/auth/login",
		body: `{"email":"nobody@example.com","password":"Wr0ng!pass"}`})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Nil(t, cookieFrom(wrong, RefreshCookie))
}

func TestAuthHTTP_Refresh(t *testing.T) {
	ev := newEnv(t)
	ev.register(t, "ann@example.com")
	_, cookie := ev.login(t, "ann@example.com")

	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "No refresh token provided")

	ev.clock.Advance(time.Minute)
	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", cookie: cookie})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["access_token"])
	// rotation is off, so the cookie is left alone
	assert.Nil(t, cookieFrom(rec, RefreshCookie))

	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", cookie: &http.Cookie{Name: RefreshCookie, Value: "garbage"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := cookieFrom(rec, RefreshCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestAuthHTTP_RefreshRejectsForeignOrigin(t *testing.T) {
	ev := newEnv(t)
	ev.register(t, "ann@example.com")
	_, cookie := ev.login(t, "ann@example.com")

	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", cookie: cookie,
		header: map[string]string{"Origin": "https://evil.example"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", cookie: cookie,
		header: map[string]string{"Origin": "http://localhost:5173"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHTTP_Logout(t *testing.T) {
	ev := newEnv(t)
	ev.register(t, "ann@example.com")
	_, cookie := ev.login(t, "ann@example.com")

	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/logout", cookie: cookie})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, cookieFrom(rec, RefreshCookie).MaxAge)

	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", cookie: cookie})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// logout without a cookie still succeeds
	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/logout"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHTTP_LogoutAllAndSessions(t *testing.T) {
	ev := newEnv(t)
	ev.register(t, "ann@example.com")
	access, first := ev.login(t, "ann@example.com")
	ev.clock.Advance(time.Second)
	_, second := ev.login(t, "ann@example.com")

	rec := ev.do(t, call{method: http.MethodGet, path: "/api/auth/sessions", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["sessions"].([]any)
	require.Len(t, list, 2)
	newest, oldest := list[0].(map[string]any), list[1].(map[string]any)
	assert.Equal(t, false, newest["current"])
	assert.Equal(t, true, oldest["current"])
	assert.Contains(t, oldest, "userAgent")
	assert.Contains(t, oldest, "ipAddress")

	assert.Equal(t, http.StatusUnauthorized, ev.do(t, call{method: http.MethodPost, path: "/api/auth/logout-all"}).Code)

	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/logout-all", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["revoked"])

	for _, c := range []*http.Cookie{first, second} {
		assert.Equal(t, http.StatusUnauthorized, ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", cookie: c}).Code)
	}
}

func TestAuthHTTP_CurrentUser(t *testing.T) {
	ev := newEnv(t)
	reg := ev.register(t, "ann@example.com")
	access, _ := ev.login(t, "ann@example.com")

	rec := ev.do(t, call{method: http.MethodGet, path: "/api/user/current", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reg["userId"], decode(t, rec)["user"].(map[string]any)["id"])

	assert.Equal(t, http.StatusUnauthorized, ev.do(t, call{method: http.MethodGet, path: "/api/user/current"}).Code)

	ev.clock.Advance(16 * time.Minute)
	rec = ev.do(t, call{method: http.MethodGet, path: "/api/user/current", bearer: access})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Token expired")
}

func TestAuthHTTP_GoogleFlow(t *testing.T) {
	ev := newEnv(t)

	rec := ev.do(t, call{method: http.MethodGet, path: "/api/auth/google"})
	require.Equal(t, http.StatusFound, rec.Code)
	state := cookieFrom(rec, oauthStateCookie)
	verifier := cookieFrom(rec, oauthVerifierCookie)
	require.NotNil(t, state)
	require.NotNil(t, verifier)
	assert.Equal(t, "/api/auth/google/callback", state.Path)
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), url.QueryEscape(state.Value))

	cb := func(q string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?"+q, nil)
		req.AddCookie(state)
		req.AddCookie(verifier)
		rec := httptest.NewRecorder()
		ev.e.ServeHTTP(rec, req)
		return rec
	}

	bad := cb("code=abc&state=forged")
	require.Equal(t, http.StatusFound, bad.Code)
	assert.Equal(t, callbackURL+"?error=invalid_state&status=failure", bad.Header().Get(echo.HeaderLocation))

	ok := cb("code=abc&state=" + url.QueryEscape(state.Value))
	require.Equal(t, http.StatusFound, ok.Code)
	loc, err := url.Parse(ok.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "success", loc.Query().Get("status"))
	assert.NotEmpty(t, loc.Query().Get("current_workspace"))
	assert.Empty(t, loc.Query().Get("access_token"))

	refresh := cookieFrom(ok, RefreshCookie)
	require.NotNil(t, refresh)
	rec = ev.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", cookie: refresh})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHTTP_GoogleUnverifiedEmailCannotLink(t *testing.T) {
	ev := newEnv(t, func(d *Deps) {
		d.AuthHandler.Google = &fakeGoogle{profile: &oauth.Profile{
			Subject: "g-456", Email: "ann@example.com", EmailVerified: false, Name: "Not Ann",
		}}
	})
	ev.register(t, "ann@example.com")

	rec := ev.do(t, call{method: http.MethodGet, path: "/api/auth/google"})
	require.Equal(t, http.StatusFound, rec.Code)
	state := cookieFrom(rec, oauthStateCookie)
	verifier := cookieFrom(rec, oauthVerifierCookie)
	require.NotNil(t, state)
	require.NotNil(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state.Value), nil)
	req.AddCookie(state)
	req.AddCookie(verifier)
	cb := httptest.NewRecorder()
	ev.e.ServeHTTP(cb, req)

	require.Equal(t, http.StatusFound, cb.Code)
	assert.Equal(t, callbackURL+"?error=invalid_profile&status=failure", cb.Header().Get(echo.HeaderLocation))
	assert.Nil(t, cookieFrom(cb, RefreshCookie))
}

func TestAuthHTTP_Health(t *testing.T) {
	ev := newEnv(t)
	assert.Equal(t, http.StatusOK, ev.do(t, call{method: http.MethodGet, path: "/health/live"}).Code)
	assert.Equal(t, http.StatusOK, ev.do(t, call{method: http.MethodGet, path: "/health/ready"}).Code)
}

// Login through the client, let the access token lapse and fire several
// requests at once: they share one refresh and all succeed.
func TestEndToEnd_ClientSurvivesAccessExpiry(t *testing.T) {
	ev := newEnv(t)
	srv := httptest.NewServer(ev.e)
	t.Cleanup(srv.Close)

	ev.register(t, "ann@example.com")

	auth := authclient.NewAuthContext()
	client, err := authclient.NewClient(srv.URL+"/api", auth)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.Login(ctx, "ann@example.com", testPassword)
	require.NoError(t, err)
	first := auth.AccessToken()

	resp, err := client.Get(ctx, "/user/current")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Zero(t, ev.refreshN.Load())

	ev.clock.Advance(16 * time.Minute)

	const n = 5
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(ctx, "/user/current")
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for _, c := range codes {
		assert.Equal(t, http.StatusOK, c)
	}
	assert.EqualValues(t, 1, ev.refreshN.Load())
	assert.NotEqual(t, first, auth.AccessToken())

	require.NoError(t, client.Logout(ctx))
	assert.False(t, auth.Authenticated())
	_, err = client.RefreshTokens(ctx)
	assert.True(t, authclient.IsUnauthorized(err))
}

func withRedisLimiter(t *testing.T) func(*Deps) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return func(d *Deps) { d.Limiter = ratelimit.New(rdb, "test:", true) }
}

func failedLogin(ev *env, t *testing.T, forwardedFor string) int {
	return ev.do(t, call{method: http.MethodPost, path: "/api/auth/login",
		body:   `{"email":"ann@example.com","password":"Wr0ng!pass"}`,
		header: map[string]string{echo.HeaderXForwardedFor: forwardedFor}}).Code
}

func TestAuthHTTP_LoginLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	ev := newEnv(t, withRedisLimiter(t))
	ev.register(t, "ann@example.com")

	// the session records the socket address, not the header
	rec := ev.do(t, call{method: http.MethodPost, path: "/api/auth/login",
		body:   `{"email":"ann@example.com","password":"` + testPassword + `"}`,
		header: map[string]string{echo.HeaderXForwardedFor: "198.51.100.9"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access := decode(t, rec)["access_token"].(string)

	rec = ev.do(t, call{method: http.MethodGet, path: "/api/auth/sessions", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["sessions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "192.0.2.1", list[0].(map[string]any)["ipAddress"])

	limited := 0
	for i := 0; i < 10; i++ {
		if failedLogin(ev, t, fmt.Sprintf("203.0.113.%d", i)) == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 5, limited)
}

func TestAuthHTTP_TrustedProxyForwardsClientIP(t *testing.T) {
	extractor, err := NewIPExtractor([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	ev := newEnv(t, withRedisLimiter(t), func(d *Deps) { d.IPExtractor = extractor })
	ev.register(t, "ann@example.com")

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusUnauthorized, failedLogin(ev, t, "203.0.113.1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, failedLogin(ev, t, "203.0.113.1"))
	// a different client behind the same proxy has its own window
	assert.Equal(t, http.StatusUnauthorized, failedLogin(ev, t, "203.0.113.2"))
}

func TestNewIPExtractor(t *testing.T) {
	t.Parallel()

	_, err := NewIPExtractor([]string{"not-a-cidr"})
	assert.Error(t, err)

	direct, err := NewIPExtractor(nil)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXForwardedFor, "203.0.113.5")
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.6")
	assert.Equal(t, "192.0.2.1", direct(req))
}
