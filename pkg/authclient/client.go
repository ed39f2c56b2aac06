package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const refreshPath = "/auth/refresh"

type retriedKey struct{}

// MarkRetried flags a request context as already replayed once after a
// refresh. Such requests never enter the gate again.
func MarkRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Client talks to the auth API under baseURL (e.g. http://host/api). It
// keeps the refresh cookie in a jar, attaches the access token to every
// request and transparently refreshes it once on 401.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *AuthContext
	gate       *Gate
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.gate.timeout = d }
}

func NewClient(baseURL string, auth *AuthContext, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		auth = NewAuthContext()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		auth: auth,
	}
	c.gate = NewGate(auth, c.refreshAccessToken, 10*time.Second)
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	return c, nil
}

func (c *Client) Auth() *AuthContext { return c.auth }
func (c *Client) Gate() *Gate        { return c.gate }

type User struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Name             string  `json:"name"`
	ProfilePicture   *string `json:"profilePicture"`
	CurrentWorkspace *string `json:"currentWorkspace"`
}

type LoginResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

type RefreshResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth api: status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.postJSON(ctx, "/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.auth.Set(out.AccessToken, out.User.ID)
	return &out, nil
}

// RefreshTokens calls the refresh endpoint directly, bypassing the gate. A
// failure clears the auth context.
func (c *Client) RefreshTokens(ctx context.Context) (*RefreshResponse, error) {
	var out RefreshResponse
	if err := c.postJSON(ctx, refreshPath, nil, &out); err != nil {
		c.auth.Clear()
		return nil, err
	}
	c.auth.Set(out.AccessToken, "")
	return &out, nil
}

func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	var out RefreshResponse
	if err := c.postJSON(ctx, refreshPath, nil, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) Logout(ctx context.Context) error {
	defer c.auth.Clear()
	return c.postJSON(ctx, "/auth/logout", nil, nil)
}

func (c *Client) isRefreshRequest(req *http.Request) bool {
	return strings.HasSuffix(req.URL.Path, refreshPath)
}

// send attaches the current access token unless the request already
// carries an Authorization header.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") == "" {
		if tok := c.auth.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return c.httpClient.Do(req)
}

// Do sends req and, on a 401, waits for the gate and replays it once with
// the new token. Request bodies must be replayable through GetBody.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	first := req.Clone(req.Context())
	sentToken := c.auth.AccessToken()

	resp, err := c.send(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if c.isRefreshRequest(req) {
		c.auth.Clear()
		return resp, nil
	}
	if isRetried(req.Context()) {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err := c.gate.OnAuthFailure(req.Context(), sentToken)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(MarkRetried(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+token)

	resp, err = c.httpClient.Do(retry)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Get is a convenience wrapper over Do for paths under baseURL.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
