package authclient

import "sync"

// AuthContext holds the access token of one signed-in client. The refresh
// token never passes through it; it lives in the HTTP-only cookie.
type AuthContext struct {
	mu          sync.RWMutex
	accessToken string
	userID      string
	onClear     []func()
}

func NewAuthContext() *AuthContext { return &AuthContext{} }

func (a *AuthContext) Set(accessToken, userID string) {
	a.mu.Lock()
	a.accessToken = accessToken
	if userID != "" {
		a.userID = userID
	}
	a.mu.Unlock()
}

func (a *AuthContext) AccessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.accessToken
}

func (a *AuthContext) UserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

func (a *AuthContext) Authenticated() bool { return a.AccessToken() != "" }

// OnClear registers a callback run after every Clear, e.g. to send the user
// back to a login screen.
func (a *AuthContext) OnClear(fn func()) {
	a.mu.Lock()
	a.onClear = append(a.onClear, fn)
	a.mu.Unlock()
}

func (a *AuthContext) Clear() {
	a.mu.Lock()
	a.accessToken, a.userID = "", ""
	hooks := append([]func(){}, a.onClear...)
	a.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
