package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// RefreshFunc obtains a new access token.
type RefreshFunc func(ctx context.Context) (string, error)

type result struct {
	token string
	err   error
	// seq is the 1-based position a queued caller was resolved at; 0 for
	// the caller that ran the refresh.
	seq int
}

// Gate makes sure a burst of 401s triggers a single refresh. The first
// caller runs it; later callers queue and are resolved in arrival order
// with the same outcome.
type Gate struct {
	auth    *AuthContext
	refresh RefreshFunc
	timeout time.Duration

	mu         sync.Mutex
	refreshing bool
	waiters    []chan result
}

func NewGate(auth *AuthContext, refresh RefreshFunc, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gate{auth: auth, refresh: refresh, timeout: timeout}
}

func (g *Gate) Refreshing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshing
}

// OnAuthFailure is called by a request that got 401 while sending
// staleToken. It returns the access token to retry with.
func (g *Gate) OnAuthFailure(ctx context.Context, staleToken string) (string, error) {
	r := g.await(ctx, staleToken)
	return r.token, r.err
}

func (g *Gate) await(ctx context.Context, staleToken string) result {
	g.mu.Lock()
	if g.refreshing {
		ch := make(chan result, 1)
		g.waiters = append(g.waiters, ch)
		g.mu.Unlock()

		select {
		case r := <-ch:
			return r
		case <-ctx.Done():
			return result{err: ctx.Err()}
		}
	}

	// Someone refreshed or signed out since this request was sent.
	if staleToken != "" {
		switch current := g.auth.AccessToken(); {
		case current == "":
			g.mu.Unlock()
			return result{err: ErrNotAuthenticated}
		case current != staleToken:
			g.mu.Unlock()
			return result{token: current}
		}
	}

	g.refreshing = true
	g.mu.Unlock()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	token, err := g.refresh(rctx)
	cancel()
	if err == nil && token == "" {
		err = errors.New("empty access token")
	}

	var r result
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		g.auth.Clear()
	} else {
		r.token = token
		g.auth.Set(token, "")
	}

	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	g.mu.Unlock()

	for i, ch := range waiters {
		queued := r
		queued.seq = i + 1
		ch <- queued
	}
	return r
}
