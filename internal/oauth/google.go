// Package oauth runs the Google authorization code flow with PKCE and
// resolves the signed-in Google account to a profile.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type Google struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogle(c GoogleConfig) *Google {
	ep := c.Endpoint
	if ep.AuthURL == "" {
		ep = endpoints.Google
	}
	info := c.UserInfoURL
	if info == "" {
		info = googleUserInfoURL
	}
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     ep,
		},
		userInfoURL: info,
	}
}

// AuthCodeURL builds the consent URL for state and the PKCE verifier.
func (g *Google) AuthCodeURL(state, verifier string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

func NewVerifier() string { return oauth2.GenerateVerifier() }

// Exchange trades the callback code for a token and loads the profile.
func (g *Google) Exchange(ctx context.Context, code, verifier string) (*Profile, error) {
	tok, err := g.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("google: code exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: userinfo status %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("google: decode userinfo: %w", err)
	}
	if p.Subject == "" {
		return nil, errors.New("google: userinfo without sub")
	}
	return &p, nil
}
