package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/events"
	"github.com/Skotchmaster/taskhub/internal/hash"
	"github.com/Skotchmaster/taskhub/internal/logging"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/Skotchmaster/taskhub/internal/provision"
	"github.com/Skotchmaster/taskhub/internal/repo"
	"github.com/Skotchmaster/taskhub/internal/session"
	"github.com/Skotchmaster/taskhub/internal/tokens"
	"github.com/google/uuid"
)

// RotationPolicy controls refresh token rotation. When enabled every refresh
// returns a new refresh token; the one it replaced stays acceptable for
// Grace, after which presenting it revokes the session.
type RotationPolicy struct {
	Enabled bool
	Grace   time.Duration
}

type AuthService struct {
	Repo        *repo.GormRepo
	Sessions    session.Store
	Tokens      *tokens.Service
	Provisioner *provision.Provisioner
	Hasher      *hash.Hasher
	Events      events.Publisher
	Rotation    RotationPolicy
	Now         func() time.Time
}

type ClientMeta struct {
	UserAgent string
	IPAddress string
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type RegisterResult struct {
	UserID      string
	WorkspaceID string
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	SessionID    string
	User         *models.User
}

// RefreshResult carries a new refresh token only when rotation happened.
type RefreshResult struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// OAuthProfile is an identity asserted by an external provider.
// EmailVerified is the provider's claim that the user controls Email.
type OAuthProfile struct {
	Provider      models.Provider
	ProviderID    string
	Email         string
	EmailVerified bool
	DisplayName   string
	Picture       string
}

func (h *AuthService) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func (h *AuthService) publish(ctx context.Context, e events.Event) {
	if h.Events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = h.now()
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.Events.Publish(pctx, e); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", e.Type, "error", err)
	}
}

func (h *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	in.Email = repo.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateRegister(in); err != nil {
		l.Info("register_rejected", "reason", err.Error())
		return nil, err
	}

	exists, err := h.Repo.EmailExists(ctx, in.Email)
	if err != nil {
		l.Error("register_error", "reason", "email lookup failed", "error", err)
		return nil, err
	}
	if exists {
		l.Info("register_rejected", "reason", "email exists")
		return nil, domain.ErrEmailExists
	}

	pwHash, err := h.Hasher.HashPassword(in.Password)
	if err != nil {
		l.Error("register_error", "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	bundle, err := h.Provisioner.Provision(ctx, provision.Identity{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: &pwHash,
		Provider:     models.ProviderLocal,
		ProviderID:   in.Email,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConflict):
			l.Info("register_rejected", "reason", "email exists")
		case errors.Is(err, domain.ErrConfig):
			l.Error("register_error", "reason", "role seed missing", "error", err)
		default:
			l.Error("register_error", "error", err)
		}
		return nil, err
	}

	h.publish(ctx, events.Event{Type: events.UserRegistered, UserID: bundle.User.ID, Provider: string(models.ProviderLocal)})
	l.Info("register_ok", "user_id", bundle.User.ID)
	return &RegisterResult{UserID: bundle.User.ID, WorkspaceID: bundle.Workspace.ID}, nil
}

func (h *AuthService) Login(ctx context.Context, email, password string, meta ClientMeta) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	email = repo.NormalizeEmail(email)
	if err := validateLogin(email, password); err != nil {
		return nil, err
	}

	ident, err := h.Authenticate(ctx, Credentials{Strategy: StrategyLocal, Email: email, Password: password})
	if err != nil {
		l.Warn("login_failed", "error", err)
		return nil, err
	}

	res, err := h.StartSession(ctx, ident.User, meta)
	if err != nil {
		l.Error("login_error", "reason", "cannot start session", "error", err)
		return nil, err
	}
	h.publish(ctx, events.Event{
		Type:      events.UserLoggedIn,
		UserID:    ident.UserID,
		SessionID: res.SessionID,
		Provider:  string(models.ProviderLocal),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	l.Info("login_ok", "user_id", ident.UserID, "session_id", res.SessionID)
	return res, nil
}

func (h *AuthService) verifyLocal(ctx context.Context, email, password string) (*models.User, error) {
	acc, err := h.Repo.FindAccount(ctx, models.ProviderLocal, repo.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		h.Hasher.Burn(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	user, err := h.Repo.GetUserByID(ctx, acc.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		h.Hasher.Burn(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == nil {
		h.Hasher.Burn(password)
		return nil, domain.ErrInvalidCredentials
	}
	if !h.Hasher.CheckPassword(*user.PasswordHash, password) || !user.IsActive {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

// OAuthLogin resolves an external identity to a user. Unknown identities
// with a verified email are linked to an existing user with that email or
// provisioned fresh.
func (h *AuthService) OAuthLogin(ctx context.Context, p OAuthProfile) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.oauth", "provider", p.Provider)

	if p.ProviderID == "" {
		return nil, domain.Invalid("sub", "Provider account id is missing")
	}
	email := repo.NormalizeEmail(p.Email)
	if email == "" {
		return nil, domain.Invalid("email", "Provider did not return an email")
	}

	acc, err := h.Repo.FindAccount(ctx, p.Provider, p.ProviderID)
	if err == nil {
		return h.Repo.GetUserByID(ctx, acc.UserID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// An unverified address cannot claim an existing account or a new one.
	if !p.EmailVerified {
		l.Warn("oauth_email_unverified")
		return nil, domain.Invalid("email", "Provider email is not verified")
	}

	existing, err := h.Repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if _, err := h.Repo.LinkAccount(ctx, existing.ID, p.Provider, p.ProviderID); err != nil && !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		l.Info("oauth_linked", "user_id", existing.ID)
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	var picture *string
	if p.Picture != "" {
		picture = &p.Picture
	}

	bundle, err := h.Provisioner.Provision(ctx, provision.Identity{
		Email:      email,
		Name:       name,
		Picture:    picture,
		Provider:   p.Provider,
		ProviderID: p.ProviderID,
	})
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent callback for the same identity won the race.
		if acc, ferr := h.Repo.FindAccount(ctx, p.Provider, p.ProviderID); ferr == nil {
			return h.Repo.GetUserByID(ctx, acc.UserID)
		}
		return nil, err
	}
	if err != nil {
		l.Error("oauth_provision_error", "error", err)
		return nil, err
	}

	h.publish(ctx, events.Event{Type: events.UserRegistered, UserID: bundle.User.ID, Provider: string(p.Provider)})
	l.Info("oauth_registered", "user_id", bundle.User.ID)
	return bundle.User, nil
}

// StartSession creates a session for an already authenticated user and
// issues its token pair.
func (h *AuthService) StartSession(ctx context.Context, user *models.User, meta ClientMeta) (*LoginResult, error) {
	jti := uuid.NewString()
	sess, err := h.Sessions.Create(ctx, session.NewSession{
		UserID:     user.ID,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
		TTL:        h.Tokens.RefreshTTL(),
		RefreshJTI: jti,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	access, err := h.Tokens.IssueAccess(user.ID, sess.ID)
	if err != nil {
		_ = h.Sessions.Invalidate(ctx, sess.ID)
		return nil, err
	}
	refresh, err := h.Tokens.IssueRefreshWithJTI(user.ID, sess.ID, jti)
	if err != nil {
		_ = h.Sessions.Invalidate(ctx, sess.ID)
		return nil, err
	}

	if err := h.Repo.TouchLastLogin(ctx, user.ID, h.now()); err != nil {
		logging.FromContext(ctx).Warn("last_login_update_failed", "user_id", user.ID, "error", err)
	}

	return &LoginResult{
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
		AccessExp:    access.ExpiresAt,
		RefreshExp:   refresh.ExpiresAt,
		SessionID:    sess.ID,
		User:         user,
	}, nil
}

// Logout revokes the session behind a refresh token. Missing, expired or
// forged tokens are ignored so logout always succeeds for the caller.
func (h *AuthService) Logout(ctx context.Context, refreshToken string) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	claims, err := h.Tokens.Verify(refreshToken, tokens.Refresh)
	if err != nil {
		l.Info("logout_without_valid_token", "reason", err.Error())
		return nil
	}
	return h.RevokeSession(ctx, claims.UserID, claims.SessionID)
}

func (h *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := h.Sessions.Invalidate(ctx, sessionID); err != nil {
		logging.FromContext(ctx).Error("session_revoke_error", "session_id", sessionID, "error", err)
		return err
	}
	h.publish(ctx, events.Event{Type: events.SessionRevoked, UserID: userID, SessionID: sessionID})
	return nil
}

func (h *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := h.Sessions.InvalidateAll(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Error("logout_all_error", "user_id", userID, "error", err)
		return n, err
	}
	h.publish(ctx, events.Event{Type: events.AllSessionsRevoked, UserID: userID})
	logging.FromContext(ctx).Info("logout_all_ok", "user_id", userID, "revoked", n)
	return n, nil
}

func (h *AuthService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	return h.Sessions.ListUsable(ctx, userID)
}

func (h *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	return h.Repo.GetUserByID(ctx, userID)
}
