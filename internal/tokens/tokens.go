package tokens

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience is stamped into every token and required on verification.
const Audience = "user"

type Kind int

const (
	Access Kind = iota
	Refresh
)

func (k Kind) String() string {
	if k == Refresh {
		return "refresh"
	}
	return "access"
}

type Claims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

type Token struct {
	Value     string
	ExpiresAt time.Time
	JTI       string
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	cfg Config
}

func NewService(cfg Config) (*Service, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("access and refresh secrets are required: %w", domain.ErrConfig)
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, fmt.Errorf("access and refresh secrets must differ: %w", domain.ErrConfig)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive: %w", domain.ErrConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg}, nil
}

func (s *Service) AccessTTL() time.Duration  { return s.cfg.AccessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

func (s *Service) secret(kind Kind) []byte {
	if kind == Refresh {
		return s.cfg.RefreshSecret
	}
	return s.cfg.AccessSecret
}

func (s *Service) ttl(kind Kind) time.Duration {
	if kind == Refresh {
		return s.cfg.RefreshTTL
	}
	return s.cfg.AccessTTL
}

func (s *Service) issue(kind Kind, userID, sessionID, jti string) (Token, error) {
	if userID == "" || sessionID == "" {
		return Token{}, errors.New("user id and session id are required")
	}
	now := s.cfg.Now()
	exp := now.Add(s.ttl(kind))

	claims := Claims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret(kind))
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time, JTI: jti}, nil
}

func (s *Service) IssueAccess(userID, sessionID string) (Token, error) {
	return s.issue(Access, userID, sessionID, uuid.NewString())
}

func (s *Service) IssueRefresh(userID, sessionID string) (Token, error) {
	return s.issue(Refresh, userID, sessionID, uuid.NewString())
}

// IssueRefreshWithJTI lets the caller pin the token id, so it can be stored
// on the session before the token leaves the process.
func (s *Service) IssueRefreshWithJTI(userID, sessionID, jti string) (Token, error) {
	return s.issue(Refresh, userID, sessionID, jti)
}

// Verify checks signature, algorithm, audience and expiry for the given kind.
// Expiry maps to domain.ErrExpiredToken, every other failure to
// domain.ErrInvalidToken.
func (s *Service) Verify(raw string, kind Kind) (*Claims, error) {
	if raw == "" {
		return nil, domain.ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.Now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret(kind), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, domain.ErrInvalidToken
	}
	return &claims, nil
}
