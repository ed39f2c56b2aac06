package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
)

const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

type User struct {
	ID                 string     `gorm:"primaryKey;size:36"            json:"id"`
	Email              string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash       *string    `gorm:"size:255"                      json:"-"`
	Name               string     `gorm:"size:255;not null"             json:"name"`
	ProfilePicture     *string    `gorm:"size:1024"                     json:"profilePicture"`
	CurrentWorkspaceID *string    `gorm:"size:36"                       json:"currentWorkspace"`
	IsActive           bool       `gorm:"not null"                      json:"isActive"`
	LastLogin          *time.Time `                                     json:"lastLogin"`
	CreatedAt          time.Time  `                                     json:"createdAt"`
	UpdatedAt          time.Time  `                                     json:"updatedAt"`
}

// ProviderAccount links a User to one credential. For the local provider
// ProviderID is the normalized email.
type ProviderAccount struct {
	ID         string    `gorm:"primaryKey;size:36"                               json:"id"`
	UserID     string    `gorm:"size:36;not null;index"                           json:"userId"`
	Provider   Provider  `gorm:"size:16;not null;uniqueIndex:idx_provider_account" json:"provider"`
	ProviderID string    `gorm:"size:255;not null;uniqueIndex:idx_provider_account" json:"providerId"`
	CreatedAt  time.Time `                                                        json:"createdAt"`
}

type Session struct {
	ID          string     `gorm:"primaryKey;size:36"                                        json:"id"`
	UserID      string     `gorm:"size:36;not null;index:idx_sessions_user_valid,priority:1" json:"userId"`
	UserAgent   string     `gorm:"size:512"                                                  json:"userAgent"`
	IPAddress   string     `gorm:"size:64"                                                   json:"ipAddress"`
	IsValid     bool       `gorm:"not null;index:idx_sessions_user_valid,priority:2"         json:"isValid"`
	ExpiresAt   time.Time  `gorm:"not null;index"                                            json:"expiresAt"`
	RefreshJTI  string     `gorm:"size:36"                                                   json:"-"`
	PreviousJTI string     `gorm:"size:36"                                                   json:"-"`
	RotatedAt   *time.Time `                                                                 json:"-"`
	CreatedAt   time.Time  `                                                                 json:"createdAt"`
	UpdatedAt   time.Time  `                                                                 json:"updatedAt"`
}

// Usable reports whether the session may still back a refresh token.
func (s *Session) Usable(now time.Time) bool {
	return s.IsValid && now.Before(s.ExpiresAt)
}

type Workspace struct {
	ID          string    `gorm:"primaryKey;size:36"     json:"id"`
	Name        string    `gorm:"size:255;not null"      json:"name"`
	Description string    `gorm:"size:1024"              json:"description"`
	OwnerID     string    `gorm:"size:36;not null;index" json:"ownerId"`
	CreatedAt   time.Time `                              json:"createdAt"`
	UpdatedAt   time.Time `                              json:"updatedAt"`
}

type Role struct {
	ID          string `gorm:"primaryKey;size:36"            json:"id"`
	Name        string `gorm:"uniqueIndex;size:32;not null"  json:"name"`
	Description string `gorm:"size:255"                      json:"description"`
}

type Member struct {
	ID          string    `gorm:"primaryKey;size:36"                             json:"id"`
	UserID      string    `gorm:"size:36;not null;uniqueIndex:idx_member_user_ws" json:"userId"`
	WorkspaceID string    `gorm:"size:36;not null;uniqueIndex:idx_member_user_ws" json:"workspaceId"`
	RoleID      string    `gorm:"size:36;not null"                               json:"roleId"`
	JoinedAt    time.Time `gorm:"not null"                                       json:"joinedAt"`
}

// All lists every model in migration order.
func All() []any {
	return []any{&User{}, &ProviderAccount{}, &Session{}, &Workspace{}, &Role{}, &Member{}}
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error            { ensureID(&u.ID); return nil }
func (a *ProviderAccount) BeforeCreate(*gorm.DB) error { ensureID(&a.ID); return nil }
func (s *Session) BeforeCreate(*gorm.DB) error         { ensureID(&s.ID); return nil }
func (w *Workspace) BeforeCreate(*gorm.DB) error       { ensureID(&w.ID); return nil }
func (r *Role) BeforeCreate(*gorm.DB) error            { ensureID(&r.ID); return nil }
func (m *Member) BeforeCreate(*gorm.DB) error          { ensureID(&m.ID); return nil }
