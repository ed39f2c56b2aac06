// Package provision creates a new user together with everything a first
// login needs: the credential link, a personal workspace and the owner
// membership. Either all of it is written or none of it.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/Skotchmaster/taskhub/internal/repo"
	"gorm.io/gorm"
)

const DefaultWorkspaceName = "My Workspace"

type Step string

const (
	StepUser             Step = "user"
	StepAccount          Step = "provider_account"
	StepWorkspace        Step = "workspace"
	StepOwnerRole        Step = "owner_role"
	StepMember           Step = "member"
	StepCurrentWorkspace Step = "current_workspace"
)

type Identity struct {
	Email        string
	Name         string
	PasswordHash *string
	Picture      *string
	Provider     models.Provider
	ProviderID   string
}

type Bundle struct {
	User      *models.User
	Account   *models.ProviderAccount
	Workspace *models.Workspace
	Member    *models.Member
}

type Provisioner struct {
	DB  *gorm.DB
	Now func() time.Time

	// afterStep runs after every step inside the transaction; tests use it
	// to abort at a chosen point.
	afterStep func(Step) error
}

func New(db *gorm.DB) *Provisioner {
	return &Provisioner{DB: db, Now: func() time.Time { return time.Now().UTC() }}
}

func (p *Provisioner) step(s Step) error {
	if p.afterStep == nil {
		return nil
	}
	return p.afterStep(s)
}

// Provision returns domain.ErrEmailExists when the email or provider
// identity is already taken and domain.ErrMissingRoleSeed when the OWNER
// role was never seeded.
func (p *Provisioner) Provision(ctx context.Context, id Identity) (*Bundle, error) {
	if id.Provider == "" || id.ProviderID == "" {
		return nil, errors.New("provider and provider id are required")
	}
	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}

	var b Bundle
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := &models.User{
			Email:          repo.NormalizeEmail(id.Email),
			Name:           id.Name,
			PasswordHash:   id.PasswordHash,
			ProfilePicture: id.Picture,
			IsActive:       true,
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := p.step(StepUser); err != nil {
			return err
		}

		account := &models.ProviderAccount{UserID: user.ID, Provider: id.Provider, ProviderID: id.ProviderID}
		if err := tx.Create(account).Error; err != nil {
			return fmt.Errorf("create provider account: %w", err)
		}
		if err := p.step(StepAccount); err != nil {
			return err
		}

		ws := &models.Workspace{
			Name:        DefaultWorkspaceName,
			Description: "Workspace created for " + id.Name,
			OwnerID:     user.ID,
		}
		if err := tx.Create(ws).Error; err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		if err := p.step(StepWorkspace); err != nil {
			return err
		}

		var owner models.Role
		if err := tx.Where("name = ?", models.RoleOwner).First(&owner).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrMissingRoleSeed
			}
			return fmt.Errorf("load owner role: %w", err)
		}
		if err := p.step(StepOwnerRole); err != nil {
			return err
		}

		member := &models.Member{UserID: user.ID, WorkspaceID: ws.ID, RoleID: owner.ID, JoinedAt: now}
		if err := tx.Create(member).Error; err != nil {
			return fmt.Errorf("create member: %w", err)
		}
		if err := p.step(StepMember); err != nil {
			return err
		}

		if err := tx.Model(user).Update("current_workspace_id", ws.ID).Error; err != nil {
			return fmt.Errorf("set current workspace: %w", err)
		}
		user.CurrentWorkspaceID = &ws.ID
		if err := p.step(StepCurrentWorkspace); err != nil {
			return err
		}

		b = Bundle{User: user, Account: account, Workspace: ws, Member: member}
		return nil
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return nil, fmt.Errorf("provision %s: %w", id.Email, domain.ErrEmailExists)
		}
		return nil, err
	}
	return &b, nil
}
