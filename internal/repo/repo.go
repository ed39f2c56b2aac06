package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var ErrAccountNotFound = fmt.Errorf("provider account: %w", domain.ErrNotFound)

type GormRepo struct {
	DB *gorm.DB
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

var defaultRoles = []models.Role{
	{Name: models.RoleOwner, Description: "Full control over the workspace"},
	{Name: models.RoleAdmin, Description: "Manages members and projects"},
	{Name: models.RoleMember, Description: "Works on projects"},
}

// SeedRoles creates the built-in roles that are missing. Safe to call on
// every start.
func (r *GormRepo) SeedRoles(ctx context.Context) error {
	for _, role := range defaultRoles {
		if err := r.DB.WithContext(ctx).Where("name = ?", role.Name).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormRepo) FindAccount(ctx context.Context, provider models.Provider, providerID string) (*models.ProviderAccount, error) {
	var acc models.ProviderAccount
	err := r.DB.WithContext(ctx).
		Where("provider = ? AND provider_id = ?", provider, providerID).
		First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *GormRepo) LinkAccount(ctx context.Context, userID string, provider models.Provider, providerID string) (*models.ProviderAccount, error) {
	acc := models.ProviderAccount{UserID: userID, Provider: provider, ProviderID: providerID}
	if err := r.DB.WithContext(ctx).Create(&acc).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("link %s account: %w", provider, domain.ErrConflict)
		}
		return nil, err
	}
	return &acc, nil
}

func (r *GormRepo) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.DB.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", NormalizeEmail(email)).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepo) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", at).Error
}

// IsUniqueViolation recognises duplicate key errors from every supported
// driver, translated or not.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
