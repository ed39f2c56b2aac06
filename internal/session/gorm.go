package session

import (
	"context"
	"errors"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/logging"
	"github.com/Skotchmaster/taskhub/internal/models"
	"gorm.io/gorm"
)

type GormStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db, Now: nowUTC}
}

func (s *GormStore) now() time.Time {
	if s.Now == nil {
		return nowUTC()
	}
	return s.Now().UTC()
}

func (s *GormStore) Create(ctx context.Context, in NewSession) (*models.Session, error) {
	now := s.now()
	sess := models.Session{
		UserID:     in.UserID,
		UserAgent:  in.UserAgent,
		IPAddress:  in.IPAddress,
		IsValid:    true,
		ExpiresAt:  now.Add(in.TTL),
		RefreshJTI: in.RefreshJTI,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.DB.WithContext(ctx).Create(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if !s.now().Before(sess.ExpiresAt) {
		if err := s.DB.WithContext(ctx).Delete(&models.Session{}, "id = ?", id).Error; err != nil {
			logging.FromContext(ctx).Warn("session_expired_delete_failed", "session_id", id, "error", err)
		}
	}
	return &sess, nil
}

func (s *GormStore) Invalidate(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND is_valid = ?", id, true).
		Updates(map[string]any{"is_valid": false, "updated_at": s.now()}).Error
}

func (s *GormStore) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND is_valid = ?", userID, true).
		Updates(map[string]any{"is_valid": false, "updated_at": s.now()})
	return res.RowsAffected, res.Error
}

func (s *GormStore) ListUsable(ctx context.Context, userID string) ([]models.Session, error) {
	var out []models.Session
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND is_valid = ? AND expires_at > ?", userID, true, s.now()).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) Rotate(ctx context.Context, id, oldJTI, newJTI string, expiresAt time.Time) (bool, error) {
	now := s.now()
	res := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND refresh_jti = ? AND is_valid = ?", id, oldJTI, true).
		Updates(map[string]any{
			"refresh_jti":  newJTI,
			"previous_jti": oldJTI,
			"rotated_at":   now,
			"expires_at":   expiresAt.UTC(),
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) Sweep(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}
