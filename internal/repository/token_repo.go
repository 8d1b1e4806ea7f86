package repository

import (
	"context"
	"time"

	"procurement/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenRepository persists refresh and verification tokens
type TokenRepository interface {
	SaveRefresh(ctx context.Context, token *model.RefreshToken) error
	GetRefresh(ctx context.Context, token string) (*model.RefreshToken, error)
	DeleteRefresh(ctx context.Context, token string) error
	DeleteUserRefresh(ctx context.Context, userID uuid.UUID) error

	SaveVerification(ctx context.Context, token *model.VerificationToken) error
	GetVerification(ctx context.Context, userID uuid.UUID, token string) (*model.VerificationToken, error)
	DeleteVerification(ctx context.Context, id uuid.UUID) error
}

type tokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) SaveRefresh(ctx context.Context, token *model.RefreshToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *tokenRepository) GetRefresh(ctx context.Context, token string) (*model.RefreshToken, error) {
	var rt model.RefreshToken
	err := r.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, time.Now()).
		First(&rt).Error
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *tokenRepository) DeleteRefresh(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Where("token = ?", token).Delete(&model.RefreshToken{}).Error
}

func (r *tokenRepository) DeleteUserRefresh(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.RefreshToken{}).Error
}

func (r *tokenRepository) SaveVerification(ctx context.Context, token *model.VerificationToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *tokenRepository) GetVerification(ctx context.Context, userID uuid.UUID, token string) (*model.VerificationToken, error) {
	var vt model.VerificationToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND token = ? AND expires_at > ?", userID, token, time.Now()).
		First(&vt).Error
	if err != nil {
		return nil, err
	}
	return &vt, nil
}

func (r *tokenRepository) DeleteVerification(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&model.VerificationToken{}, "id = ?", id).Error
}
