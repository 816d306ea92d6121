package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/observability"
)

var ErrTokenNotFound = errors.New("action token not found")

// TokenRepository stores single-use email verification and password reset
// codes. Codes are unique across both types by schema constraint.
type TokenRepository interface {
	Create(ctx context.Context, token *domain.Token) error
	FindValidByCode(ctx context.Context, code string, tokenType domain.TokenType) (*domain.Token, error)
	Invalidate(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID string, tokenType domain.TokenType) error
	CodeExists(ctx context.Context, code string) (bool, error)
}

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &GormTokenRepository{db: db} }

func (r *GormTokenRepository) Create(ctx context.Context, token *domain.Token) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token", "create", "success")
	return nil
}

func (r *GormTokenRepository) FindValidByCode(ctx context.Context, code string, tokenType domain.TokenType) (*domain.Token, error) {
	var t domain.Token
	err := r.db.WithContext(ctx).
		Where("code = ? AND type = ? AND is_valid = ? AND expires_at > ?", code, tokenType, true, time.Now()).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "token", "find_valid_by_code", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "token", "find_valid_by_code", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "token", "find_valid_by_code", "success")
	return &t, nil
}

func (r *GormTokenRepository) Invalidate(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("id = ?", id).
		Update("is_valid", false).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "invalidate", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token", "invalidate", "success")
	return nil
}

func (r *GormTokenRepository) InvalidateAllForUser(ctx context.Context, userID string, tokenType domain.TokenType) error {
	err := r.db.WithContext(ctx).Model(&domain.Token{}).
		Where("user_id = ? AND type = ? AND is_valid = ?", userID, tokenType, true).
		Update("is_valid", false).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "invalidate_all_for_user", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token", "invalidate_all_for_user", "success")
	return nil
}

func (r *GormTokenRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Token{}).Where("code = ?", code).Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "code_exists", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "token", "code_exists", "success")
	return count > 0, nil
}
