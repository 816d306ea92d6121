package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/observability"
)

var ErrCartNotFound = errors.New("cart not found")

type CartRepository interface {
	Create(ctx context.Context, cart *domain.Cart) error
	FindByUserID(ctx context.Context, userID string) (*domain.Cart, error)
	UpsertItem(ctx context.Context, item *domain.CartItem) error
	RemoveItem(ctx context.Context, cartID, carID string) error
	Clear(ctx context.Context, cartID string) error
}

type GormCartRepository struct{ db *gorm.DB }

func NewCartRepository(db *gorm.DB) CartRepository { return &GormCartRepository{db: db} }

func (r *GormCartRepository) Create(ctx context.Context, cart *domain.Cart) error {
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "cart", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "cart", "create", "success")
	return nil
}

func (r *GormCartRepository) FindByUserID(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := r.db.WithContext(ctx).
		Preload("Items.Car").
		Where("user_id = ?", userID).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "cart", "find_by_user_id", "not_found")
			return nil, ErrCartNotFound
		}
		observability.RecordRepositoryOperation(ctx, "cart", "find_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "cart", "find_by_user_id", "success")
	return &cart, nil
}

// UpsertItem adds a car to the cart or bumps its quantity when it is already
// present.
func (r *GormCartRepository) UpsertItem(ctx context.Context, item *domain.CartItem) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cart_id"}, {Name: "car_id"}},
		DoUpdates: clause.Assignments(map[string]any{"quantity": gorm.Expr("cart_items.quantity + ?", item.Quantity)}),
	}).Create(item).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "cart", "upsert_item", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "cart", "upsert_item", "success")
	return nil
}

func (r *GormCartRepository) RemoveItem(ctx context.Context, cartID, carID string) error {
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND car_id = ?", cartID, carID).
		Delete(&domain.CartItem{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "cart", "remove_item", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "cart", "remove_item", "success")
	return nil
}

func (r *GormCartRepository) Clear(ctx context.Context, cartID string) error {
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&domain.CartItem{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "cart", "clear", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "cart", "clear", "success")
	return nil
}
