package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/observability"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindByOrderCode(ctx context.Context, code int64) (*domain.Order, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.Order, error)
	ListPaged(ctx context.Context, req PageRequest) (PageResult[domain.Order], error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error
}

type GormOrderRepository struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) OrderRepository { return &GormOrderRepository{db: db} }

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "order", "create", "success")
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := r.db.WithContext(ctx).Preload("Details.Car").First(&o, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "order", "find_by_id", "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(ctx, "order", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "find_by_id", "success")
	return &o, nil
}

func (r *GormOrderRepository) FindByOrderCode(ctx context.Context, code int64) (*domain.Order, error) {
	var o domain.Order
	err := r.db.WithContext(ctx).Preload("Details.Car").Where("order_code = ?", code).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "order", "find_by_order_code", "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(ctx, "order", "find_by_order_code", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "find_by_order_code", "success")
	return &o, nil
}

func (r *GormOrderRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.db.WithContext(ctx).
		Preload("Details.Car").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "list_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "list_by_user_id", "success")
	return orders, nil
}

func (r *GormOrderRepository) ListPaged(ctx context.Context, req PageRequest) (PageResult[domain.Order], error) {
	req = normalizePageRequest(req)
	result := PageResult[domain.Order]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.Order{})
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "list_paged", "error")
		return PageResult[domain.Order]{}, err
	}
	err := base.Preload("Details").
		Order("created_at DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "list_paged", "error")
		return PageResult[domain.Order]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "order", "list_paged", "success")
	return result, nil
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "update_status", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "order", "update_status", "not_found")
		return ErrOrderNotFound
	}
	observability.RecordRepositoryOperation(ctx, "order", "update_status", "success")
	return nil
}
