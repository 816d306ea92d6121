package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/observability"
)

var (
	ErrCarNotFound       = errors.New("car not found")
	ErrBrandNotFound     = errors.New("brand not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type CarListQuery struct {
	PageRequest
	BrandID string
}

type CarRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Car, error)
	FindNewest(ctx context.Context, limit int) ([]domain.Car, error)
	ListPaged(ctx context.Context, query CarListQuery) (PageResult[domain.Car], error)
	Create(ctx context.Context, car *domain.Car) error
	Update(ctx context.Context, car *domain.Car) error
	Delete(ctx context.Context, id string) error
	// DecrementStock reduces stock by quantity only if enough remains,
	// in one guarded statement.
	DecrementStock(ctx context.Context, id string, quantity int) error
	IncrementStock(ctx context.Context, id string, quantity int) error
}

type GormCarRepository struct{ db *gorm.DB }

func NewCarRepository(db *gorm.DB) CarRepository { return &GormCarRepository{db: db} }

func (r *GormCarRepository) FindByID(ctx context.Context, id string) (*domain.Car, error) {
	var c domain.Car
	err := r.db.WithContext(ctx).Preload("Brand").First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "car", "find_by_id", "not_found")
			return nil, ErrCarNotFound
		}
		observability.RecordRepositoryOperation(ctx, "car", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "car", "find_by_id", "success")
	return &c, nil
}

func (r *GormCarRepository) FindNewest(ctx context.Context, limit int) ([]domain.Car, error) {
	if limit <= 0 {
		limit = 1
	}
	var cars []domain.Car
	err := r.db.WithContext(ctx).Preload("Brand").
		Order("created_at DESC").
		Limit(limit).
		Find(&cars).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "car", "find_newest", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "car", "find_newest", "success")
	return cars, nil
}

func (r *GormCarRepository) ListPaged(ctx context.Context, query CarListQuery) (PageResult[domain.Car], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.Car]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.Car{})
	if query.BrandID != "" {
		base = base.Where("brand_id = ?", query.BrandID)
	}
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "car", "list_paged", "error")
		return PageResult[domain.Car]{}, err
	}

	offset := (req.Page - 1) * req.PageSize
	err := base.Preload("Brand").
		Order("created_at DESC").
		Offset(offset).
		Limit(req.PageSize).
		Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "car", "list_paged", "error")
		return PageResult[domain.Car]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "car", "list_paged", "success")
	return result, nil
}

func (r *GormCarRepository) Create(ctx context.Context, car *domain.Car) error {
	if err := r.db.WithContext(ctx).Create(car).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "car", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "car", "create", "success")
	return nil
}

func (r *GormCarRepository) Update(ctx context.Context, car *domain.Car) error {
	if err := r.db.WithContext(ctx).Save(car).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "car", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "car", "update", "success")
	return nil
}

func (r *GormCarRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Car{}, "id = ?", id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "car", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "car", "delete", "not_found")
		return ErrCarNotFound
	}
	observability.RecordRepositoryOperation(ctx, "car", "delete", "success")
	return nil
}

func (r *GormCarRepository) DecrementStock(ctx context.Context, id string, quantity int) error {
	res := r.db.WithContext(ctx).Model(&domain.Car{}).
		Where("id = ? AND stock >= ?", id, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "car", "decrement_stock", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "car", "decrement_stock", "conflict")
		return ErrInsufficientStock
	}
	observability.RecordRepositoryOperation(ctx, "car", "decrement_stock", "success")
	return nil
}

func (r *GormCarRepository) IncrementStock(ctx context.Context, id string, quantity int) error {
	res := r.db.WithContext(ctx).Model(&domain.Car{}).
		Where("id = ?", id).
		Update("stock", gorm.Expr("stock + ?", quantity))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "car", "increment_stock", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "car", "increment_stock", "not_found")
		return ErrCarNotFound
	}
	observability.RecordRepositoryOperation(ctx, "car", "increment_stock", "success")
	return nil
}

type BrandRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Brand, error)
	List(ctx context.Context) ([]domain.Brand, error)
	Create(ctx context.Context, brand *domain.Brand) error
	Update(ctx context.Context, brand *domain.Brand) error
	Delete(ctx context.Context, id string) error
}

type GormBrandRepository struct{ db *gorm.DB }

func NewBrandRepository(db *gorm.DB) BrandRepository { return &GormBrandRepository{db: db} }

func (r *GormBrandRepository) FindByID(ctx context.Context, id string) (*domain.Brand, error) {
	var b domain.Brand
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "brand", "find_by_id", "not_found")
			return nil, ErrBrandNotFound
		}
		observability.RecordRepositoryOperation(ctx, "brand", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "brand", "find_by_id", "success")
	return &b, nil
}

func (r *GormBrandRepository) List(ctx context.Context) ([]domain.Brand, error) {
	var brands []domain.Brand
	err := r.db.WithContext(ctx).Order("name ASC").Find(&brands).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "brand", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "brand", "list", "success")
	return brands, nil
}

func (r *GormBrandRepository) Create(ctx context.Context, brand *domain.Brand) error {
	if err := r.db.WithContext(ctx).Create(brand).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "brand", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "brand", "create", "success")
	return nil
}

func (r *GormBrandRepository) Update(ctx context.Context, brand *domain.Brand) error {
	if err := r.db.WithContext(ctx).Save(brand).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "brand", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "brand", "update", "success")
	return nil
}

func (r *GormBrandRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Brand{}, "id = ?", id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "brand", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "brand", "delete", "not_found")
		return ErrBrandNotFound
	}
	observability.RecordRepositoryOperation(ctx, "brand", "delete", "success")
	return nil
}
