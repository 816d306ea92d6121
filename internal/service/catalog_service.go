package service

import (
	"context"
	"errors"
	"strings"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/observability"
	"github.com/carzone/carzone-backend/internal/repository"
)

var ErrCatalogValidation = errors.New("catalog validation failed")

type CarInput struct {
	BrandID     string
	Name        string
	Description string
	Price       int64
	Stock       int
	ImageURL    string
}

type BrandInput struct {
	Name    string
	LogoURL string
}

type CatalogService struct {
	cars   repository.CarRepository
	brands repository.BrandRepository
}

func NewCatalogService(cars repository.CarRepository, brands repository.BrandRepository) *CatalogService {
	return &CatalogService{cars: cars, brands: brands}
}

func (s *CatalogService) ListCars(ctx context.Context, query repository.CarListQuery) (repository.PageResult[domain.Car], error) {
	return s.cars.ListPaged(ctx, query)
}

func (s *CatalogService) NewestCars(ctx context.Context, limit int) ([]domain.Car, error) {
	if limit <= 0 || limit > 12 {
		limit = 6
	}
	return s.cars.FindNewest(ctx, limit)
}

func (s *CatalogService) GetCar(ctx context.Context, id string) (*domain.Car, error) {
	return s.cars.FindByID(ctx, id)
}

func (s *CatalogService) CreateCar(ctx context.Context, input CarInput) (*domain.Car, error) {
	if err := s.validateCarInput(ctx, input); err != nil {
		return nil, err
	}
	car := &domain.Car{
		BrandID:     input.BrandID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Price:       input.Price,
		Stock:       input.Stock,
		ImageURL:    input.ImageURL,
	}
	if err := s.cars.Create(ctx, car); err != nil {
		return nil, err
	}
	observability.Audit(ctx, "catalog.car_created", "success", "", "car_id", car.ID)
	return car, nil
}

func (s *CatalogService) UpdateCar(ctx context.Context, id string, input CarInput) (*domain.Car, error) {
	car, err := s.cars.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validateCarInput(ctx, input); err != nil {
		return nil, err
	}
	car.BrandID = input.BrandID
	car.Brand = nil
	car.Name = strings.TrimSpace(input.Name)
	car.Description = input.Description
	car.Price = input.Price
	car.Stock = input.Stock
	car.ImageURL = input.ImageURL
	if err := s.cars.Update(ctx, car); err != nil {
		return nil, err
	}
	return car, nil
}

func (s *CatalogService) DeleteCar(ctx context.Context, id string) error {
	if err := s.cars.Delete(ctx, id); err != nil {
		return err
	}
	observability.Audit(ctx, "catalog.car_deleted", "success", "", "car_id", id)
	return nil
}

func (s *CatalogService) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	return s.brands.List(ctx)
}

func (s *CatalogService) GetBrand(ctx context.Context, id string) (*domain.Brand, error) {
	return s.brands.FindByID(ctx, id)
}

func (s *CatalogService) CreateBrand(ctx context.Context, input BrandInput) (*domain.Brand, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrCatalogValidation
	}
	brand := &domain.Brand{Name: name, LogoURL: input.LogoURL}
	if err := s.brands.Create(ctx, brand); err != nil {
		return nil, err
	}
	return brand, nil
}

func (s *CatalogService) UpdateBrand(ctx context.Context, id string, input BrandInput) (*domain.Brand, error) {
	brand, err := s.brands.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrCatalogValidation
	}
	brand.Name = name
	brand.LogoURL = input.LogoURL
	if err := s.brands.Update(ctx, brand); err != nil {
		return nil, err
	}
	return brand, nil
}

func (s *CatalogService) DeleteBrand(ctx context.Context, id string) error {
	return s.brands.Delete(ctx, id)
}

func (s *CatalogService) validateCarInput(ctx context.Context, input CarInput) error {
	if strings.TrimSpace(input.Name) == "" || input.Price < 0 || input.Stock < 0 {
		return ErrCatalogValidation
	}
	if _, err := s.brands.FindByID(ctx, input.BrandID); err != nil {
		return err
	}
	return nil
}
