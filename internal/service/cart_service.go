package service

import (
	"context"
	"errors"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/repository"
)

var (
	ErrOutOfStock      = errors.New("not enough stock for requested quantity")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

type CartService struct {
	carts repository.CartRepository
	cars  repository.CarRepository
}

func NewCartService(carts repository.CartRepository, cars repository.CarRepository) *CartService {
	return &CartService{carts: carts, cars: cars}
}

// GetCart returns the user's cart, creating the empty container on first
// access for accounts that predate cart provisioning at signup.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.carts.FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		cart = &domain.Cart{UserID: userID}
		if err := s.carts.Create(ctx, cart); err != nil {
			return nil, err
		}
		return s.carts.FindByUserID(ctx, userID)
	}
	return cart, err
}

func (s *CartService) AddItem(ctx context.Context, userID, carID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	car, err := s.cars.FindByID(ctx, carID)
	if err != nil {
		return nil, err
	}

	already := 0
	for _, item := range cart.Items {
		if item.CarID == carID {
			already = item.Quantity
			break
		}
	}
	if already+quantity > car.Stock {
		return nil, ErrOutOfStock
	}

	if err := s.carts.UpsertItem(ctx, &domain.CartItem{CartID: cart.ID, CarID: carID, Quantity: quantity}); err != nil {
		return nil, err
	}
	return s.carts.FindByUserID(ctx, userID)
}

func (s *CartService) RemoveItem(ctx context.Context, userID, carID string) (*domain.Cart, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.RemoveItem(ctx, cart.ID, carID); err != nil {
		return nil, err
	}
	return s.carts.FindByUserID(ctx, userID)
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return err
	}
	return s.carts.Clear(ctx, cart.ID)
}

// Total prices the cart at current catalog prices.
func Total(cart *domain.Cart) int64 {
	var total int64
	for _, item := range cart.Items {
		if item.Car != nil {
			total += item.Car.Price * int64(item.Quantity)
		}
	}
	return total
}
