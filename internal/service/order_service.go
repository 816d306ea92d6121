package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/mailer"
	"github.com/carzone/carzone-backend/internal/observability"
	"github.com/carzone/carzone-backend/internal/repository"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrOrderNotPayable = errors.New("order is not awaiting payment")
)

type OrderService struct {
	orders repository.OrderRepository
	carts  repository.CartRepository
	cars   repository.CarRepository
	users  repository.UserRepository
	mail   mailer.Mailer
	logger *slog.Logger
}

func NewOrderService(
	orders repository.OrderRepository,
	carts repository.CartRepository,
	cars repository.CarRepository,
	users repository.UserRepository,
	mail mailer.Mailer,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders: orders,
		carts:  carts,
		cars:   cars,
		users:  users,
		mail:   mail,
		logger: logger,
	}
}

// Checkout turns the user's cart into a pending order. Stock is reserved
// line by line with guarded decrements; if any line cannot be reserved the
// ones already taken are put back and the checkout fails.
func (s *OrderService) Checkout(ctx context.Context, userID string) (*domain.Order, error) {
	cart, err := s.carts.FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		// Accounts predating cart provisioning have no row yet; to the
		// buyer that is the same as an empty cart.
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	var reserved []domain.CartItem
	for _, item := range cart.Items {
		if err := s.cars.DecrementStock(ctx, item.CarID, item.Quantity); err != nil {
			s.restock(ctx, reserved)
			if errors.Is(err, repository.ErrInsufficientStock) {
				return nil, ErrOutOfStock
			}
			return nil, err
		}
		reserved = append(reserved, item)
	}

	var total int64
	details := make([]domain.OrderDetail, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Car == nil {
			s.restock(ctx, reserved)
			return nil, fmt.Errorf("cart item %s has no car loaded", item.ID)
		}
		details = append(details, domain.OrderDetail{
			CarID:     item.CarID,
			Quantity:  item.Quantity,
			UnitPrice: item.Car.Price,
		})
		total += item.Car.Price * int64(item.Quantity)
	}

	code, err := s.uniqueOrderCode(ctx)
	if err != nil {
		s.restock(ctx, reserved)
		return nil, err
	}
	order := &domain.Order{
		UserID:    userID,
		OrderCode: code,
		Status:    domain.OrderStatusPending,
		Total:     total,
		Details:   details,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.restock(ctx, reserved)
		return nil, err
	}
	if err := s.carts.Clear(ctx, cart.ID); err != nil {
		s.logger.Error("clear cart after checkout failed", "cart_id", cart.ID, "error", err)
	}
	observability.Audit(ctx, "order.checkout", "success", "", "user_id", userID, "order_code", code, "total", total)
	return order, nil
}

// MarkPaid settles a pending order and sends the confirmation mail.
func (s *OrderService) MarkPaid(ctx context.Context, orderCode int64) (*domain.Order, error) {
	order, err := s.orders.FindByOrderCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		if order.Status == domain.OrderStatusPaid {
			// Gateways retry notifications; settling twice is not an error.
			return order, nil
		}
		return nil, ErrOrderNotPayable
	}
	if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPaid); err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusPaid

	if user, err := s.users.FindByID(ctx, order.UserID); err == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.mail.SendOrderConfirmation(ctx, user.Email, user.FullName, order.OrderCode, order.Total); err != nil {
				s.logger.Error("order confirmation mail failed", "order_code", order.OrderCode, "error", err)
			}
		}()
	}
	observability.Audit(ctx, "order.paid", "success", "", "order_code", orderCode)
	return order, nil
}

// Cancel voids a pending order and returns its reserved stock.
func (s *OrderService) Cancel(ctx context.Context, orderCode int64) (*domain.Order, error) {
	order, err := s.orders.FindByOrderCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		if order.Status == domain.OrderStatusCancelled {
			return order, nil
		}
		return nil, ErrOrderNotPayable
	}
	if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled); err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusCancelled
	for _, detail := range order.Details {
		if err := s.cars.IncrementStock(ctx, detail.CarID, detail.Quantity); err != nil {
			s.logger.Error("restock on cancel failed", "car_id", detail.CarID, "error", err)
		}
	}
	observability.Audit(ctx, "order.cancelled", "success", "", "order_code", orderCode)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.FindByID(ctx, id)
}

func (s *OrderService) GetOrderByCode(ctx context.Context, code int64) (*domain.Order, error) {
	return s.orders.FindByOrderCode(ctx, code)
}

func (s *OrderService) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.orders.ListByUserID(ctx, userID)
}

func (s *OrderService) ListAll(ctx context.Context, req repository.PageRequest) (repository.PageResult[domain.Order], error) {
	return s.orders.ListPaged(ctx, req)
}

func (s *OrderService) restock(ctx context.Context, items []domain.CartItem) {
	for _, item := range items {
		if err := s.cars.IncrementStock(ctx, item.CarID, item.Quantity); err != nil {
			s.logger.Error("restock failed", "car_id", item.CarID, "error", err)
		}
	}
}

// uniqueOrderCode draws 8-digit codes until one is free. Codes are what
// customers quote to support, so they stay short and numeric.
func (s *OrderService) uniqueOrderCode(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < 5; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(90000000))
		if err != nil {
			return 0, err
		}
		code := n.Int64() + 10000000
		_, err = s.orders.FindByOrderCode(ctx, code)
		if errors.Is(err, repository.ErrOrderNotFound) {
			return code, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("unique order code: exhausted retries")
}
