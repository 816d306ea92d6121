package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/mailer"
	"github.com/carzone/carzone-backend/internal/repository"
)

type commerceHarness struct {
	db     *gorm.DB
	carts  *CartService
	orders *OrderService
	user   *domain.User
	car    *domain.Car
}

func newCommerceHarness(t *testing.T) *commerceHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&domain.User{}, &domain.Brand{}, &domain.Car{},
		&domain.Cart{}, &domain.CartItem{},
		&domain.Order{}, &domain.OrderDetail{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	user := &domain.User{FullName: "Buyer", Email: "buyer@example.com", PasswordHash: "x", Role: domain.RoleCustomer}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	brand := &domain.Brand{Name: "Subaru"}
	if err := db.Create(brand).Error; err != nil {
		t.Fatalf("seed brand: %v", err)
	}
	car := &domain.Car{BrandID: brand.ID, Name: "Outback", Price: 40000, Stock: 3}
	if err := db.Create(car).Error; err != nil {
		t.Fatalf("seed car: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	cartRepo := repository.NewCartRepository(db)
	carRepo := repository.NewCarRepository(db)
	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	return &commerceHarness{
		db:     db,
		carts:  NewCartService(cartRepo, carRepo),
		orders: NewOrderService(orderRepo, cartRepo, carRepo, userRepo, mailer.NewLogMailer(logger), logger),
		user:   user,
		car:    car,
	}
}

func (h *commerceHarness) stock(t *testing.T, carID string) int {
	t.Helper()
	var car domain.Car
	if err := h.db.First(&car, "id = ?", carID).Error; err != nil {
		t.Fatalf("load car: %v", err)
	}
	return car.Stock
}

func TestCartAddItemEnforcesStock(t *testing.T) {
	h := newCommerceHarness(t)
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 4); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	cart, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart: %+v", cart.Items)
	}

	// 2 already held plus 2 more would exceed stock 3.
	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 2); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock on top-up, got %v", err)
	}

	cart, err = h.carts.RemoveItem(ctx, h.user.ID, h.car.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
}

func TestCheckoutReservesStockAndClearsCart(t *testing.T) {
	h := newCommerceHarness(t)
	ctx := context.Background()

	// The seeded user has no cart row yet; that reads as an empty cart.
	if _, err := h.orders.Checkout(ctx, h.user.ID); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	order, err := h.orders.Checkout(ctx, h.user.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if order.Total != 80000 {
		t.Fatalf("total = %d, want 80000", order.Total)
	}
	if order.OrderCode < 10000000 || order.OrderCode > 99999999 {
		t.Fatalf("order code %d not 8 digits", order.OrderCode)
	}
	if len(order.Details) != 1 || order.Details[0].UnitPrice != 40000 {
		t.Fatalf("unexpected details: %+v", order.Details)
	}

	if got := h.stock(t, h.car.ID); got != 1 {
		t.Fatalf("stock = %d, want 1 after reservation", got)
	}
	cart, err := h.carts.GetCart(ctx, h.user.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("cart should be empty after checkout, got %d items", len(cart.Items))
	}
}

func TestCheckoutFailsWhenStockVanishes(t *testing.T) {
	h := newCommerceHarness(t)
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Someone else buys the last units between add-to-cart and checkout.
	if err := h.db.Model(&domain.Car{}).Where("id = ?", h.car.ID).Update("stock", 1).Error; err != nil {
		t.Fatalf("shrink stock: %v", err)
	}

	if _, err := h.orders.Checkout(ctx, h.user.ID); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if got := h.stock(t, h.car.ID); got != 1 {
		t.Fatalf("stock = %d, failed checkout must not consume stock", got)
	}
}

func TestMarkPaidAndCancelTransitions(t *testing.T) {
	h := newCommerceHarness(t)
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	order, err := h.orders.Checkout(ctx, h.user.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	paid, err := h.orders.MarkPaid(ctx, order.OrderCode)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", paid.Status)
	}
	// Gateway retries are tolerated.
	if _, err := h.orders.MarkPaid(ctx, order.OrderCode); err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	// A settled order cannot be cancelled.
	if _, err := h.orders.Cancel(ctx, order.OrderCode); !errors.Is(err, ErrOrderNotPayable) {
		t.Fatalf("expected ErrOrderNotPayable, got %v", err)
	}
}

func TestCancelRestocks(t *testing.T) {
	h := newCommerceHarness(t)
	ctx := context.Background()

	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	order, err := h.orders.Checkout(ctx, h.user.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if got := h.stock(t, h.car.ID); got != 1 {
		t.Fatalf("stock = %d, want 1 after checkout", got)
	}

	cancelled, err := h.orders.Cancel(ctx, order.OrderCode)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if got := h.stock(t, h.car.ID); got != 3 {
		t.Fatalf("stock = %d, want 3 after restock", got)
	}
	// Cancelling twice is a no-op.
	if _, err := h.orders.Cancel(ctx, order.OrderCode); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if got := h.stock(t, h.car.ID); got != 3 {
		t.Fatalf("stock = %d, second cancel must not restock again", got)
	}
}
