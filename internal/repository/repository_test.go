package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/carzone/carzone-backend/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// A single pooled connection keeps every session on the same in-memory
	// database.
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&domain.User{}, &domain.Token{},
		&domain.Brand{}, &domain.Car{},
		&domain.Cart{}, &domain.CartItem{},
		&domain.Order{}, &domain.OrderDetail{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *domain.User {
	t.Helper()
	u := &domain.User{FullName: "Test User", Email: email, PasswordHash: "x", Role: domain.RoleCustomer}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestUserRepositoryLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	if _, err := repo.FindByEmail(ctx, "nobody@example.com"); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	u := &domain.User{FullName: "Jamie Rivers", Email: "jamie@example.com", PasswordHash: "hash", Role: domain.RoleCustomer}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}

	found, err := repo.FindByEmail(ctx, "jamie@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if found.ID != u.ID {
		t.Fatalf("id mismatch: %s vs %s", found.ID, u.ID)
	}

	exists, err := repo.ExistsByEmail(ctx, "jamie@example.com")
	if err != nil || !exists {
		t.Fatalf("exists = %v, err = %v", exists, err)
	}

	now := time.Now()
	found.EmailVerifiedAt = &now
	if err := repo.Update(ctx, found); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := repo.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if !again.IsVerified() {
		t.Fatal("expected verified user after update")
	}
}

func TestTokenRepositoryValidityRules(t *testing.T) {
	db := newTestDB(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "tok@example.com")

	valid := &domain.Token{
		UserID:    u.ID,
		Code:      "1234567",
		Type:      domain.TokenTypeEmailVerification,
		IsValid:   true,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	if err := repo.Create(ctx, valid); err != nil {
		t.Fatalf("create: %v", err)
	}
	expired := &domain.Token{
		UserID:    u.ID,
		Code:      "7654321",
		Type:      domain.TokenTypeEmailVerification,
		IsValid:   true,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}

	if _, err := repo.FindValidByCode(ctx, "7654321", domain.TokenTypeEmailVerification); err != ErrTokenNotFound {
		t.Fatalf("expired code should not resolve, got %v", err)
	}
	if _, err := repo.FindValidByCode(ctx, "1234567", domain.TokenTypePasswordReset); err != ErrTokenNotFound {
		t.Fatalf("wrong type should not resolve, got %v", err)
	}
	got, err := repo.FindValidByCode(ctx, "1234567", domain.TokenTypeEmailVerification)
	if err != nil {
		t.Fatalf("find valid: %v", err)
	}

	if err := repo.Invalidate(ctx, got.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := repo.FindValidByCode(ctx, "1234567", domain.TokenTypeEmailVerification); err != ErrTokenNotFound {
		t.Fatalf("invalidated code should not resolve, got %v", err)
	}

	exists, err := repo.CodeExists(ctx, "1234567")
	if err != nil || !exists {
		t.Fatalf("code exists = %v, err = %v", exists, err)
	}
}

func TestTokenRepositoryInvalidateAllForUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "bulk@example.com")

	for i := 0; i < 3; i++ {
		tok := &domain.Token{
			UserID:    u.ID,
			Code:      fmt.Sprintf("00000%d1", i),
			Type:      domain.TokenTypePasswordReset,
			IsValid:   true,
			ExpiresAt: time.Now().Add(15 * time.Minute),
		}
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := repo.InvalidateAllForUser(ctx, u.ID, domain.TokenTypePasswordReset); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	var count int64
	db.Model(&domain.Token{}).Where("user_id = ? AND is_valid = ?", u.ID, true).Count(&count)
	if count != 0 {
		t.Fatalf("expected 0 valid tokens, got %d", count)
	}
}

func TestCarRepositoryListPaged(t *testing.T) {
	db := newTestDB(t)
	cars := NewCarRepository(db)
	brands := NewBrandRepository(db)
	ctx := context.Background()

	toyota := &domain.Brand{Name: "Toyota"}
	honda := &domain.Brand{Name: "Honda"}
	if err := brands.Create(ctx, toyota); err != nil {
		t.Fatalf("create brand: %v", err)
	}
	if err := brands.Create(ctx, honda); err != nil {
		t.Fatalf("create brand: %v", err)
	}

	for i := 0; i < 5; i++ {
		brandID := toyota.ID
		if i%2 == 1 {
			brandID = honda.ID
		}
		car := &domain.Car{BrandID: brandID, Name: fmt.Sprintf("Model %d", i), Price: int64(10000 + i), Stock: 3}
		if err := cars.Create(ctx, car); err != nil {
			t.Fatalf("create car: %v", err)
		}
	}

	page, err := cars.ListPaged(ctx, CarListQuery{PageRequest: PageRequest{Page: 1, PageSize: 2}})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.TotalPages, len(page.Items))
	}

	filtered, err := cars.ListPaged(ctx, CarListQuery{PageRequest: PageRequest{Page: 1, PageSize: 10}, BrandID: toyota.ID})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if filtered.Total != 3 {
		t.Fatalf("expected 3 toyota cars, got %d", filtered.Total)
	}
	for _, c := range filtered.Items {
		if c.BrandID != toyota.ID {
			t.Fatalf("filter leaked brand %s", c.BrandID)
		}
	}
}

func TestCartRepositoryUpsertItem(t *testing.T) {
	db := newTestDB(t)
	carts := NewCartRepository(db)
	carsRepo := NewCarRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "cart@example.com")

	brand := &domain.Brand{Name: "Mazda"}
	if err := db.Create(brand).Error; err != nil {
		t.Fatalf("seed brand: %v", err)
	}
	car := &domain.Car{BrandID: brand.ID, Name: "MX-5", Price: 30000, Stock: 2}
	if err := carsRepo.Create(ctx, car); err != nil {
		t.Fatalf("seed car: %v", err)
	}

	cart := &domain.Cart{UserID: u.ID}
	if err := carts.Create(ctx, cart); err != nil {
		t.Fatalf("create cart: %v", err)
	}

	item := &domain.CartItem{CartID: cart.ID, CarID: car.ID, Quantity: 1}
	if err := carts.UpsertItem(ctx, item); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := carts.UpsertItem(ctx, &domain.CartItem{CartID: cart.ID, CarID: car.ID, Quantity: 2}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	loaded, err := carts.FindByUserID(ctx, u.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(loaded.Items) != 1 {
		t.Fatalf("expected one merged line, got %d", len(loaded.Items))
	}
	if loaded.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", loaded.Items[0].Quantity)
	}

	if err := carts.Clear(ctx, cart.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cleared, err := carts.FindByUserID(ctx, u.ID)
	if err != nil {
		t.Fatalf("find after clear: %v", err)
	}
	if len(cleared.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cleared.Items))
	}
}

func TestOrderRepositoryStatusTransitions(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "order@example.com")

	brand := &domain.Brand{Name: "Ford"}
	if err := db.Create(brand).Error; err != nil {
		t.Fatalf("seed brand: %v", err)
	}
	car := &domain.Car{BrandID: brand.ID, Name: "Focus", Price: 25000, Stock: 5}
	if err := db.Create(car).Error; err != nil {
		t.Fatalf("seed car: %v", err)
	}

	order := &domain.Order{
		UserID:    u.ID,
		OrderCode: 8800001,
		Status:    domain.OrderStatusPending,
		Total:     50000,
		Details:   []domain.OrderDetail{{CarID: car.ID, Quantity: 2, UnitPrice: 25000}},
	}
	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}

	byCode, err := orders.FindByOrderCode(ctx, 8800001)
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if len(byCode.Details) != 1 {
		t.Fatalf("expected details preloaded, got %d", len(byCode.Details))
	}

	if err := orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPaid); err != nil {
		t.Fatalf("update status: %v", err)
	}
	paid, err := orders.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", paid.Status)
	}

	if err := orders.UpdateStatus(ctx, "missing-id", domain.OrderStatusCancelled); err != ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	mine, err := orders.ListByUserID(ctx, u.ID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("list by user: %v (%d orders)", err, len(mine))
	}
}
