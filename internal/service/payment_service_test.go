package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/carzone/carzone-backend/internal/config"
	"github.com/carzone/carzone-backend/internal/domain"
)

func newPaymentHarness(t *testing.T, gatewayURL string) (*PaymentService, *commerceHarness) {
	t.Helper()
	h := newCommerceHarness(t)
	cfg := &config.Config{PaymentAPIURL: gatewayURL, PaymentAPIKey: "test-api-key"}
	svc := NewPaymentService(cfg, h.orders, slog.New(slog.DiscardHandler))
	return svc, h
}

func (h *commerceHarness) checkoutOrder(t *testing.T) *domain.Order {
	t.Helper()
	ctx := context.Background()
	if _, err := h.carts.AddItem(ctx, h.user.ID, h.car.ID, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	order, err := h.orders.Checkout(ctx, h.user.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return order
}

func TestCreateSessionCallsGateway(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(PaymentSession{Token: "tok-1", RedirectURL: "https://pay.example.com/tok-1"})
	}))
	t.Cleanup(gateway.Close)

	svc, h := newPaymentHarness(t, gateway.URL)
	order := h.checkoutOrder(t)

	session, err := svc.CreateSession(context.Background(), h.user, order)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Token != "tok-1" || session.RedirectURL == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if gotAuth != "Bearer test-api-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	tx, ok := gotBody["transaction_details"].(map[string]any)
	if !ok {
		t.Fatalf("missing transaction_details in %v", gotBody)
	}
	if tx["order_id"] != strconv.FormatInt(order.OrderCode, 10) {
		t.Fatalf("order_id = %v, want %d", tx["order_id"], order.OrderCode)
	}
}

func TestCreateSessionGatewayFailure(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	t.Cleanup(gateway.Close)

	svc, h := newPaymentHarness(t, gateway.URL)
	order := h.checkoutOrder(t)

	if _, err := svc.CreateSession(context.Background(), h.user, order); !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}

func TestCreateSessionRejectsSettledOrder(t *testing.T) {
	svc, h := newPaymentHarness(t, "http://gateway.invalid")
	order := h.checkoutOrder(t)
	if _, err := h.orders.MarkPaid(context.Background(), order.OrderCode); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	order.Status = domain.OrderStatusPaid

	if _, err := svc.CreateSession(context.Background(), h.user, order); !errors.Is(err, ErrOrderNotPayable) {
		t.Fatalf("expected ErrOrderNotPayable, got %v", err)
	}
}

func TestHandleNotificationSettlesOrder(t *testing.T) {
	svc, h := newPaymentHarness(t, "http://gateway.invalid")
	order := h.checkoutOrder(t)
	ctx := context.Background()

	codeStr := strconv.FormatInt(order.OrderCode, 10)
	amount := strconv.FormatInt(order.Total, 10)
	notif := PaymentNotification{
		OrderCode:   codeStr,
		Status:      "settlement",
		GrossAmount: amount,
		Signature:   svc.Sign(codeStr, "settlement", amount),
	}

	updated, err := svc.HandleNotification(ctx, notif)
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", updated.Status)
	}
}

func TestHandleNotificationRejectsForgedSignature(t *testing.T) {
	svc, h := newPaymentHarness(t, "http://gateway.invalid")
	order := h.checkoutOrder(t)
	ctx := context.Background()

	codeStr := strconv.FormatInt(order.OrderCode, 10)
	notif := PaymentNotification{
		OrderCode:   codeStr,
		Status:      "settlement",
		GrossAmount: strconv.FormatInt(order.Total, 10),
		Signature:   "deadbeef",
	}

	if _, err := svc.HandleNotification(ctx, notif); !errors.Is(err, ErrNotificationForgery) {
		t.Fatalf("expected ErrNotificationForgery, got %v", err)
	}
	fresh, err := h.orders.GetOrderByCode(ctx, order.OrderCode)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Status != domain.OrderStatusPending {
		t.Fatalf("forged notification changed status to %s", fresh.Status)
	}
}

func TestHandleNotificationCancelRestocks(t *testing.T) {
	svc, h := newPaymentHarness(t, "http://gateway.invalid")
	order := h.checkoutOrder(t)
	ctx := context.Background()

	codeStr := strconv.FormatInt(order.OrderCode, 10)
	amount := strconv.FormatInt(order.Total, 10)
	notif := PaymentNotification{
		OrderCode:   codeStr,
		Status:      "expire",
		GrossAmount: amount,
		Signature:   svc.Sign(codeStr, "expire", amount),
	}

	updated, err := svc.HandleNotification(ctx, notif)
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}
	if got := h.stock(t, h.car.ID); got != 3 {
		t.Fatalf("stock = %d, want 3 after expiry restock", got)
	}
}
