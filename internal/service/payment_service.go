package service

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/carzone/carzone-backend/internal/config"
	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/observability"
)

var (
	ErrPaymentGateway      = errors.New("payment gateway error")
	ErrNotificationForgery = errors.New("payment notification signature mismatch")
)

// PaymentSession is what the client needs to hand the customer over to the
// gateway's hosted payment page.
type PaymentSession struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// PaymentNotification is the gateway's server-to-server callback payload.
type PaymentNotification struct {
	OrderCode   string `json:"order_id"`
	Status      string `json:"transaction_status"`
	GrossAmount string `json:"gross_amount"`
	Signature   string `json:"signature_key"`
}

type PaymentService struct {
	apiURL string
	apiKey string
	client *http.Client
	orders *OrderService
	logger *slog.Logger
}

func NewPaymentService(cfg *config.Config, orders *OrderService, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		apiURL: cfg.PaymentAPIURL,
		apiKey: cfg.PaymentAPIKey,
		client: &http.Client{Timeout: 15 * time.Second},
		orders: orders,
		logger: logger,
	}
}

// CreateSession registers a pending order with the gateway and returns the
// redirect the customer completes payment on.
func (s *PaymentService) CreateSession(ctx context.Context, user *domain.User, order *domain.Order) (*PaymentSession, error) {
	if order.Status != domain.OrderStatusPending {
		return nil, ErrOrderNotPayable
	}
	payload, err := json.Marshal(map[string]any{
		"transaction_details": map[string]any{
			"order_id":     strconv.FormatInt(order.OrderCode, 10),
			"gross_amount": order.Total,
		},
		"customer_details": map[string]any{
			"first_name": user.FullName,
			"email":      user.Email,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/transactions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		observability.Audit(ctx, "payment.session", "failure", "gateway_unreachable", "order_code", order.OrderCode)
		return nil, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		observability.Audit(ctx, "payment.session", "failure", "gateway_status", "order_code", order.OrderCode, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d: %s", ErrPaymentGateway, resp.StatusCode, body)
	}

	var session PaymentSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrPaymentGateway, err)
	}
	observability.Audit(ctx, "payment.session", "success", "", "order_code", order.OrderCode)
	return &session, nil
}

// HandleNotification settles or voids an order based on a gateway callback.
// The signature binds order id, status, amount and the API key, so a forged
// callback cannot flip order state.
func (s *PaymentService) HandleNotification(ctx context.Context, notif PaymentNotification) (*domain.Order, error) {
	if notif.Signature != s.signature(notif.OrderCode, notif.Status, notif.GrossAmount) {
		observability.Audit(ctx, "payment.notification", "failure", "bad_signature", "order_code", notif.OrderCode)
		return nil, ErrNotificationForgery
	}
	code, err := strconv.ParseInt(notif.OrderCode, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse order code %q: %w", notif.OrderCode, err)
	}

	switch notif.Status {
	case "settlement", "capture":
		return s.orders.MarkPaid(ctx, code)
	case "cancel", "deny", "expire":
		return s.orders.Cancel(ctx, code)
	case "pending":
		return s.orders.GetOrderByCode(ctx, code)
	default:
		s.logger.Warn("unhandled payment status", "status", notif.Status, "order_code", notif.OrderCode)
		return s.orders.GetOrderByCode(ctx, code)
	}
}

func (s *PaymentService) signature(orderCode, status, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderCode + status + grossAmount + s.apiKey))
	return hex.EncodeToString(sum[:])
}

// Sign is exposed for integrations that need to compute the callback
// signature, primarily tests and the smoke tool.
func (s *PaymentService) Sign(orderCode, status, grossAmount string) string {
	return s.signature(orderCode, status, grossAmount)
}
