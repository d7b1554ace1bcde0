package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/pagination"
	"github.com/pulsera/api/internal/services"
)

type stubCheckoutService struct {
	checkoutFn func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error)
	calls      int
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	s.calls++
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return services.CheckoutResult{}, errors.New("not implemented")
}

type stubOrderService struct {
	getForCustomerFn func(context.Context, int64, string) (domain.Order, error)
	customerUpdateFn func(context.Context, services.CustomerStatusCommand) (domain.Order, error)
	adminUpdateFn    func(context.Context, services.AdminStatusCommand) (services.TransitionResult, error)
	detailFn         func(context.Context, int64) (services.OrderDetail, error)
	listFn           func(context.Context, services.OrderListFilter) (pagination.Page[domain.Order], error)
}

func (s *stubOrderService) GetOrderForCustomer(ctx context.Context, orderID int64, token string) (domain.Order, error) {
	if s.getForCustomerFn != nil {
		return s.getForCustomerFn(ctx, orderID, token)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatusAsCustomer(ctx context.Context, cmd services.CustomerStatusCommand) (domain.Order, error) {
	if s.customerUpdateFn != nil {
		return s.customerUpdateFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatusAsAdmin(ctx context.Context, cmd services.AdminStatusCommand) (services.TransitionResult, error) {
	if s.adminUpdateFn != nil {
		return s.adminUpdateFn(ctx, cmd)
	}
	return services.TransitionResult{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrderDetail(ctx context.Context, orderID int64) (services.OrderDetail, error) {
	if s.detailFn != nil {
		return s.detailFn(ctx, orderID)
	}
	return services.OrderDetail{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (pagination.Page[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return pagination.Page[domain.Order]{}, nil
}

type stubReconciler struct {
	calls    []string
	result   services.ReconcileResult
	err      error
	provider string
}

func (s *stubReconciler) ReconcilePayment(ctx context.Context, provider, paymentID string) (services.ReconcileResult, error) {
	s.provider = provider
	s.calls = append(s.calls, paymentID)
	return s.result, s.err
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func samplePendingOrder() domain.Order {
	return domain.Order{
		ID:          42,
		Status:      domain.OrderStatusPendingPayment,
		TotalAmount: 100000,
		Currency:    "ARS",
		AccessToken: "secret-token",
		Items: []domain.OrderItem{{
			ID:        1,
			OrderID:   42,
			ProductID: 7,
			Quantity:  1,
			UnitPrice: 100000,
			LineTotal: 100000,
			Photos:    []domain.OrderItemPhoto{{StoragePath: "orders/photos/a.jpg", PublicURL: "https://cdn.example/a.jpg", Position: 1}},
		}},
	}
}
