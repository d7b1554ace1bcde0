package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pulsera/api/internal/services"
)

func newCheckoutRouter(svc services.CheckoutService) chi.Router {
	return NewRouter(WithCheckoutRoutes(NewCheckoutHandlers(svc).Routes))
}

func TestCheckoutHandlersCreate(t *testing.T) {
	svc := &stubCheckoutService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			if len(cmd.Items) != 1 {
				t.Fatalf("expected one item, got %d", len(cmd.Items))
			}
			item := cmd.Items[0]
			if item.ProductID != 7 || item.Quantity != 2 || len(item.AddonIDs) != 1 || item.AddonIDs[0] != 3 {
				t.Fatalf("unexpected item %+v", item)
			}
			if item.VariantID == nil || *item.VariantID != 9 {
				t.Fatalf("expected variant 9, got %v", item.VariantID)
			}
			if len(item.Photos) != 1 || item.Photos[0].StoragePath != "orders/photos/a.jpg" {
				t.Fatalf("unexpected photos %+v", item.Photos)
			}
			if cmd.Customer == nil || cmd.Customer.Name != "Ana" {
				t.Fatalf("expected customer data, got %+v", cmd.Customer)
			}
			return services.CheckoutResult{
				OrderID:     42,
				AccessToken: "tok",
				InitPoint:   "https://pay.example/42",
				TotalAmount: 11000,
				Currency:    "ARS",
			}, nil
		},
	}
	body := `{
		"customerData": {"name": "Ana", "phone": "351", "address": "Calle 1", "locality": "Córdoba"},
		"items": [{"productId": 7, "productVariantId": 9, "quantity": 2, "selectedAddons": [3],
			"photos": [{"storage_path": "orders/photos/a.jpg", "public_url": "https://cdn.example/a.jpg"}]}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	rr := httptest.NewRecorder()
	newCheckoutRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["init_point"] != "https://pay.example/42" || resp["order_id"] != float64(42) || resp["access_token"] != "tok" {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestCheckoutHandlersRejectsEmptyItems(t *testing.T) {
	for _, body := range []string{`{}`, `{"items": []}`, ``, `not json`} {
		svc := &stubCheckoutService{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
		rr := httptest.NewRecorder()
		newCheckoutRouter(svc).ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
		if svc.calls != 0 {
			t.Fatalf("body %q: service must not be called", body)
		}
	}
}

func TestCheckoutHandlersInactiveProduct(t *testing.T) {
	svc := &stubCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, &services.PriceValidationError{InvalidItems: []int{0}}
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"items":[{"productId":1,"quantity":1}]}`))
	rr := httptest.NewRecorder()
	newCheckoutRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["error"] != "invalid_items" {
		t.Fatalf("unexpected error code %v", resp["error"])
	}
	items, ok := resp["invalid_items"].([]any)
	if !ok || len(items) != 1 || items[0] != float64(0) {
		t.Fatalf("unexpected invalid items %v", resp["invalid_items"])
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", services.ErrCheckoutInvalidInput, http.StatusBadRequest, ""},
		{"payment failed", &services.CheckoutPaymentError{OrderID: 42, Err: errors.New("psp down")}, http.StatusInternalServerError, "payment_failed"},
		{"unavailable", services.ErrCheckoutUnavailable, http.StatusServiceUnavailable, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCheckoutService{
				checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"items":[{"productId":1,"quantity":1}]}`))
			rr := httptest.NewRecorder()
			newCheckoutRouter(svc).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.code == "payment_failed" {
				resp := decodeBody(t, rr)
				if resp["error"] != "payment_failed" {
					t.Fatalf("unexpected error code %v", resp["error"])
				}
				if resp["order_id"] != float64(42) {
					t.Fatalf("expected order id in details, got %v", resp)
				}
				if strings.Contains(rr.Body.String(), "psp down") {
					t.Fatal("upstream error must not leak")
				}
			}
		})
	}
}
