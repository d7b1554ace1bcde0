package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/payments"
)

type checkoutFixture struct {
	store         *memoryStore
	prefs         *stubPreferences
	notifications *captureNotifications
	events        *captureEvents
	logs          *captureLogs
	svc           CheckoutService
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		store:         newMemoryStore(),
		prefs:         &stubPreferences{providers: []string{payments.ProviderMercadoPago, payments.ProviderStripe}},
		notifications: &captureNotifications{},
		events:        &captureEvents{},
		logs:          &captureLogs{},
	}
	f.store.addProduct(1, 50000, true)
	f.store.addProduct(2, 7000, false)

	pricing, err := NewPriceValidator(f.store, f.logs.log)
	if err != nil {
		t.Fatalf("NewPriceValidator: %v", err)
	}
	f.svc, err = NewCheckoutService(CheckoutServiceDeps{
		Orders:          f.store,
		Customers:       f.store,
		UnitOfWork:      f.store,
		Pricing:         pricing,
		Payments:        f.prefs,
		Notifications:   f.notifications,
		Events:          f.events,
		Currency:        "ars",
		ReturnURLs:      payments.ReturnURLs{Success: "https://shop.example/ok"},
		NotificationURL: "https://api.example/api/v1/webhooks/mercadopago",
		Clock:           fixedClock(),
		Logger:          f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return f
}

func validCustomer() *CustomerData {
	return &CustomerData{
		Name:     "Ana Pérez",
		Phone:    "+54 11 5555 4444",
		Email:    ptr("Ana@Example.com"),
		Address:  "Av. Siempre Viva 742",
		Locality: "Rosario",
	}
}

func TestCheckoutCreatesOrderAndPreference(t *testing.T) {
	f := newCheckoutFixture(t)

	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		Customer: validCustomer(),
		Items: []LineItemRequest{{
			ProductID:            1,
			Quantity:             2,
			PersonalizationFront: ptr("  <b>Mamá</b>  te   quiero "),
			Photos:               []PhotoRef{{StoragePath: "orders/photos/a.jpg", PublicURL: "https://cdn/a.jpg"}},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID == 0 || len(result.AccessToken) != 64 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.InitPoint != "https://pay.example/pref-1" || result.Provider != payments.ProviderMercadoPago {
		t.Fatalf("unexpected preference in result: %+v", result)
	}

	order := f.store.orders[result.OrderID]
	if order.Status != domain.OrderStatusPendingPayment || order.TotalAmount != 100000 || order.Currency != "ARS" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.AccessToken != result.AccessToken {
		t.Fatal("access token must be stored once and returned")
	}
	if order.PreferenceID == nil || *order.PreferenceID != "pref-1" {
		t.Fatalf("expected preference to be stored, got %v", order.PreferenceID)
	}
	if order.CustomerID == nil {
		t.Fatal("expected customer to be linked")
	}
	if email := f.store.customers[*order.CustomerID].Email; email == nil || *email != "ana@example.com" {
		t.Fatalf("expected normalised email, got %v", email)
	}

	items := f.store.items[order.ID]
	if len(items) != 1 || items[0].UnitPrice != 50000 || domain.SumLineTotals(items) != order.TotalAmount {
		t.Fatalf("unexpected items: %+v", items)
	}
	if got := *items[0].PersonalizationFront; got != "Mamá te quiero" {
		t.Fatalf("expected cleaned personalization, got %q", got)
	}
	if photos := f.store.photos[items[0].ID]; len(photos) != 1 || photos[0].Position != 1 {
		t.Fatalf("unexpected photos: %+v", photos)
	}

	req := f.prefs.requests[0]
	if req.OrderID != order.ID || req.Items[0].UnitPrice != 50000 || req.Payer == nil || req.Payer.Email != "ana@example.com" {
		t.Fatalf("unexpected preference request: %+v", req)
	}
	if len(f.notifications.confirmations) != 1 {
		t.Fatalf("expected confirmation to be sent")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != domain.OrderEventCreated {
		t.Fatalf("expected order.created event, got %+v", f.events.events)
	}
}

func TestCheckoutRejectsInactiveProductWithoutWritingOrders(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		Customer: validCustomer(),
		Items:    []LineItemRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}},
	})
	var priceErr *PriceValidationError
	if !errors.As(err, &priceErr) || len(priceErr.InvalidItems) != 1 || priceErr.InvalidItems[0] != 1 {
		t.Fatalf("expected price validation error for item 1, got %v", err)
	}
	if len(f.store.orders) != 0 || len(f.store.items) != 0 || len(f.store.customers) != 0 {
		t.Fatal("no rows may be written when pricing fails")
	}
	if len(f.prefs.requests) != 0 {
		t.Fatal("no preference may be created when pricing fails")
	}
}

func TestCheckoutRollsBackWhenItemsFail(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.createItemsErr = &testRepoError{msg: "db down", unavailable: true}

	_, err := f.svc.Checkout(context.Background(), CheckoutCommand{Items: []LineItemRequest{{ProductID: 1, Quantity: 1}}})
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if len(f.store.orders) != 0 {
		t.Fatal("order header must be rolled back with its items")
	}
}

func TestCheckoutPreferenceFailureKeepsPendingOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	f.prefs.err = payments.ErrGatewayUnavailable

	_, err := f.svc.Checkout(context.Background(), CheckoutCommand{Items: []LineItemRequest{{ProductID: 1, Quantity: 1}}})
	var payErr *CheckoutPaymentError
	if !errors.As(err, &payErr) || !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected payment error, got %v", err)
	}
	order, ok := f.store.orders[payErr.OrderID]
	if !ok || order.Status != domain.OrderStatusPendingPayment || order.PreferenceID != nil {
		t.Fatalf("expected stored pending order without preference, got %+v", order)
	}
	if len(f.notifications.confirmations) != 0 {
		t.Fatal("confirmation must not be sent without a preference")
	}
}

func TestCheckoutContinuesWhenCustomerCreationFails(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.customerErr = errors.New("crm down")

	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		Customer: validCustomer(),
		Items:    []LineItemRequest{{ProductID: 1, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.orders[result.OrderID].CustomerID != nil {
		t.Fatal("order must not reference a customer that was not created")
	}
	if !f.logs.has("checkout.customer.create.failed") {
		t.Fatalf("expected failure to be logged, got %v", f.logs.entries)
	}
}

func TestCheckoutValidation(t *testing.T) {
	cases := map[string]CheckoutCommand{
		"no items":          {},
		"unknown provider":  {Provider: "paypal", Items: []LineItemRequest{{ProductID: 1, Quantity: 1}}},
		"missing locality":  {Customer: &CustomerData{Name: "A", Phone: "1", Address: "x"}, Items: []LineItemRequest{{ProductID: 1, Quantity: 1}}},
		"bad email":         {Customer: &CustomerData{Name: "A", Phone: "1", Address: "x", Locality: "y", Email: ptr("nope")}, Items: []LineItemRequest{{ProductID: 1, Quantity: 1}}},
		"long engraving":    {Items: []LineItemRequest{{ProductID: 1, Quantity: 1, PersonalizationBack: ptr(strings.Repeat("a", maxPersonalizationRunes+1))}}},
		"long font":         {Items: []LineItemRequest{{ProductID: 1, Quantity: 1, EngravingFont: ptr(strings.Repeat("f", maxEngravingFontRunes+1))}}},
		"photo without key": {Items: []LineItemRequest{{ProductID: 1, Quantity: 1, Photos: []PhotoRef{{PublicURL: "https://cdn/x"}}}}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			f := newCheckoutFixture(t)
			if _, err := f.svc.Checkout(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if len(f.store.orders) != 0 {
				t.Fatal("no order may be written")
			}
		})
	}
}

func TestCheckoutUsesRequestedProvider(t *testing.T) {
	f := newCheckoutFixture(t)
	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		Provider: "Stripe",
		Items:    []LineItemRequest{{ProductID: 1, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != payments.ProviderStripe {
		t.Fatalf("expected stripe, got %s", result.Provider)
	}
	if p := f.store.orders[result.OrderID].PaymentProvider; p == nil || *p != payments.ProviderStripe {
		t.Fatalf("expected provider to be stored, got %v", p)
	}
}
