package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/payments"
)

type reconcileFixture struct {
	store         *memoryStore
	gateway       *payments.MockGateway
	notifications *captureNotifications
	events        *captureEvents
	logs          *captureLogs
	svc           ReconciliationService
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		store:         newMemoryStore(),
		gateway:       payments.NewMockGateway(payments.ProviderMercadoPago, ""),
		notifications: &captureNotifications{},
		events:        &captureEvents{},
		logs:          &captureLogs{},
	}
	manager, err := payments.NewManager(map[string]payments.Gateway{payments.ProviderMercadoPago: f.gateway})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.svc, err = NewReconciliationService(ReconciliationServiceDeps{
		Orders:        f.store,
		Payments:      f.store,
		Customers:     f.store,
		UnitOfWork:    f.store,
		Gateway:       manager,
		Notifications: f.notifications,
		Events:        f.events,
		Clock:         fixedClock(),
		Logger:        f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewReconciliationService: %v", err)
	}
	return f
}

func (f *reconcileFixture) seed(id int64, status domain.OrderStatus) {
	f.store.customers[1] = domain.Customer{ID: 1, Name: "Ana", Email: ptr("ana@example.com")}
	f.store.orders[id] = domain.Order{ID: id, Status: status, TotalAmount: 100000, Currency: "ARS", AccessToken: "tok", CustomerID: ptr(int64(1))}
}

func (f *reconcileFixture) payment(id string, orderID int64, status string, amount int64) {
	f.gateway.PutPayment(payments.PaymentDetails{
		PaymentID:         id,
		ExternalReference: fmt.Sprint(orderID),
		Status:            status,
		Amount:            amount,
		Currency:          "ARS",
		PaymentMethod:     "visa",
		Raw:               []byte(`{"id":"` + id + `"}`),
	})
}

func TestReconcileApprovedPaymentMarksOrderPaid(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(7, domain.OrderStatusPendingPayment)
	f.payment("555", 7, payments.StatusApproved, 100000)

	result, err := f.svc.ReconcilePayment(context.Background(), "mercadopago", "555")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != ReconcileApplied || result.From != domain.OrderStatusPendingPayment || result.To != domain.OrderStatusPaid {
		t.Fatalf("unexpected result %+v", result)
	}
	order := f.store.orders[7]
	if order.Status != domain.OrderStatusPaid || order.PaymentMethod == nil || *order.PaymentMethod != "visa" {
		t.Fatalf("unexpected order %+v", order)
	}
	if len(f.notifications.statusUpdates) != 1 || len(f.events.events) != 1 {
		t.Fatal("expected one notification and one event")
	}
}

func TestReconcileDoubleDeliveryIsIdempotent(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(7, domain.OrderStatusPendingPayment)
	f.payment("555", 7, payments.StatusApproved, 100000)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.ReconcilePayment(context.Background(), "mercadopago", "555"); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if n := f.store.paymentsFor(7); n != 1 {
		t.Fatalf("expected one payment row, got %d", n)
	}
	if f.store.orders[7].Status != domain.OrderStatusPaid {
		t.Fatalf("expected PAID, got %s", f.store.orders[7].Status)
	}
	if len(f.notifications.statusUpdates) != 1 {
		t.Fatalf("expected a single status email, got %d", len(f.notifications.statusUpdates))
	}
}

func TestReconcileStatusMapping(t *testing.T) {
	cases := []struct {
		from    domain.OrderStatus
		payment string
		want    domain.OrderStatus
		outcome ReconcileOutcome
	}{
		{domain.OrderStatusPendingPayment, payments.StatusRejected, domain.OrderStatusPaymentRejected, ReconcileApplied},
		{domain.OrderStatusPaid, payments.StatusRejected, domain.OrderStatusPaid, ReconcileSkipped},
		{domain.OrderStatusPendingPayment, payments.StatusPending, domain.OrderStatusPendingPayment, ReconcileUnchanged},
		{domain.OrderStatusPendingTransfer, payments.StatusApproved, domain.OrderStatusPaid, ReconcileApplied},
		{domain.OrderStatusPaid, payments.StatusRefunded, domain.OrderStatusRefunded, ReconcileApplied},
		{domain.OrderStatusShipped, payments.StatusChargeBack, domain.OrderStatusRefunded, ReconcileApplied},
		{domain.OrderStatusCancelled, payments.StatusApproved, domain.OrderStatusCancelled, ReconcileSkipped},
		{domain.OrderStatusDelivered, payments.StatusRefunded, domain.OrderStatusDelivered, ReconcileSkipped},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+tc.payment, func(t *testing.T) {
			f := newReconcileFixture(t)
			f.seed(7, tc.from)
			f.payment("1", 7, tc.payment, 100000)

			result, err := f.svc.ReconcilePayment(context.Background(), "mercadopago", "1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Outcome != tc.outcome {
				t.Fatalf("expected outcome %s, got %s", tc.outcome, result.Outcome)
			}
			if got := f.store.orders[7].Status; got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if f.store.paymentsFor(7) != 1 {
				t.Fatal("payment must be recorded regardless of outcome")
			}
			if tc.outcome == ReconcileSkipped && !f.logs.has("reconcile.transition.skipped") {
				t.Fatalf("expected skipped transition to be logged, got %v", f.logs.entries)
			}
		})
	}
}

func TestReconcileUnknownOrderIsIgnored(t *testing.T) {
	f := newReconcileFixture(t)
	f.payment("9", 404, payments.StatusApproved, 100)

	result, err := f.svc.ReconcilePayment(context.Background(), "mercadopago", "9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != ReconcileIgnored || len(f.store.payments) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestReconcileLogsAmountMismatch(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(7, domain.OrderStatusPendingPayment)
	f.payment("1", 7, payments.StatusApproved, 1)

	if _, err := f.svc.ReconcilePayment(context.Background(), "mercadopago", "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.logs.has("reconcile.amount.mismatch") {
		t.Fatalf("expected mismatch log, got %v", f.logs.entries)
	}
}

func TestReconcileGatewayErrors(t *testing.T) {
	f := newReconcileFixture(t)

	result, err := f.svc.ReconcilePayment(context.Background(), "mercadopago", "garbage")
	if err != nil || result.Outcome != ReconcileIgnored {
		t.Fatalf("rejected lookups should be ignored, got %+v %v", result, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.ReconcilePayment(ctx, "mercadopago", "1:approved"); !errors.Is(err, ErrReconcileUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestCheckoutThenApprovedWebhookEndToEnd(t *testing.T) {
	store := newMemoryStore()
	store.addProduct(1, 100000, true)
	gateway := payments.NewMockGateway(payments.ProviderMercadoPago, "")
	manager, err := payments.NewManager(map[string]payments.Gateway{payments.ProviderMercadoPago: gateway})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	pricing, _ := NewPriceValidator(store, nil)
	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		Orders: store, Customers: store, UnitOfWork: store, Pricing: pricing, Payments: manager, Clock: fixedClock(),
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	reconciler, err := NewReconciliationService(ReconciliationServiceDeps{
		Orders: store, Payments: store, UnitOfWork: store, Gateway: manager, Clock: fixedClock(),
	})
	if err != nil {
		t.Fatalf("NewReconciliationService: %v", err)
	}

	res, err := checkout.Checkout(context.Background(), CheckoutCommand{Items: []LineItemRequest{{ProductID: 1, Quantity: 1}}})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if store.orders[res.OrderID].TotalAmount != 100000 {
		t.Fatalf("unexpected total %d", store.orders[res.OrderID].TotalAmount)
	}

	paymentID := fmt.Sprintf("%d:approved:100000", res.OrderID)
	result, err := reconciler.ReconcilePayment(context.Background(), payments.ProviderMercadoPago, paymentID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != ReconcileApplied || store.orders[res.OrderID].Status != domain.OrderStatusPaid {
		t.Fatalf("expected PAID, got %+v / %s", result, store.orders[res.OrderID].Status)
	}
	if p := store.payments["mercadopago|"+paymentID]; p.Amount != 100000 || p.Status != payments.StatusApproved {
		t.Fatalf("unexpected payment %+v", p)
	}
}
