package services

import (
	"context"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/pagination"
)

// CheckoutService turns a validated cart into a persisted order and a payment preference.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// OrderService exposes order reads and the customer and admin status changes.
type OrderService interface {
	GetOrderForCustomer(ctx context.Context, orderID int64, accessToken string) (domain.Order, error)
	UpdateStatusAsCustomer(ctx context.Context, cmd CustomerStatusCommand) (domain.Order, error)
	UpdateStatusAsAdmin(ctx context.Context, cmd AdminStatusCommand) (TransitionResult, error)
	GetOrderDetail(ctx context.Context, orderID int64) (OrderDetail, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (pagination.Page[domain.Order], error)
}

// ReconciliationService applies provider payment notifications to orders.
type ReconciliationService interface {
	ReconcilePayment(ctx context.Context, provider, paymentID string) (ReconcileResult, error)
}

// NotificationDispatcher sends customer and back-office emails. Delivery failures are logged
// and never returned.
type NotificationDispatcher interface {
	SendOrderConfirmation(ctx context.Context, order domain.Order, customer *domain.Customer)
	SendStatusUpdate(ctx context.Context, order domain.Order, customerEmail string, previous domain.OrderStatus)
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error)
}

// LineItemRequest is one requested order line. It deliberately carries no price.
type LineItemRequest struct {
	ProductID            int64
	VariantID            *int64
	Quantity             int
	AddonIDs             []int64
	PersonalizationFront *string
	PersonalizationBack  *string
	EngravingFont        *string
	Photos               []PhotoRef
}

// PhotoRef references an uploaded photo to attach to an order item.
type PhotoRef struct {
	StoragePath string
	PublicURL   string
}

// CustomerData is the contact information captured at checkout.
type CustomerData struct {
	Name         string
	Phone        string
	Email        *string
	Address      string
	Neighborhood *string
	Locality     string
}

// CheckoutCommand is the checkout request after transport decoding.
type CheckoutCommand struct {
	CustomerID *int64
	Customer   *CustomerData
	Items      []LineItemRequest
	Provider   string
}

// CheckoutResult is returned to the customer after checkout. It is the only response that
// carries the access token.
type CheckoutResult struct {
	OrderID          int64
	AccessToken      string
	Provider         string
	PreferenceID     string
	InitPoint        string
	SandboxInitPoint string
	TotalAmount      int64
	Currency         string
}

// CustomerStatusCommand is a self-service status change authorised by the access token.
type CustomerStatusCommand struct {
	OrderID     int64
	AccessToken string
	Status      domain.OrderStatus
}

// AdminStatusCommand is a back-office status change.
type AdminStatusCommand struct {
	OrderID        int64
	Status         domain.OrderStatus
	TrackingNumber *string
	ActorID        string
}

// TransitionResult describes the outcome of applying a status.
type TransitionResult struct {
	Order    domain.Order
	Previous domain.OrderStatus
	Changed  bool
}

// OrderDetail is the admin view of an order.
type OrderDetail struct {
	Order    domain.Order
	Customer *domain.Customer
	Payments []domain.Payment
}

// OrderListFilter selects orders for the admin listing.
type OrderListFilter struct {
	Statuses   []domain.OrderStatus
	Pagination pagination.Params
}

// ReconcileOutcome classifies what a payment notification did to its order.
type ReconcileOutcome string

const (
	// ReconcileApplied means the order status changed.
	ReconcileApplied ReconcileOutcome = "applied"
	// ReconcileUnchanged means the payment was recorded and the order already had the mapped status,
	// or the payment status does not map to an order status.
	ReconcileUnchanged ReconcileOutcome = "unchanged"
	// ReconcileSkipped means the mapped status is not reachable from the current order status.
	ReconcileSkipped ReconcileOutcome = "skipped"
	// ReconcileIgnored means the payment does not reference a known order.
	ReconcileIgnored ReconcileOutcome = "ignored"
)

// ReconcileResult reports the effect of a payment notification.
type ReconcileResult struct {
	Outcome       ReconcileOutcome
	OrderID       int64
	PaymentStatus string
	From          domain.OrderStatus
	To            domain.OrderStatus
}
