package repositories

import (
	"context"
	"encoding/json"
	"time"

	domain "github.com/pulsera/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Customers() CustomerRepository
	Payments() PaymentRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary.
// Repositories invoked with the context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewOrder carries the header fields required to insert an order.
type NewOrder struct {
	CustomerID  *int64
	TotalAmount int64
	Currency    string
	AccessToken string
	CreatedAt   time.Time
}

// StatusUpdate describes a conditional status change. The update only applies when the
// stored status still equals From.
type StatusUpdate struct {
	OrderID        int64
	From           domain.OrderStatus
	To             domain.OrderStatus
	TrackingNumber *string
	PaymentMethod  *string
	At             time.Time
}

// OrderListFilter narrows admin order listings. Orders are returned newest first; AfterID
// continues a listing below the given id.
type OrderListFilter struct {
	Statuses []domain.OrderStatus
	AfterID  int64
	Limit    int
}

// OrderRepository persists orders, their items and item photos.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order NewOrder) (domain.Order, error)
	CreateOrderItems(ctx context.Context, orderID int64, items []domain.OrderItem) ([]domain.OrderItem, error)
	AttachPhotos(ctx context.Context, orderItemID int64, photos []domain.OrderItemPhoto) error
	GetOrder(ctx context.Context, orderID int64) (domain.Order, error)
	GetOrderByIDAndToken(ctx context.Context, orderID int64, accessToken string) (domain.Order, error)
	ListItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) (domain.Order, error)
	SetPreference(ctx context.Context, orderID int64, provider, preferenceID string, at time.Time) error
}

// CatalogRepository resolves catalog records in batches.
type CatalogRepository interface {
	ProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	VariantsByIDs(ctx context.Context, ids []int64) (map[int64]domain.ProductVariant, error)
	ActiveAddonsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Addon, error)
}

// CustomerRepository stores customer contact records.
type CustomerRepository interface {
	Create(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	FindByID(ctx context.Context, customerID int64) (domain.Customer, error)
}

// PaymentUpsert carries the provider view of a payment to be stored.
type PaymentUpsert struct {
	OrderID           int64
	Provider          string
	ProviderPaymentID string
	Status            string
	Amount            int64
	Currency          string
	RawPayload        json.RawMessage
	At                time.Time
}

// PaymentRepository stores provider payments keyed by (provider, provider_payment_id).
type PaymentRepository interface {
	Upsert(ctx context.Context, payment PaymentUpsert) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID int64) ([]domain.Payment, error)
}
