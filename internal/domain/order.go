package domain

import (
	"encoding/json"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPendingTransfer indicates the customer reported a bank transfer that still needs confirmation.
	OrderStatusPendingTransfer OrderStatus = "PENDING_TRANSFER"
	// OrderStatusPaid indicates payment succeeded and production can begin.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusInProduction indicates the order is actively being produced.
	OrderStatusInProduction OrderStatus = "IN_PRODUCTION"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order has been delivered to the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order has been cancelled.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusPaymentRejected indicates the processor rejected the payment attempt.
	OrderStatusPaymentRejected OrderStatus = "PAYMENT_REJECTED"
	// OrderStatusRefunded indicates the processor refunded or charged back the payment.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// AllOrderStatuses lists every known status in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPendingTransfer,
	OrderStatusPaid,
	OrderStatusInProduction,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusPaymentRejected,
	OrderStatusRefunded,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	for _, known := range AllOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// MaxPhotosPerItem bounds the number of photos attached to a single order item.
const MaxPhotosPerItem = 2

// Order captures the order header persisted in the relational store.
type Order struct {
	ID              int64
	Status          OrderStatus
	TotalAmount     int64
	Currency        string
	PaymentMethod   *string
	PaymentProvider *string
	// AccessToken is the capability token for unauthenticated customer access.
	// It must never be serialised into customer-facing read responses.
	AccessToken    string
	PreferenceID   *string
	CustomerID     *int64
	TrackingNumber *string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Items []OrderItem
}

// OrderItem is a priced line belonging to exactly one order.
type OrderItem struct {
	ID                   int64
	OrderID              int64
	ProductID            int64
	ProductVariantID     *int64
	Quantity             int
	UnitPrice            int64
	LineTotal            int64
	PersonalizationFront *string
	PersonalizationBack  *string
	EngravingFont        *string
	SelectedAddonIDs     []int64
	CreatedAt            time.Time

	Photos []OrderItemPhoto
}

// OrderItemPhoto references an uploaded object attached to an order item.
type OrderItemPhoto struct {
	ID          int64
	OrderItemID int64
	StoragePath string
	PublicURL   string
	Position    int
	CreatedAt   time.Time
}

// Customer holds the contact details captured at checkout.
type Customer struct {
	ID           int64
	Name         string
	Phone        string
	Email        *string
	Address      string
	Neighborhood *string
	Locality     string
	CreatedAt    time.Time
}

// Payment records the latest provider view of a payment, keyed by provider and provider payment id.
type Payment struct {
	ID                int64
	OrderID           int64
	Provider          string
	ProviderPaymentID string
	Status            string
	Amount            int64
	Currency          string
	RawPayload        json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SumLineTotals returns the sum of line totals across the supplied items.
func SumLineTotals(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal
	}
	return total
}
