package services

import (
	"context"
	"slices"
	"time"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/repositories"
)

// maxTransitionAttempts bounds the compare-and-swap retries when a concurrent writer wins.
const maxTransitionAttempts = 3

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment:  {domain.OrderStatusPaid, domain.OrderStatusPendingTransfer, domain.OrderStatusCancelled},
	domain.OrderStatusPendingTransfer: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:            {domain.OrderStatusInProduction, domain.OrderStatusCancelled},
	domain.OrderStatusInProduction:    {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:         {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusPaymentRejected: {domain.OrderStatusPendingPayment},
}

// paymentTransitions are applied by the payment reconciler only and never offered to admins.
var paymentTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment:  {domain.OrderStatusPaymentRejected},
	domain.OrderStatusPendingTransfer: {domain.OrderStatusPaymentRejected},
	domain.OrderStatusPaid:            {domain.OrderStatusRefunded},
	domain.OrderStatusInProduction:    {domain.OrderStatusRefunded},
	domain.OrderStatusShipped:         {domain.OrderStatusRefunded},
}

// customerAllowedStatuses is the self-service allow-list.
var customerAllowedStatuses = []domain.OrderStatus{domain.OrderStatusPendingTransfer}

// CanTransition reports whether the general table allows from -> to.
func CanTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// ValidTransitions returns the statuses reachable from from, sorted.
func ValidTransitions(from domain.OrderStatus) []domain.OrderStatus {
	next := slices.Clone(orderStateTransitions[from])
	slices.Sort(next)
	if next == nil {
		next = []domain.OrderStatus{}
	}
	return next
}

func canReconcileTransition(from, to domain.OrderStatus) bool {
	return CanTransition(from, to) || slices.Contains(paymentTransitions[from], to)
}

// customerValidTransitions lists the statuses a customer may request from the given status.
func customerValidTransitions(from domain.OrderStatus) []domain.OrderStatus {
	next := []domain.OrderStatus{}
	if from == domain.OrderStatusPaid {
		return next
	}
	for _, status := range customerAllowedStatuses {
		if CanTransition(from, status) {
			next = append(next, status)
		}
	}
	return next
}

func isCustomerAllowedStatus(status domain.OrderStatus) bool {
	return slices.Contains(customerAllowedStatuses, status)
}

type transitionRequest struct {
	OrderID        int64
	To             domain.OrderStatus
	TrackingNumber *string
	PaymentMethod  *string
	// SameStatusNoop treats a request for the current status as an unchanged success instead of
	// an invalid transition. Only redelivered payment updates and customer retries set it.
	SameStatusNoop bool
	// Allowed defaults to CanTransition.
	Allowed func(from, to domain.OrderStatus) bool
	// Guard runs against every fresh read before the table check.
	Guard func(current domain.Order) error
	// Load defaults to OrderRepository.GetOrder.
	Load func(ctx context.Context) (domain.Order, error)
}

// statusTransitioner applies status changes with a conditional update, re-reading and
// re-validating when another writer changed the order first.
type statusTransitioner struct {
	orders repositories.OrderRepository
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

func (t statusTransitioner) apply(ctx context.Context, req transitionRequest) (TransitionResult, error) {
	if !req.To.Valid() {
		return TransitionResult{}, ErrOrderInvalidInput
	}
	allowed := req.Allowed
	if allowed == nil {
		allowed = CanTransition
	}
	load := req.Load
	if load == nil {
		load = func(ctx context.Context) (domain.Order, error) {
			return t.orders.GetOrder(ctx, req.OrderID)
		}
	}

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := load(ctx)
		if err != nil {
			return TransitionResult{}, mapOrderRepositoryError(err)
		}
		if req.Guard != nil {
			if err := req.Guard(current); err != nil {
				return TransitionResult{}, err
			}
		}
		if current.Status == req.To && req.SameStatusNoop {
			return TransitionResult{Order: current, Previous: current.Status}, nil
		}
		if !allowed(current.Status, req.To) {
			return TransitionResult{}, &TransitionError{
				From:  current.Status,
				To:    req.To,
				Valid: ValidTransitions(current.Status),
			}
		}

		updated, err := t.orders.UpdateStatus(ctx, repositories.StatusUpdate{
			OrderID:        current.ID,
			From:           current.Status,
			To:             req.To,
			TrackingNumber: req.TrackingNumber,
			PaymentMethod:  req.PaymentMethod,
			At:             t.now(),
		})
		if err == nil {
			return TransitionResult{Order: updated, Previous: current.Status, Changed: true}, nil
		}
		if !isRepoConflict(err) {
			return TransitionResult{}, mapOrderRepositoryError(err)
		}
		t.logger(ctx, "order.status.retry", map[string]any{
			"orderId": req.OrderID,
			"attempt": attempt,
			"from":    string(current.Status),
			"to":      string(req.To),
		})
	}
	return TransitionResult{}, ErrOrderConflict
}
