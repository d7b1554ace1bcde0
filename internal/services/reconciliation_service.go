package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/payments"
	"github.com/pulsera/api/internal/repositories"
)

// ErrReconcileUnavailable wraps gateway and store failures. Providers redeliver notifications,
// so callers log it and acknowledge the webhook.
var ErrReconcileUnavailable = errors.New("reconcile: unavailable")

// paymentFetcher abstracts payments.Manager for easier testing.
type paymentFetcher interface {
	FetchPayment(ctx context.Context, provider, paymentID string) (payments.PaymentDetails, error)
}

var paymentStatusMapping = map[string]domain.OrderStatus{
	payments.StatusApproved:   domain.OrderStatusPaid,
	payments.StatusRejected:   domain.OrderStatusPaymentRejected,
	payments.StatusRefunded:   domain.OrderStatusRefunded,
	payments.StatusChargeBack: domain.OrderStatusRefunded,
}

// MapPaymentStatus returns the order status implied by a normalised payment status.
func MapPaymentStatus(status string) (domain.OrderStatus, bool) {
	mapped, ok := paymentStatusMapping[strings.ToLower(strings.TrimSpace(status))]
	return mapped, ok
}

// ReconciliationServiceDeps wires the reconciler.
type ReconciliationServiceDeps struct {
	Orders        repositories.OrderRepository
	Payments      repositories.PaymentRepository
	Customers     repositories.CustomerRepository
	UnitOfWork    repositories.UnitOfWork
	Gateway       paymentFetcher
	Notifications NotificationDispatcher
	Events        OrderEventPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders        repositories.OrderRepository
	payments      repositories.PaymentRepository
	customers     repositories.CustomerRepository
	unitOfWork    repositories.UnitOfWork
	gateway       paymentFetcher
	notifications NotificationDispatcher
	events        OrderEventPublisher
	transitions   statusTransitioner
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewReconciliationService constructs the payment reconciler.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("reconciliation service: payment repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconciliation service: payment gateway is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	now := func() time.Time { return clock().UTC() }

	return &reconciliationService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		customers:     deps.Customers,
		unitOfWork:    unit,
		gateway:       deps.Gateway,
		notifications: deps.Notifications,
		events:        deps.Events,
		transitions:   statusTransitioner{orders: deps.Orders, now: now, logger: logger},
		now:           now,
		logger:        logger,
	}, nil
}

// ReconcilePayment fetches the payment from the provider, records it and moves the referenced
// order to the mapped status. Redelivered notifications update the same payment row and leave
// the order untouched. Transitions the table does not allow are logged and skipped.
func (s *reconciliationService) ReconcilePayment(ctx context.Context, provider, paymentID string) (ReconcileResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	paymentID = strings.TrimSpace(paymentID)
	if provider == "" || paymentID == "" {
		return ReconcileResult{Outcome: ReconcileIgnored}, nil
	}

	details, err := s.gateway.FetchPayment(ctx, provider, paymentID)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayRejected) || errors.Is(err, payments.ErrUnsupportedProvider) {
			s.logger(ctx, "reconcile.payment.ignored", map[string]any{
				"provider":  provider,
				"paymentId": paymentID,
				"error":     err.Error(),
			})
			return ReconcileResult{Outcome: ReconcileIgnored}, nil
		}
		return ReconcileResult{}, fmt.Errorf("%w: fetch payment %s: %v", ErrReconcileUnavailable, paymentID, err)
	}
	if details.Provider == "" {
		details.Provider = provider
	}
	if details.PaymentID == "" {
		details.PaymentID = paymentID
	}

	result := ReconcileResult{PaymentStatus: details.Status}
	orderID, err := strconv.ParseInt(strings.TrimSpace(details.ExternalReference), 10, 64)
	if err != nil || orderID <= 0 {
		s.logger(ctx, "reconcile.order.ignored", map[string]any{
			"provider":          details.Provider,
			"paymentId":         details.PaymentID,
			"externalReference": details.ExternalReference,
		})
		result.Outcome = ReconcileIgnored
		return result, nil
	}
	result.OrderID = orderID

	var transition TransitionResult
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.GetOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if details.Amount > 0 && details.Amount != current.TotalAmount {
			s.logger(ctx, "reconcile.amount.mismatch", map[string]any{
				"orderId":   orderID,
				"paymentId": details.PaymentID,
				"expected":  current.TotalAmount,
				"received":  details.Amount,
			})
		}
		currency := details.Currency
		if currency == "" {
			currency = current.Currency
		}
		if _, err := s.payments.Upsert(txCtx, repositories.PaymentUpsert{
			OrderID:           orderID,
			Provider:          details.Provider,
			ProviderPaymentID: details.PaymentID,
			Status:            details.Status,
			Amount:            details.Amount,
			Currency:          currency,
			RawPayload:        details.Raw,
			At:                s.now(),
		}); err != nil {
			return err
		}

		result.From = current.Status
		target, ok := MapPaymentStatus(details.Status)
		if !ok {
			result.Outcome = ReconcileUnchanged
			result.To = current.Status
			return nil
		}
		req := transitionRequest{
			OrderID:        orderID,
			To:             target,
			Allowed:        canReconcileTransition,
			SameStatusNoop: true,
			Load: func(ctx context.Context) (domain.Order, error) {
				return s.orders.GetOrder(ctx, orderID)
			},
		}
		if target == domain.OrderStatusPaid && details.PaymentMethod != "" {
			method := details.PaymentMethod
			req.PaymentMethod = &method
		}
		transition, err = s.transitions.apply(txCtx, req)
		var transitionErr *TransitionError
		switch {
		case errors.As(err, &transitionErr):
			s.logger(ctx, "reconcile.transition.skipped", map[string]any{
				"orderId":       orderID,
				"paymentId":     details.PaymentID,
				"paymentStatus": details.Status,
				"from":          string(transitionErr.From),
				"to":            string(transitionErr.To),
			})
			result.Outcome = ReconcileSkipped
			result.From = transitionErr.From
			result.To = transitionErr.From
			return nil
		case err != nil:
			return err
		}
		result.From = transition.Previous
		result.To = transition.Order.Status
		if transition.Changed {
			result.Outcome = ReconcileApplied
		} else {
			result.Outcome = ReconcileUnchanged
		}
		return nil
	})
	if err != nil {
		if isRepoNotFound(err) || errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "reconcile.order.ignored", map[string]any{
				"orderId":   orderID,
				"paymentId": details.PaymentID,
				"reason":    "order not found",
			})
			return ReconcileResult{Outcome: ReconcileIgnored, OrderID: orderID, PaymentStatus: details.Status}, nil
		}
		return ReconcileResult{}, fmt.Errorf("%w: order %d: %v", ErrReconcileUnavailable, orderID, err)
	}

	s.logger(ctx, "reconcile.completed", map[string]any{
		"orderId":       orderID,
		"provider":      details.Provider,
		"paymentId":     details.PaymentID,
		"paymentStatus": details.Status,
		"outcome":       string(result.Outcome),
		"from":          string(result.From),
		"to":            string(result.To),
	})

	if transition.Changed {
		publishOrderEvent(ctx, s.events, s.now, s.logger, domain.OrderEvent{
			Type:           domain.OrderEventStatusChanged,
			OrderID:        transition.Order.ID,
			Status:         transition.Order.Status,
			PreviousStatus: transition.Previous,
			Actor:          "payment:" + details.Provider,
			TotalAmount:    transition.Order.TotalAmount,
			Currency:       transition.Order.Currency,
		})
		notifyStatusChange(ctx, s.notifications, s.customers, s.logger, transition)
	}
	return result, nil
}
