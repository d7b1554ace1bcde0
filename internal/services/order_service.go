package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/pagination"
	"github.com/pulsera/api/internal/repositories"
)

const (
	orderActorCustomer = "customer"
	orderActorAdmin    = "admin"
	maxTrackingRunes   = 120
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Customers     repositories.CustomerRepository
	Payments      repositories.PaymentRepository
	Notifications NotificationDispatcher
	Events        OrderEventPublisher
	MaxPageSize   int
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	customers     repositories.CustomerRepository
	payments      repositories.PaymentRepository
	notifications NotificationDispatcher
	events        OrderEventPublisher
	maxPageSize   int
	transitions   statusTransitioner
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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
	maxPage := deps.MaxPageSize
	if maxPage <= 0 {
		maxPage = pagination.DefaultMaxPageSize
	}

	return &orderService{
		orders:        deps.Orders,
		customers:     deps.Customers,
		payments:      deps.Payments,
		notifications: deps.Notifications,
		events:        deps.Events,
		maxPageSize:   maxPage,
		transitions:   statusTransitioner{orders: deps.Orders, now: now, logger: logger},
		now:           now,
		logger:        logger,
	}, nil
}

// GetOrderForCustomer loads an order with its items when both id and access token match.
func (s *orderService) GetOrderForCustomer(ctx context.Context, orderID int64, accessToken string) (domain.Order, error) {
	accessToken = strings.TrimSpace(accessToken)
	if orderID <= 0 || accessToken == "" {
		return domain.Order{}, ErrOrderNotFound
	}
	order, err := s.orders.GetOrderByIDAndToken(ctx, orderID, accessToken)
	if err != nil {
		return domain.Order{}, mapOrderRepositoryError(err)
	}
	items, err := s.orders.ListItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, mapOrderRepositoryError(err)
	}
	order.Items = items
	return order, nil
}

// UpdateStatusAsCustomer applies a self-service status. Paid orders reject every request
// regardless of the target.
func (s *orderService) UpdateStatusAsCustomer(ctx context.Context, cmd CustomerStatusCommand) (domain.Order, error) {
	token := strings.TrimSpace(cmd.AccessToken)
	if cmd.OrderID <= 0 || token == "" {
		return domain.Order{}, ErrOrderNotFound
	}
	status := normaliseStatus(cmd.Status)
	if !status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	result, err := s.transitions.apply(ctx, transitionRequest{
		OrderID:        cmd.OrderID,
		To:             status,
		SameStatusNoop: true,
		Load: func(ctx context.Context) (domain.Order, error) {
			return s.orders.GetOrderByIDAndToken(ctx, cmd.OrderID, token)
		},
		Guard: func(current domain.Order) error {
			if current.Status == domain.OrderStatusPaid {
				return ErrOrderAlreadyPaid
			}
			if !isCustomerAllowedStatus(status) {
				return fmt.Errorf("%w: status %s cannot be set by customers", ErrOrderInvalidInput, status)
			}
			return nil
		},
	})
	if err != nil {
		var transitionErr *TransitionError
		if errors.As(err, &transitionErr) {
			transitionErr.Valid = customerValidTransitions(transitionErr.From)
		}
		return domain.Order{}, err
	}
	s.afterTransition(ctx, result, orderActorCustomer)
	return result.Order, nil
}

// UpdateStatusAsAdmin applies a back-office status change using the general transition table.
func (s *orderService) UpdateStatusAsAdmin(ctx context.Context, cmd AdminStatusCommand) (TransitionResult, error) {
	if cmd.OrderID <= 0 {
		return TransitionResult{}, ErrOrderNotFound
	}
	status := normaliseStatus(cmd.Status)
	if !status.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	var tracking *string
	if cmd.TrackingNumber != nil {
		value := strings.TrimSpace(*cmd.TrackingNumber)
		if len([]rune(value)) > maxTrackingRunes {
			return TransitionResult{}, fmt.Errorf("%w: tracking number too long", ErrOrderInvalidInput)
		}
		if value != "" {
			tracking = &value
		}
	}

	result, err := s.transitions.apply(ctx, transitionRequest{
		OrderID:        cmd.OrderID,
		To:             status,
		TrackingNumber: tracking,
	})
	if err != nil {
		return TransitionResult{}, err
	}

	actor := orderActorAdmin
	if id := strings.TrimSpace(cmd.ActorID); id != "" {
		actor = orderActorAdmin + ":" + id
	}
	if result.Changed {
		s.logger(ctx, "order.status.admin", map[string]any{
			"orderId": result.Order.ID,
			"from":    string(result.Previous),
			"to":      string(result.Order.Status),
			"actor":   actor,
		})
	}
	s.afterTransition(ctx, result, actor)
	return result, nil
}

// GetOrderDetail loads the admin view of an order.
func (s *orderService) GetOrderDetail(ctx context.Context, orderID int64) (OrderDetail, error) {
	if orderID <= 0 {
		return OrderDetail{}, ErrOrderNotFound
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return OrderDetail{}, mapOrderRepositoryError(err)
	}
	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return OrderDetail{}, mapOrderRepositoryError(err)
	}
	order.Items = items

	detail := OrderDetail{Order: order, Payments: []domain.Payment{}}
	if s.payments != nil {
		payments, err := s.payments.ListByOrder(ctx, orderID)
		if err != nil {
			return OrderDetail{}, mapOrderRepositoryError(err)
		}
		if payments != nil {
			detail.Payments = payments
		}
	}
	if customer := s.loadCustomer(ctx, order); customer != nil {
		detail.Customer = customer
	}
	return detail, nil
}

// ListOrders returns one page of order headers, newest first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (pagination.Page[domain.Order], error) {
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	if size > s.maxPageSize {
		size = s.maxPageSize
	}
	statuses := make([]domain.OrderStatus, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		status = normaliseStatus(status)
		if !status.Valid() {
			return pagination.Page[domain.Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
		statuses = append(statuses, status)
	}

	rows, err := s.orders.ListOrders(ctx, repositories.OrderListFilter{
		Statuses: statuses,
		AfterID:  filter.Pagination.AfterID,
		Limit:    size + 1,
	})
	if err != nil {
		return pagination.Page[domain.Order]{}, mapOrderRepositoryError(err)
	}
	if rows == nil {
		rows = []domain.Order{}
	}
	return pagination.NewPage(rows, size, func(o domain.Order) int64 { return o.ID }), nil
}

// afterTransition performs the best-effort side effects of a status change.
func (s *orderService) afterTransition(ctx context.Context, result TransitionResult, actor string) {
	if !result.Changed {
		return
	}
	publishOrderEvent(ctx, s.events, s.now, s.logger, domain.OrderEvent{
		Type:           domain.OrderEventStatusChanged,
		OrderID:        result.Order.ID,
		Status:         result.Order.Status,
		PreviousStatus: result.Previous,
		Actor:          actor,
		TotalAmount:    result.Order.TotalAmount,
		Currency:       result.Order.Currency,
	})
	notifyStatusChange(ctx, s.notifications, s.customers, s.logger, result)
}

func (s *orderService) loadCustomer(ctx context.Context, order domain.Order) *domain.Customer {
	if order.CustomerID == nil || s.customers == nil {
		return nil
	}
	customer, err := s.customers.FindByID(ctx, *order.CustomerID)
	if err != nil {
		s.logger(ctx, "order.customer.lookup.failed", map[string]any{
			"orderId":    order.ID,
			"customerId": *order.CustomerID,
			"error":      err.Error(),
		})
		return nil
	}
	return &customer
}

// notifyStatusChange emails the customer linked to the order, when it has an email address.
func notifyStatusChange(ctx context.Context, notifications NotificationDispatcher, customers repositories.CustomerRepository, logger func(context.Context, string, map[string]any), result TransitionResult) {
	if notifications == nil || customers == nil || !result.Changed || result.Order.CustomerID == nil {
		return
	}
	customer, err := customers.FindByID(ctx, *result.Order.CustomerID)
	if err != nil {
		logger(ctx, "notification.customer.lookup.failed", map[string]any{
			"orderId": result.Order.ID,
			"error":   err.Error(),
		})
		return
	}
	if customer.Email == nil || strings.TrimSpace(*customer.Email) == "" {
		return
	}
	notifications.SendStatusUpdate(ctx, result.Order, *customer.Email, result.Previous)
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, now func() time.Time, logger func(context.Context, string, map[string]any), event domain.OrderEvent) {
	if events == nil {
		return
	}
	event.ID = ulid.Make().String()
	event.OccurredAt = now()
	if _, err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func normaliseStatus(status domain.OrderStatus) domain.OrderStatus {
	return domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(status))))
}
