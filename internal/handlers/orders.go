package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/httpx"
	"github.com/pulsera/api/internal/services"
)

const maxOrderStatusBodySize = 4 * 1024

// OrderHandlers exposes the token protected customer order endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.updateStatus)
}

type customerStatusRequest struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := orderIDParam(r)
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if !ok || token == "" {
		writeOrderNotFound(ctx, w)
		return
	}

	order, err := h.orders.GetOrderForCustomer(ctx, orderID, token)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req customerStatusRequest
	if status, err := decodeJSONBody(r, maxOrderStatusBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	orderID, ok := orderIDParam(r)
	token := strings.TrimSpace(req.Token)
	if !ok || token == "" {
		writeOrderNotFound(ctx, w)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "status is required"))
		return
	}

	order, err := h.orders.UpdateStatusAsCustomer(ctx, services.CustomerStatusCommand{
		OrderID:     orderID,
		AccessToken: token,
		Status:      domain.OrderStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func writeOrderNotFound(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NotFound("order_not_found", "order not found"))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var transitionErr *services.TransitionError
	switch {
	case errors.As(err, &transitionErr):
		valid := make([]string, 0, len(transitionErr.Valid))
		for _, status := range transitionErr.Valid {
			valid = append(valid, string(status))
		}
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_transition", transitionErr.Error()).
			WithDetails(map[string]any{"validTransitions": valid}))
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.BadRequest("order_already_paid", "order is already paid"))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	case errors.Is(err, services.ErrOrderNotFound):
		writeOrderNotFound(ctx, w)
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
