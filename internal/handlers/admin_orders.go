package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/auth"
	"github.com/pulsera/api/internal/platform/httpx"
	"github.com/pulsera/api/internal/platform/pagination"
	"github.com/pulsera/api/internal/services"
)

const maxTrackingNumberLength = 120

// AdminOrderHandlers exposes back-office order management. Every route requires an admin
// session.
type AdminOrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	maxPageSize int
}

// AdminOrderOption customises AdminOrderHandlers.
type AdminOrderOption func(*AdminOrderHandlers)

// WithAdminMaxPageSize caps pageSize on the order list.
func WithAdminMaxPageSize(size int) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		if size > 0 {
			h.maxPageSize = size
		}
	}
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{
		authn:       authn,
		orders:      orders,
		maxPageSize: pagination.DefaultMaxPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r.With(h.authn.RequireAdmin())
	group.Get("/orders", h.listOrders)
	group.Get("/orders/{orderID}", h.getOrder)
	group.Patch("/orders/{orderID}/status", h.updateStatus)
}

type adminStatusRequest struct {
	Status         string  `json:"status"`
	TrackingNumber *string `json:"trackingNumber"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	params, err := pagination.Parse(query, h.maxPageSize)
	if err != nil {
		message := "pageToken is invalid"
		if errors.Is(err, pagination.ErrInvalidPageSize) {
			message = "pageSize must be a positive integer within the allowed range"
		}
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", message))
		return
	}

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !status.Valid() {
				httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "unknown status "+string(status)))
				return
			}
			statuses = append(statuses, status)
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{Statuses: statuses, Pagination: params})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Items:         make([]adminOrderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildAdminOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(r)
	if !ok {
		writeOrderNotFound(ctx, w)
		return
	}

	detail, err := h.orders.GetOrderDetail(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderDetailPayload(detail))
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(r)
	if !ok {
		writeOrderNotFound(ctx, w)
		return
	}

	var req adminStatusRequest
	if status, err := decodeJSONBody(r, maxOrderStatusBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "status is required"))
		return
	}
	tracking := trimmedPointer(req.TrackingNumber)
	if tracking != nil && len(*tracking) > maxTrackingNumberLength {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "trackingNumber is too long"))
		return
	}

	var actor string
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		actor = identity.UID
	}

	result, err := h.orders.UpdateStatusAsAdmin(ctx, services.AdminStatusCommand{
		OrderID:        orderID,
		Status:         domain.OrderStatus(strings.TrimSpace(req.Status)),
		TrackingNumber: tracking,
		ActorID:        actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAdminOrderPayload(result.Order))
}
