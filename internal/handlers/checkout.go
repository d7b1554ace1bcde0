package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pulsera/api/internal/platform/httpx"
	"github.com/pulsera/api/internal/services"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes the anonymous checkout endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCheckout)
}

type checkoutRequest struct {
	CustomerID   *int64                `json:"customerId"`
	CustomerData *checkoutCustomer     `json:"customerData"`
	Items        []checkoutItemRequest `json:"items"`
	Provider     string                `json:"provider"`
}

type checkoutCustomer struct {
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Email        *string `json:"email"`
	Address      string  `json:"address"`
	Neighborhood *string `json:"neighborhood"`
	Locality     string  `json:"locality"`
}

type checkoutItemRequest struct {
	ProductID            int64               `json:"productId"`
	ProductVariantID     *int64              `json:"productVariantId"`
	Quantity             int                 `json:"quantity"`
	SelectedAddons       []int64             `json:"selectedAddons"`
	PersonalizationFront *string             `json:"personalizationFront"`
	PersonalizationBack  *string             `json:"personalizationBack"`
	EngravingFont        *string             `json:"engravingFont"`
	Photos               []checkoutItemPhoto `json:"photos"`
}

type checkoutItemPhoto struct {
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
}

type checkoutResponse struct {
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
	OrderID          int64  `json:"order_id"`
	AccessToken      string `json:"access_token"`
	Provider         string `json:"provider,omitempty"`
	TotalAmount      int64  `json:"total_amount"`
	Currency         string `json:"currency"`
}

func (h *CheckoutHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if status, err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "items are required"))
		return
	}

	result, err := h.checkout.Checkout(ctx, req.toCommand())
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		InitPoint:        result.InitPoint,
		SandboxInitPoint: result.SandboxInitPoint,
		OrderID:          result.OrderID,
		AccessToken:      result.AccessToken,
		Provider:         result.Provider,
		TotalAmount:      result.TotalAmount,
		Currency:         result.Currency,
	})
}

func (req checkoutRequest) toCommand() services.CheckoutCommand {
	cmd := services.CheckoutCommand{
		CustomerID: req.CustomerID,
		Provider:   strings.TrimSpace(req.Provider),
		Items:      make([]services.LineItemRequest, 0, len(req.Items)),
	}
	if c := req.CustomerData; c != nil {
		cmd.Customer = &services.CustomerData{
			Name:         c.Name,
			Phone:        c.Phone,
			Email:        c.Email,
			Address:      c.Address,
			Neighborhood: c.Neighborhood,
			Locality:     c.Locality,
		}
	}
	for _, item := range req.Items {
		line := services.LineItemRequest{
			ProductID:            item.ProductID,
			VariantID:            item.ProductVariantID,
			Quantity:             item.Quantity,
			AddonIDs:             item.SelectedAddons,
			PersonalizationFront: item.PersonalizationFront,
			PersonalizationBack:  item.PersonalizationBack,
			EngravingFont:        item.EngravingFont,
		}
		for _, photo := range item.Photos {
			line.Photos = append(line.Photos, services.PhotoRef{
				StoragePath: strings.TrimSpace(photo.StoragePath),
				PublicURL:   strings.TrimSpace(photo.PublicURL),
			})
		}
		cmd.Items = append(cmd.Items, line)
	}
	return cmd
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var priceErr *services.PriceValidationError
	var paymentErr *services.CheckoutPaymentError
	switch {
	case errors.As(err, &priceErr):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_items", "one or more items are not available").
			WithDetails(map[string]any{"invalid_items": priceErr.InvalidItems}))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	case errors.As(err, &paymentErr):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be initiated", http.StatusInternalServerError).
			WithDetails(map[string]any{"order_id": paymentErr.OrderID}))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
