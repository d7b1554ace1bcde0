package handlers

import (
	"time"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/services"
)

// orderPayload is the public order representation. It has no access token field, so no
// serialised order can leak the capability token.
type orderPayload struct {
	ID              int64              `json:"id"`
	Status          string             `json:"status"`
	TotalAmount     int64              `json:"total_amount"`
	Currency        string             `json:"currency"`
	PaymentMethod   *string            `json:"payment_method,omitempty"`
	PaymentProvider *string            `json:"payment_provider,omitempty"`
	TrackingNumber  *string            `json:"tracking_number,omitempty"`
	CreatedAt       string             `json:"created_at,omitempty"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
	Items           []orderItemPayload `json:"items"`
}

type orderItemPayload struct {
	ID                   int64          `json:"id"`
	ProductID            int64          `json:"product_id"`
	ProductVariantID     *int64         `json:"product_variant_id,omitempty"`
	Quantity             int            `json:"quantity"`
	UnitPrice            int64          `json:"unit_price"`
	LineTotal            int64          `json:"line_total"`
	PersonalizationFront *string        `json:"personalization_front,omitempty"`
	PersonalizationBack  *string        `json:"personalization_back,omitempty"`
	EngravingFont        *string        `json:"engraving_font,omitempty"`
	SelectedAddonIDs     []int64        `json:"selected_addon_ids"`
	Photos               []photoPayload `json:"photos"`
}

type photoPayload struct {
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
	Position    int    `json:"position"`
}

type adminOrderPayload struct {
	orderPayload
	PreferenceID     *string          `json:"preference_id,omitempty"`
	CustomerID       *int64           `json:"customer_id,omitempty"`
	ValidTransitions []string         `json:"valid_transitions"`
	Customer         *customerPayload `json:"customer,omitempty"`
	Payments         []paymentPayload `json:"payments,omitempty"`
}

type customerPayload struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Email        *string `json:"email,omitempty"`
	Address      string  `json:"address"`
	Neighborhood *string `json:"neighborhood,omitempty"`
	Locality     string  `json:"locality"`
}

type paymentPayload struct {
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

type orderListResponse struct {
	Items         []adminOrderPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Status:          string(order.Status),
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		PaymentMethod:   order.PaymentMethod,
		PaymentProvider: order.PaymentProvider,
		TrackingNumber:  order.TrackingNumber,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		line := orderItemPayload{
			ID:                   item.ID,
			ProductID:            item.ProductID,
			ProductVariantID:     item.ProductVariantID,
			Quantity:             item.Quantity,
			UnitPrice:            item.UnitPrice,
			LineTotal:            item.LineTotal,
			PersonalizationFront: item.PersonalizationFront,
			PersonalizationBack:  item.PersonalizationBack,
			EngravingFont:        item.EngravingFont,
			SelectedAddonIDs:     item.SelectedAddonIDs,
			Photos:               make([]photoPayload, 0, len(item.Photos)),
		}
		if line.SelectedAddonIDs == nil {
			line.SelectedAddonIDs = []int64{}
		}
		for _, photo := range item.Photos {
			line.Photos = append(line.Photos, photoPayload{
				StoragePath: photo.StoragePath,
				PublicURL:   photo.PublicURL,
				Position:    photo.Position,
			})
		}
		payload.Items = append(payload.Items, line)
	}
	return payload
}

func buildAdminOrderPayload(order domain.Order) adminOrderPayload {
	next := services.ValidTransitions(order.Status)
	valid := make([]string, 0, len(next))
	for _, status := range next {
		valid = append(valid, string(status))
	}
	return adminOrderPayload{
		orderPayload:     buildOrderPayload(order),
		PreferenceID:     order.PreferenceID,
		CustomerID:       order.CustomerID,
		ValidTransitions: valid,
	}
}

func buildOrderDetailPayload(detail services.OrderDetail) adminOrderPayload {
	payload := buildAdminOrderPayload(detail.Order)
	if c := detail.Customer; c != nil {
		payload.Customer = &customerPayload{
			ID:           c.ID,
			Name:         c.Name,
			Phone:        c.Phone,
			Email:        c.Email,
			Address:      c.Address,
			Neighborhood: c.Neighborhood,
			Locality:     c.Locality,
		}
	}
	payload.Payments = make([]paymentPayload, 0, len(detail.Payments))
	for _, p := range detail.Payments {
		payload.Payments = append(payload.Payments, paymentPayload{
			Provider:          p.Provider,
			ProviderPaymentID: p.ProviderPaymentID,
			Status:            p.Status,
			Amount:            p.Amount,
			Currency:          p.Currency,
			UpdatedAt:         formatTime(p.UpdatedAt),
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
