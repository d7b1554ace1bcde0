package services

import (
	"context"
	"errors"
	"fmt"
	"slices"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/repositories"
)

const (
	// MaxItemQuantity caps the quantity of a single line.
	MaxItemQuantity = 99
	// MaxCheckoutItems caps the number of lines in one checkout.
	MaxCheckoutItems = 50
)

// PricedItem is a request line with the server computed price.
type PricedItem struct {
	Request   LineItemRequest
	Product   domain.Product
	Variant   *domain.ProductVariant
	Addons    []domain.Addon
	UnitPrice int64
	LineTotal int64
}

// PricedItems is the validated checkout basket.
type PricedItems struct {
	Items []PricedItem
	Total int64
}

// PriceValidator resolves authoritative prices from the catalog. Client supplied prices are
// never consulted.
type PriceValidator struct {
	catalog repositories.CatalogRepository
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewPriceValidator constructs a validator over the catalog repository.
func NewPriceValidator(catalog repositories.CatalogRepository, logger func(ctx context.Context, event string, fields map[string]any)) (*PriceValidator, error) {
	if catalog == nil {
		return nil, errors.New("price validator: catalog repository is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PriceValidator{catalog: catalog, logger: logger}, nil
}

// Validate prices every line with three batched catalog lookups. Any line that resolves to a
// zero price rejects the whole request with a *PriceValidationError.
func (v *PriceValidator) Validate(ctx context.Context, items []LineItemRequest) (PricedItems, error) {
	if len(items) == 0 {
		return PricedItems{}, fmt.Errorf("%w: items are required", ErrCheckoutInvalidInput)
	}
	if len(items) > MaxCheckoutItems {
		return PricedItems{}, fmt.Errorf("%w: at most %d items per order", ErrCheckoutInvalidInput, MaxCheckoutItems)
	}

	var productIDs, variantIDs, addonIDs []int64
	for i, item := range items {
		if item.Quantity < 1 || item.Quantity > MaxItemQuantity {
			return PricedItems{}, fmt.Errorf("%w: item %d quantity must be between 1 and %d", ErrCheckoutInvalidInput, i, MaxItemQuantity)
		}
		if item.ProductID <= 0 {
			return PricedItems{}, fmt.Errorf("%w: item %d product is required", ErrCheckoutInvalidInput, i)
		}
		if len(item.Photos) > domain.MaxPhotosPerItem {
			return PricedItems{}, fmt.Errorf("%w: item %d has more than %d photos", ErrCheckoutInvalidInput, i, domain.MaxPhotosPerItem)
		}
		productIDs = append(productIDs, item.ProductID)
		if item.VariantID != nil {
			variantIDs = append(variantIDs, *item.VariantID)
		}
		addonIDs = append(addonIDs, item.AddonIDs...)
	}

	products, err := v.catalog.ProductsByIDs(ctx, uniqueIDs(productIDs))
	if err != nil {
		return PricedItems{}, mapCheckoutLookupError(err)
	}
	variants := map[int64]domain.ProductVariant{}
	if ids := uniqueIDs(variantIDs); len(ids) > 0 {
		if variants, err = v.catalog.VariantsByIDs(ctx, ids); err != nil {
			return PricedItems{}, mapCheckoutLookupError(err)
		}
	}
	addons := map[int64]domain.Addon{}
	if ids := uniqueIDs(addonIDs); len(ids) > 0 {
		if addons, err = v.catalog.ActiveAddonsByIDs(ctx, ids); err != nil {
			return PricedItems{}, mapCheckoutLookupError(err)
		}
	}

	priced := PricedItems{Items: make([]PricedItem, 0, len(items))}
	var invalid []int
	for i, item := range items {
		line := v.priceItem(ctx, i, item, products, variants, addons)
		if line.UnitPrice <= 0 {
			invalid = append(invalid, i)
			continue
		}
		priced.Items = append(priced.Items, line)
		priced.Total += line.LineTotal
	}
	if len(invalid) > 0 {
		return PricedItems{}, &PriceValidationError{InvalidItems: invalid}
	}
	return priced, nil
}

// priceItem returns a line with UnitPrice 0 when anything about it is not sellable.
func (v *PriceValidator) priceItem(ctx context.Context, index int, item LineItemRequest, products map[int64]domain.Product, variants map[int64]domain.ProductVariant, addons map[int64]domain.Addon) PricedItem {
	line := PricedItem{Request: item}
	product, ok := products[item.ProductID]
	if !ok || !product.Active {
		return line
	}
	line.Product = product
	unit := product.Price

	if item.VariantID != nil {
		variant, ok := variants[*item.VariantID]
		if !ok || !variant.Active || variant.ProductID != product.ID {
			return line
		}
		line.Variant = &variant
		if variant.PriceOverride != nil {
			unit = *variant.PriceOverride
		}
	}

	for _, id := range uniqueIDs(item.AddonIDs) {
		addon, ok := addons[id]
		if !ok {
			return line
		}
		if addon.ProductID != product.ID {
			v.logger(ctx, "pricing.addon.mismatch", map[string]any{
				"item":           index,
				"productId":      product.ID,
				"addonId":        addon.ID,
				"addonProductId": addon.ProductID,
			})
			return line
		}
		line.Addons = append(line.Addons, addon)
		unit += addon.Price
	}

	if unit <= 0 {
		return line
	}
	line.UnitPrice = unit
	line.LineTotal = unit * int64(item.Quantity)
	return line
}

func mapCheckoutLookupError(err error) error {
	return fmt.Errorf("%w: catalog lookup: %v", ErrCheckoutUnavailable, err)
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
