package services

import (
	"context"
	"errors"
	"slices"
	"testing"

	domain "github.com/pulsera/api/internal/domain"
)

func newPricingFixture(t *testing.T) (*memoryStore, *PriceValidator, *captureLogs) {
	t.Helper()
	store := newMemoryStore()
	store.addProduct(1, 10000, true)
	store.addProduct(2, 5000, true)
	store.addProduct(3, 7000, false)
	store.variants[10] = domain.ProductVariant{ID: 10, ProductID: 1, Name: "Oro", PriceOverride: ptr(int64(15000)), Active: true}
	store.variants[11] = domain.ProductVariant{ID: 11, ProductID: 1, Name: "Plata", Active: true}
	store.variants[12] = domain.ProductVariant{ID: 12, ProductID: 2, Name: "Otro", Active: true}
	store.addons[100] = domain.Addon{ID: 100, ProductID: 1, Name: "Caja", Price: 1500, Active: true}
	store.addons[101] = domain.Addon{ID: 101, ProductID: 2, Name: "Bolsa", Price: 500, Active: true}
	store.addons[102] = domain.Addon{ID: 102, ProductID: 1, Name: "Retirado", Price: 900, Active: false}

	logs := &captureLogs{}
	v, err := NewPriceValidator(store, logs.log)
	if err != nil {
		t.Fatalf("NewPriceValidator: %v", err)
	}
	return store, v, logs
}

func TestPriceValidatorUsesVariantOverrideAndAddons(t *testing.T) {
	store, v, _ := newPricingFixture(t)

	priced, err := v.Validate(context.Background(), []LineItemRequest{
		{ProductID: 1, VariantID: ptr(int64(10)), Quantity: 2, AddonIDs: []int64{100}},
		{ProductID: 1, VariantID: ptr(int64(11)), Quantity: 1},
		{ProductID: 2, Quantity: 3, AddonIDs: []int64{101, 101}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantUnits := []int64{16500, 10000, 5500}
	for i, item := range priced.Items {
		if item.UnitPrice != wantUnits[i] {
			t.Errorf("item %d: unit price %d, want %d", i, item.UnitPrice, wantUnits[i])
		}
	}
	if priced.Total != 2*16500+10000+3*5500 {
		t.Fatalf("unexpected total %d", priced.Total)
	}
	if store.catalogCalls != 3 {
		t.Fatalf("expected three batched lookups, got %d", store.catalogCalls)
	}
}

func TestPriceValidatorRejectsUnsellableItems(t *testing.T) {
	_, v, logs := newPricingFixture(t)

	_, err := v.Validate(context.Background(), []LineItemRequest{
		{ProductID: 1, Quantity: 1},
		{ProductID: 3, Quantity: 1},
		{ProductID: 99, Quantity: 1},
		{ProductID: 1, VariantID: ptr(int64(12)), Quantity: 1},
		{ProductID: 1, Quantity: 1, AddonIDs: []int64{101}},
		{ProductID: 1, Quantity: 1, AddonIDs: []int64{102}},
	})
	var priceErr *PriceValidationError
	if !errors.As(err, &priceErr) || !errors.Is(err, ErrPriceValidation) {
		t.Fatalf("expected price validation error, got %v", err)
	}
	if want := []int{1, 2, 3, 4, 5}; !slices.Equal(priceErr.InvalidItems, want) {
		t.Fatalf("expected invalid items %v, got %v", want, priceErr.InvalidItems)
	}
	if !logs.has("pricing.addon.mismatch") {
		t.Fatalf("expected addon mismatch to be logged, got %v", logs.entries)
	}
}

func TestPriceValidatorInputBounds(t *testing.T) {
	_, v, _ := newPricingFixture(t)
	tooMany := make([]LineItemRequest, MaxCheckoutItems+1)
	for i := range tooMany {
		tooMany[i] = LineItemRequest{ProductID: 1, Quantity: 1}
	}

	cases := map[string][]LineItemRequest{
		"empty":         nil,
		"zero quantity": {{ProductID: 1, Quantity: 0}},
		"over max":      {{ProductID: 1, Quantity: MaxItemQuantity + 1}},
		"no product":    {{Quantity: 1}},
		"too many":      tooMany,
		"photos":        {{ProductID: 1, Quantity: 1, Photos: []PhotoRef{{StoragePath: "a"}, {StoragePath: "b"}, {StoragePath: "c"}}}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Validate(context.Background(), items); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}
