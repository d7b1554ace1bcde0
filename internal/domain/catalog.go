package domain

// Product is a catalog entry with a base price in minor currency units.
type Product struct {
	ID     int64
	Name   string
	Price  int64
	Active bool
}

// ProductVariant optionally overrides the product price.
type ProductVariant struct {
	ID            int64
	ProductID     int64
	Name          string
	PriceOverride *int64
	Active        bool
}

// Addon is an optional extra sold together with a specific product.
type Addon struct {
	ID        int64
	ProductID int64
	Name      string
	Price     int64
	Active    bool
}
