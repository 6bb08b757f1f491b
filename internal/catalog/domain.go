// Package catalog provides read-only product lookups for the stock
// subsystem. Product data is owned elsewhere; this package only answers
// "does this product exist and what is it called", cached in Redis.
package catalog

import (
	"errors"
	"time"
)

// Product is the slice of catalog data the stock subsystem needs.
type Product struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrProductNotFound indicates the product id is unknown to the catalog.
var ErrProductNotFound = errors.New("catalog: product not found")
