// Package catalog holds the menu model as the backend serves it and the
// grouping used by the cashier menu.
package catalog

import "github.com/shopspring/decimal"

// UntrackedStockCap bounds a single selection of a product whose stock
// is not tracked.
const UntrackedStockCap = 99

type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Price arrives as a decimal string ("10.00"); decoding keeps every digit.
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"categoryId"`
	IsSoldOut  bool            `json:"isSoldOut"`
	// Stock is nil when the venue does not track it.
	Stock *int `json:"stock"`
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive,omitempty"`
}

func (p Product) Tracked() bool { return p.Stock != nil }

// Orderable reports whether the product may be put in a cart at all.
func (p Product) Orderable() bool {
	if p.IsSoldOut {
		return false
	}
	if p.Stock != nil && *p.Stock <= 0 {
		return false
	}
	return true
}

// Available returns how many units one selection may take: the tracked
// stock, or UntrackedStockCap when stock is not tracked.
func (p Product) Available() int {
	if p.Stock == nil {
		return UntrackedStockCap
	}
	if *p.Stock < 0 {
		return 0
	}
	return *p.Stock
}

func IntPtr(n int) *int { return &n }
