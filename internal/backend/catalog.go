package backend

import (
	"context"

	"github.com/ariefcatur/rockband-pos/internal/catalog"
)

func (c *Client) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	var out []catalog.Product
	if err := c.get(ctx, "/products", "/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	var out []catalog.Category
	if err := c.get(ctx, "/categories", "/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSoldOut, MarkAvailable and AddStock return the product as the
// backend stored it; callers refetch the menu afterwards.
func (c *Client) MarkSoldOut(ctx context.Context, productID string) (catalog.Product, error) {
	var out catalog.Product
	err := c.patch(ctx, "/products/{id}/sold-out", "/products/"+seg(productID)+"/sold-out", nil, &out)
	return out, err
}

func (c *Client) MarkAvailable(ctx context.Context, productID string) (catalog.Product, error) {
	var out catalog.Product
	err := c.patch(ctx, "/products/{id}/available", "/products/"+seg(productID)+"/available", nil, &out)
	return out, err
}

func (c *Client) AddStock(ctx context.Context, productID string, quantity int) (catalog.Product, error) {
	var out catalog.Product
	if quantity <= 0 {
		return out, ValidationError("stock to add must be positive, got %d", quantity)
	}
	err := c.patch(ctx, "/products/{id}/add-stock", "/products/"+seg(productID)+"/add-stock",
		map[string]int{"quantity": quantity}, &out)
	return out, err
}
