package backend

import (
	"context"
	"net/url"

	"github.com/ariefcatur/rockband-pos/internal/orders"
)

// SessionDetails is the answer of GET /orders/session/{id}.
type SessionDetails struct {
	orders.Session
	Table  *orders.Table  `json:"table,omitempty"`
	Orders []orders.Order `json:"orders"`
}

func (c *Client) CreateOrder(ctx context.Context, req orders.CreateOrderReq) (orders.Order, error) {
	var out orders.Order
	err := c.post(ctx, "/orders", "/orders", req, &out)
	return out, err
}

func (c *Client) OrdersBySession(ctx context.Context, sessionID string) (SessionDetails, error) {
	var out SessionDetails
	err := c.get(ctx, "/orders/session/{sessionId}", "/orders/session/"+seg(sessionID), nil, &out)
	return out, err
}

func (c *Client) OrdersByStatus(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	var out []orders.Order
	q := url.Values{"status": []string{string(status)}}
	if err := c.get(ctx, "/orders?status", "/orders", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error) {
	var out orders.Order
	err := c.patch(ctx, "/orders/{id}/status", "/orders/"+seg(orderID)+"/status",
		map[string]orders.Status{"status": status}, &out)
	return out, err
}

func (c *Client) DeleteOrderItem(ctx context.Context, itemID string) error {
	return c.delete(ctx, "/orders/items/{itemId}", "/orders/items/"+seg(itemID))
}
