package backend

import (
	"context"
	"strings"

	"github.com/ariefcatur/rockband-pos/internal/orders"
)

func (c *Client) ListTables(ctx context.Context) ([]orders.Table, error) {
	var out []orders.Table
	if err := c.get(ctx, "/tables", "/tables", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTable(ctx context.Context, tableNumber int) (orders.Table, error) {
	var out orders.Table
	if tableNumber <= 0 {
		return out, ValidationError("table number must be positive, got %d", tableNumber)
	}
	err := c.post(ctx, "/tables", "/tables", map[string]int{"tableNumber": tableNumber}, &out)
	return out, err
}

// ActiveSession returns the ACTIVE session of a table. A 404 surfaces as
// ErrNotFound; the resolver turns it into ErrNoActiveSession.
func (c *Client) ActiveSession(ctx context.Context, tableID string) (orders.Session, error) {
	var out orders.Session
	err := c.get(ctx, "/sessions/table/{tableId}/active", "/sessions/table/"+seg(tableID)+"/active", nil, &out)
	return out, err
}

func (c *Client) ListWristbands(ctx context.Context) ([]orders.Wristband, error) {
	var out []orders.Wristband
	if err := c.get(ctx, "/wristbands", "/wristbands", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Wristband looks a wristband up by code; the answer nests its orders.
func (c *Client) Wristband(ctx context.Context, code string) (orders.Wristband, error) {
	var out orders.Wristband
	err := c.get(ctx, "/wristbands/{code}", "/wristbands/"+seg(code), nil, &out)
	return out, err
}

func (c *Client) CreateWristband(ctx context.Context, code, qrCode string) (orders.Wristband, error) {
	var out orders.Wristband
	if strings.TrimSpace(code) == "" || strings.TrimSpace(qrCode) == "" {
		return out, ValidationError("wristband code and QR code are required")
	}
	err := c.post(ctx, "/wristbands", "/wristbands", map[string]string{"code": code, "qrCode": qrCode}, &out)
	return out, err
}

func (c *Client) ActiveSessionsOverview(ctx context.Context) ([]orders.ActiveSessionOverview, error) {
	var out []orders.ActiveSessionOverview
	if err := c.get(ctx, "/overview/sessions", "/overview/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
