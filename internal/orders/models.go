package orders

import (
	"time"

	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/shopspring/decimal"
)

type Table struct {
	ID          string `json:"id"`
	TableNumber int    `json:"tableNumber"`
	IsActive    bool   `json:"isActive"`
}

type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionClosed SessionStatus = "CLOSED"
)

type Session struct {
	ID      string        `json:"id"`
	TableID string        `json:"tableId"`
	Status  SessionStatus `json:"status"`
}

type WristbandStatus string

const (
	WristbandActive   WristbandStatus = "ACTIVE"
	WristbandInactive WristbandStatus = "INACTIVE"
	WristbandPaid     WristbandStatus = "PAID"
)

// Wristband addresses a session by a printed code instead of a table.
// Its ID doubles as the session id when submitting orders.
type Wristband struct {
	ID     string          `json:"id"`
	Code   string          `json:"code"`
	Status WristbandStatus `json:"status"`
	Orders []Order         `json:"orders,omitempty"`
}

type Order struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
	SessionID   string          `json:"sessionId"`
	OrderItems  []OrderItem     `json:"orderItems"`
	// Table is only present when the backend includes the relation.
	Table *Table `json:"table,omitempty"`
}

type OrderItem struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"productId"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Product    catalog.Product `json:"product"`
}

// ItemInput is one line of an order submission.
type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderReq struct {
	SessionID string      `json:"sessionId"`
	Items     []ItemInput `json:"items"`
}

// ActiveSessionOverview is one row of the floor overview.
type ActiveSessionOverview struct {
	SessionID     string          `json:"sessionId"`
	TableNumber   int             `json:"tableNumber"`
	TableID       string          `json:"tableId"`
	TotalConsumed decimal.Decimal `json:"totalConsumed"`
	ActiveOrders  []Order         `json:"activeOrders,omitempty"`
}

// SumTotals adds up the order totals, skipping cancelled orders.
func SumTotals(os []Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range os {
		if o.Status == StatusCancelled {
			continue
		}
		total = total.Add(o.TotalAmount)
	}
	return total
}
