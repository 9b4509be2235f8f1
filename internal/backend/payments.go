package backend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentPix    PaymentMethod = "PIX"
	PaymentDebit  PaymentMethod = "DEBIT"
	PaymentCredit PaymentMethod = "CREDIT"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentPix, PaymentDebit, PaymentCredit:
		return true
	}
	return false
}

type CloseBillReq struct {
	SessionID     string        `json:"sessionId"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

type Payment struct {
	ID     string          `json:"id,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Method PaymentMethod   `json:"method,omitempty"`
}

type CloseBillResp struct {
	Payment Payment `json:"payment"`
}

// CloseBill settles a session. It is terminal: every order of the
// session leaves the kitchen board afterwards.
func (c *Client) CloseBill(ctx context.Context, req CloseBillReq) (CloseBillResp, error) {
	var out CloseBillResp
	if req.SessionID == "" {
		return out, ValidationError("session id is required to close a bill")
	}
	if !req.PaymentMethod.Valid() {
		return out, ValidationError("unknown payment method %q", req.PaymentMethod)
	}
	err := c.post(ctx, "/payments/close-bill", "/payments/close-bill", req, &out)
	return out, err
}

type PaymentBreakdown struct {
	Method string          `json:"method"`
	Total  decimal.Decimal `json:"total"`
}

type SoldProduct struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	TotalValue decimal.Decimal `json:"totalValue"`
}

type CashRegister struct {
	ID                string             `json:"id"`
	OpenedAt          time.Time          `json:"openedAt"`
	InitialValue      decimal.Decimal    `json:"initialValue"`
	TotalPayments     decimal.Decimal    `json:"totalPayments"`
	ExpectedInCash    decimal.Decimal    `json:"expectedInCash"`
	PaymentsBreakdown []PaymentBreakdown `json:"paymentsBreakdown"`
	SoldProducts      []SoldProduct      `json:"soldProducts"`
}

// OpenCashRegister opens the register. A register that is already open
// answers 409, which counts as success here: alreadyOpen is true.
func (c *Client) OpenCashRegister(ctx context.Context, initialValue decimal.Decimal) (alreadyOpen bool, err error) {
	if initialValue.IsNegative() {
		return false, ValidationError("initial value cannot be negative")
	}
	err = c.post(ctx, "/cash-register/open", "/cash-register/open",
		map[string]json.Number{"initialValue": json.Number(initialValue.String())}, nil)
	if errors.Is(err, ErrConflict) {
		return true, nil
	}
	return false, err
}

// ActiveCashRegister returns nil without error when no register is open.
func (c *Client) ActiveCashRegister(ctx context.Context) (*CashRegister, error) {
	var out CashRegister
	err := c.get(ctx, "/cash-register/active-details", "/cash-register/active-details", nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseCashRegister(ctx context.Context) error {
	return c.post(ctx, "/cash-register/close", "/cash-register/close", nil, nil)
}
