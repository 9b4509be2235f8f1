// Package session maps what the operator types (a table number or a
// wristband code) to a backend session, submits carts against it and
// reads back what the session consumed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/shopspring/decimal"
)

// TablePrefix marks a reference as table-based ("table-7"). Anything
// else is read as a wristband code.
const TablePrefix = "table-"

type Backend interface {
	ListTables(ctx context.Context) ([]orders.Table, error)
	ActiveSession(ctx context.Context, tableID string) (orders.Session, error)
	Wristband(ctx context.Context, code string) (orders.Wristband, error)
	CreateOrder(ctx context.Context, req orders.CreateOrderReq) (orders.Order, error)
	OrdersBySession(ctx context.Context, sessionID string) (backend.SessionDetails, error)
}

type Resolver struct {
	api Backend
	log *slog.Logger
}

func NewResolver(api Backend, log *slog.Logger) *Resolver {
	if log == nil {
		log = logging.Discard()
	}
	return &Resolver{api: api, log: log}
}

type Mode int

const (
	ByCode Mode = iota
	ByTable
)

type Ref struct {
	Mode        Mode
	Code        string
	TableNumber int
}

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, backend.ValidationError("table or wristband code is required")
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(s), TablePrefix); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return Ref{}, backend.ValidationError("invalid table number %q", rest)
		}
		return Ref{Mode: ByTable, TableNumber: n}, nil
	}
	return Ref{Mode: ByCode, Code: s}, nil
}

// Resolve returns the session id addressed by ref. It fails with
// backend.ErrNotFound when the table or wristband does not exist and
// with backend.ErrNoActiveSession when it exists without an ACTIVE
// session. Sessions are never created here.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.Mode == ByTable {
		return r.resolveTableNumber(ctx, parsed.TableNumber)
	}
	return r.ResolveCode(ctx, parsed.Code)
}

func (r *Resolver) resolveTableNumber(ctx context.Context, number int) (string, error) {
	tables, err := r.api.ListTables(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range tables {
		if t.TableNumber == number {
			return r.ResolveTable(ctx, t.ID)
		}
	}
	return "", fmt.Errorf("table %d: %w", number, backend.ErrNotFound)
}

func (r *Resolver) ResolveTable(ctx context.Context, tableID string) (string, error) {
	if tableID == "" {
		return "", backend.ValidationError("table id is required")
	}
	s, err := r.api.ActiveSession(ctx, tableID)
	if errors.Is(err, backend.ErrNotFound) {
		return "", fmt.Errorf("table %s: %w", tableID, backend.ErrNoActiveSession)
	}
	if err != nil {
		return "", err
	}
	if s.Status != orders.SessionActive || s.ID == "" {
		return "", fmt.Errorf("table %s: session %s is %s: %w", tableID, s.ID, s.Status, backend.ErrNoActiveSession)
	}
	return s.ID, nil
}

func (r *Resolver) ResolveCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", backend.ValidationError("wristband code is required")
	}
	wb, err := r.api.Wristband(ctx, code)
	if errors.Is(err, backend.ErrNotFound) {
		return "", fmt.Errorf("wristband %s: %w", code, backend.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if wb.Status != "" && wb.Status != orders.WristbandActive {
		return "", fmt.Errorf("wristband %s is %s: %w", code, wb.Status, backend.ErrNoActiveSession)
	}
	return wb.ID, nil
}

// SubmitOrder sends the grouped items once. Errors are returned as is so
// the caller can show the backend's message; nothing is retried.
func (r *Resolver) SubmitOrder(ctx context.Context, sessionID string, items []orders.ItemInput) (orders.Order, error) {
	if sessionID == "" {
		return orders.Order{}, backend.ValidationError("session id is required")
	}
	if len(items) == 0 {
		return orders.Order{}, backend.ValidationError("cart is empty")
	}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity < 1 {
			return orders.Order{}, backend.ValidationError("invalid item %+v", it)
		}
	}
	o, err := r.api.CreateOrder(ctx, orders.CreateOrderReq{SessionID: sessionID, Items: items})
	if err != nil {
		r.log.Warn("order submission failed", "session_id", sessionID, "items", len(items), "err", err)
		return orders.Order{}, err
	}
	r.log.Info("order submitted", "session_id", sessionID, "order_id", o.ID, "total", o.TotalAmount.String())
	return o, nil
}

type Consumption struct {
	SessionID string          `json:"sessionId"`
	Table     *orders.Table   `json:"table,omitempty"`
	Orders    []orders.Order  `json:"orders"`
	Total     decimal.Decimal `json:"total"`
}

// FetchConsumption returns what a session consumed so far. A session the
// backend does not know yet yields an empty result, not an error.
func (r *Resolver) FetchConsumption(ctx context.Context, sessionID string) (Consumption, error) {
	out := Consumption{SessionID: sessionID, Orders: []orders.Order{}, Total: decimal.Zero}
	if sessionID == "" {
		return out, backend.ValidationError("session id is required")
	}
	d, err := r.api.OrdersBySession(ctx, sessionID)
	if errors.Is(err, backend.ErrNotFound) {
		r.log.Debug("no consumption yet", "session_id", sessionID)
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Table = d.Table
	if d.Orders != nil {
		out.Orders = d.Orders
	}
	out.Total = orders.SumTotals(out.Orders)
	return out, nil
}
