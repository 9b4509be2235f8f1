package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/backend/backendtest"
	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/shopspring/decimal"
)

func TestClient_ErrorMessageIsProxied(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		body string
		msg  string
		is   error
	}{
		{"error field", http.StatusBadRequest, `{"error":"Produto esgotado"}`, "Produto esgotado", backend.ErrValidation},
		{"message field", http.StatusNotFound, `{"message":"Session not found"}`, "Session not found", backend.ErrNotFound},
		{"message list", http.StatusUnprocessableEntity, `{"message":["a is required","b must be > 0"]}`, "a is required; b must be > 0", backend.ErrValidation},
		{"no body", http.StatusConflict, ``, "", backend.ErrConflict},
		{"server error", http.StatusInternalServerError, `oops`, "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-Request-ID") == "" {
					t.Error("missing X-Request-ID")
				}
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := backend.New(srv.URL, time.Second, nil, nil)
			_, err := c.ListProducts(context.Background())

			var apiErr *backend.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.Status != tc.code || apiErr.Message != tc.msg {
				t.Fatalf("got %+v", apiErr)
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("errors.Is(%v, %v) = false", err, tc.is)
			}
			if tc.msg != "" && backend.UserMessage(err) != tc.msg {
				t.Fatalf("UserMessage = %q, want %q", backend.UserMessage(err), tc.msg)
			}
		})
	}
}

func TestClient_TimeoutBoundsRequests(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := backend.New(srv.URL, 50*time.Millisecond, nil, nil)
	start := time.Now()
	_, err := c.ListCategories(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("request was not cut by the timeout")
	}
	if got := backend.UserMessage(err); got == "" {
		t.Fatal("expected an operator message")
	}
}

func TestClient_AgainstFakeBackend(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(t)
	fake.AddProduct(catalog.Product{ID: "p1", Name: "Beer", Price: decimal.RequireFromString("12.50"), CategoryID: "c"})
	tbl := fake.AddTable(7)
	sess := fake.OpenSession(tbl.ID)
	c := fake.Client()
	ctx := context.Background()

	got, err := c.ActiveSession(ctx, tbl.ID)
	if err != nil || got.ID != sess.ID {
		t.Fatalf("ActiveSession = %+v, %v", got, err)
	}

	o, err := c.CreateOrder(ctx, orders.CreateOrderReq{SessionID: sess.ID, Items: []orders.ItemInput{{ProductID: "p1", Quantity: 2}}})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != orders.StatusPending || !o.TotalAmount.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("order = %+v", o)
	}

	pending, err := c.OrdersByStatus(ctx, orders.StatusPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("OrdersByStatus = %v, %v", pending, err)
	}
	if _, err := c.UpdateOrderStatus(ctx, o.ID, orders.StatusPreparing); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if err := c.DeleteOrderItem(ctx, o.OrderItems[0].ID); err != nil {
		t.Fatalf("DeleteOrderItem: %v", err)
	}

	p, err := c.MarkSoldOut(ctx, "p1")
	if err != nil || !p.IsSoldOut {
		t.Fatalf("MarkSoldOut = %+v, %v", p, err)
	}
	p, err = c.AddStock(ctx, "p1", 5)
	if err != nil || p.Stock == nil || *p.Stock != 5 || p.IsSoldOut {
		t.Fatalf("AddStock = %+v, %v", p, err)
	}
	if _, err := c.AddStock(ctx, "p1", 0); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("AddStock(0) = %v, want validation error", err)
	}

	bill, err := c.CloseBill(ctx, backend.CloseBillReq{SessionID: sess.ID, PaymentMethod: backend.PaymentPix})
	if err != nil {
		t.Fatalf("CloseBill: %v", err)
	}
	if !bill.Payment.Amount.Equal(decimal.Zero) {
		// the only item was deleted above
		t.Fatalf("amount = %s, want 0", bill.Payment.Amount)
	}
	if _, err := c.ActiveSession(ctx, tbl.ID); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("session should be closed, got %v", err)
	}
}

func TestClient_CashRegister(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(t)
	c := fake.Client()
	ctx := context.Background()

	reg, err := c.ActiveCashRegister(ctx)
	if err != nil || reg != nil {
		t.Fatalf("expected no register, got %+v, %v", reg, err)
	}
	already, err := c.OpenCashRegister(ctx, decimal.RequireFromString("100.00"))
	if err != nil || already {
		t.Fatalf("first open = %v, %v", already, err)
	}
	already, err = c.OpenCashRegister(ctx, decimal.Zero)
	if err != nil || !already {
		t.Fatalf("second open should be a soft success, got %v, %v", already, err)
	}
	if reg, err := c.ActiveCashRegister(ctx); err != nil || reg == nil {
		t.Fatalf("expected open register, got %+v, %v", reg, err)
	}
}

func TestCloseBill_Validation(t *testing.T) {
	t.Parallel()

	c := backend.New("http://127.0.0.1:1", time.Second, nil, nil)
	if _, err := c.CloseBill(context.Background(), backend.CloseBillReq{PaymentMethod: backend.PaymentCash}); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("missing session: %v", err)
	}
	if _, err := c.CloseBill(context.Background(), backend.CloseBillReq{SessionID: "s", PaymentMethod: "GOLD"}); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("bad method: %v", err)
	}
}
