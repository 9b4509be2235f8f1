package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/rockband-pos/internal/backend/backendtest"
	"github.com/ariefcatur/rockband-pos/internal/board"
	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/ariefcatur/rockband-pos/internal/metrics"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/ariefcatur/rockband-pos/internal/redisx"
	"github.com/ariefcatur/rockband-pos/internal/session"
	"github.com/shopspring/decimal"
)

type testEnv struct {
	srv  *httptest.Server
	fake *backendtest.Backend
}

func newEnv(t *testing.T, cache SnapshotCache) *testEnv {
	t.Helper()
	fake := backendtest.New(t)
	fake.AddCategory(catalog.Category{ID: "drinks", Name: "Drinks"})
	fake.AddCategory(catalog.Category{ID: "food", Name: "Food"})
	fake.AddProduct(catalog.Product{ID: "A", Name: "Beer", Price: decimal.RequireFromString("10.00"), CategoryID: "drinks"})
	fake.AddProduct(catalog.Product{ID: "B", Name: "Water", Price: decimal.RequireFromString("5.50"), CategoryID: "drinks"})
	fake.AddProduct(catalog.Product{ID: "F", Name: "Fries", Price: decimal.RequireFromString("18.00"), CategoryID: "food", IsSoldOut: true})

	api := fake.Client()
	m := metrics.New("test")
	resolver := session.NewResolver(api, nil)
	h := &Handler{
		API:            api,
		Resolver:       resolver,
		Terminals:      session.NewRegistry(resolver, &session.MemLocker{}, nil),
		Snapshots:      cache,
		TerminalHeader: "X-Terminal-ID",
		Metrics:        m,
	}
	r := NewRouter(m)
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, fake: fake}
}

func (e *testEnv) do(t *testing.T, method, path, terminal string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if terminal != "" {
		req.Header.Set("X-Terminal-ID", terminal)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestTerminal_CashierFlow(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	tbl := e.fake.AddTable(4)
	sess := e.fake.OpenSession(tbl.ID)

	for _, it := range []addItemReq{{"A", 1}, {"B", 1}, {"A", 1}} {
		if resp, raw := e.do(t, http.MethodPost, "/terminal/cart/items", "till-1", it); resp.StatusCode != http.StatusOK {
			t.Fatalf("add %s: %d %s", it.ProductID, resp.StatusCode, raw)
		}
	}
	_, raw := e.do(t, http.MethodGet, "/terminal/cart", "till-1", nil)
	cv := decode[cartView](t, raw)
	if len(cv.Lines) != 2 || cv.Lines[0].ProductID != "A" || cv.Lines[0].Quantity != 2 {
		t.Fatalf("cart = %+v", cv)
	}
	if !cv.Total.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("total = %s", cv.Total)
	}

	if resp, raw := e.do(t, http.MethodPut, "/terminal/session", "till-1", bindReq{Ref: "table-4"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("bind: %d %s", resp.StatusCode, raw)
	}
	resp, raw := e.do(t, http.MethodPost, "/terminal/submit", "till-1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", resp.StatusCode, raw)
	}
	o := decode[orders.Order](t, raw)
	if o.SessionID != sess.ID || !o.TotalAmount.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("order = %+v", o)
	}

	_, raw = e.do(t, http.MethodGet, "/terminal/cart", "till-1", nil)
	if cv := decode[cartView](t, raw); len(cv.Lines) != 0 || cv.Ref != "" {
		t.Fatalf("cart not reset: %+v", cv)
	}

	_, raw = e.do(t, http.MethodGet, "/consumption/"+sess.ID, "", nil)
	c := decode[session.Consumption](t, raw)
	if len(c.Orders) != 1 || !c.Total.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("consumption = %+v", c)
	}
}

func TestTerminal_NoActiveSessionKeepsCart(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	e.fake.AddTable(7)
	e.do(t, http.MethodPost, "/terminal/cart/items", "till-1", addItemReq{"A", 2})
	e.do(t, http.MethodPut, "/terminal/session", "till-1", bindReq{Ref: "table-7"})

	resp, raw := e.do(t, http.MethodPost, "/terminal/submit", "till-1", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d %s", resp.StatusCode, raw)
	}
	if !strings.Contains(string(raw), "No active session") {
		t.Fatalf("body = %s", raw)
	}
	_, raw = e.do(t, http.MethodGet, "/terminal/cart", "till-1", nil)
	if cv := decode[cartView](t, raw); len(cv.Lines) != 1 || cv.Lines[0].Quantity != 2 || cv.Ref != "table-7" {
		t.Fatalf("cart changed: %+v", cv)
	}
	if n := e.fake.Count("POST /orders"); n != 0 {
		t.Fatalf("POST /orders called %d times", n)
	}
}

func TestTerminal_CartEdits(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	if resp, _ := e.do(t, http.MethodPost, "/terminal/cart/items", "till-1", addItemReq{"F", 1}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("sold out add = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/terminal/cart/items", "till-1", addItemReq{"Z", 1}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown product = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/terminal/cart/items", "till-1", addItemReq{"A", 0}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero quantity = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPut, "/terminal/session", "till-1", bindReq{Ref: "table-x"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad ref = %d", resp.StatusCode)
	}

	e.do(t, http.MethodPost, "/terminal/cart/items", "till-1", addItemReq{"A", 1})
	e.do(t, http.MethodPost, "/terminal/cart/items", "till-1", addItemReq{"B", 1})
	e.do(t, http.MethodPost, "/terminal/cart/items", "till-2", addItemReq{"B", 3})

	_, raw := e.do(t, http.MethodDelete, "/terminal/cart/items/A", "till-1", nil)
	if cv := decode[cartView](t, raw); len(cv.Lines) != 1 || cv.Lines[0].ProductID != "B" {
		t.Fatalf("after remove: %+v", cv)
	}
	_, raw = e.do(t, http.MethodDelete, "/terminal/cart", "till-1", nil)
	if cv := decode[cartView](t, raw); len(cv.Lines) != 0 {
		t.Fatalf("after clear: %+v", cv)
	}
	_, raw = e.do(t, http.MethodGet, "/terminal/cart", "till-2", nil)
	if cv := decode[cartView](t, raw); len(cv.Lines) != 1 || cv.Lines[0].Quantity != 3 {
		t.Fatalf("terminals share a cart: %+v", cv)
	}
}

func TestMenu(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	_, raw := e.do(t, http.MethodGet, "/menu", "", nil)
	sections := decode[[]catalog.Section](t, raw)
	if len(sections) != 2 || sections[0].Category.ID != "drinks" || len(sections[0].Products) != 2 {
		t.Fatalf("menu = %+v", sections)
	}
	_, raw = e.do(t, http.MethodGet, "/menu?q=wat", "", nil)
	sections = decode[[]catalog.Section](t, raw)
	if len(sections) != 1 || sections[0].Products[0].ID != "B" {
		t.Fatalf("search = %+v", sections)
	}
}

func TestBoard_CacheThenFallback(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisx.NewSnapshotStore(rdb)

	e := newEnv(t, store)
	e.fake.AddOrder(orders.Order{ID: "o1", Status: orders.StatusPreparing})

	resp, raw := e.do(t, http.MethodGet, "/board", "", nil)
	if resp.Header.Get("X-Board-Source") != "backend" {
		t.Fatalf("first read source = %q", resp.Header.Get("X-Board-Source"))
	}
	if s := decode[board.Snapshot](t, raw); len(s.Preparing) != 1 {
		t.Fatalf("snapshot = %+v", s)
	}

	calls := e.fake.Count("GET /orders")
	resp, _ = e.do(t, http.MethodGet, "/board", "", nil)
	if resp.Header.Get("X-Board-Source") != "cache" {
		t.Fatalf("second read source = %q", resp.Header.Get("X-Board-Source"))
	}
	if e.fake.Count("GET /orders") != calls {
		t.Fatal("cached read reached the backend")
	}
	if _, ok, _ := store.Load(context.Background()); !ok {
		t.Fatal("fallback must populate the cache")
	}
}

func TestStaffActions_RefreshCachedBoard(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	e := newEnv(t, redisx.NewSnapshotStore(rdb))
	e.fake.AddOrder(orders.Order{ID: "o1", Status: orders.StatusPending, CreatedAt: time.Now().UTC(),
		OrderItems: []orders.OrderItem{{ID: "i1", ProductID: "A", Quantity: 1}}})
	e.fake.AddOrder(orders.Order{ID: "o2", Status: orders.StatusPending, CreatedAt: time.Now().UTC(),
		OrderItems: []orders.OrderItem{{ID: "i2", ProductID: "A", Quantity: 1}, {ID: "i3", ProductID: "B", Quantity: 1}}})

	if resp, raw := e.do(t, http.MethodGet, "/board", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("board = %d %s", resp.StatusCode, raw)
	}
	if resp, raw := e.do(t, http.MethodPatch, "/orders/o1/status", "", updateStatusReq{Status: orders.StatusPreparing}); resp.StatusCode != http.StatusOK {
		t.Fatalf("advance = %d %s", resp.StatusCode, raw)
	}
	resp, raw := e.do(t, http.MethodGet, "/board", "", nil)
	s := decode[board.Snapshot](t, raw)
	if resp.Header.Get("X-Board-Source") != "cache" || len(s.Pending) != 1 || len(s.Preparing) != 1 {
		t.Fatalf("after advance: source = %q, snapshot = %+v", resp.Header.Get("X-Board-Source"), s)
	}

	if resp, raw := e.do(t, http.MethodDelete, "/orders/o2/items/i3", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove item = %d %s", resp.StatusCode, raw)
	}
	_, raw = e.do(t, http.MethodGet, "/board", "", nil)
	s = decode[board.Snapshot](t, raw)
	if len(s.Pending) != 1 || len(s.Pending[0].OrderItems) != 1 {
		t.Fatalf("after remove: pending = %+v", s.Pending)
	}
}

func TestStaffActions(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	p := e.fake.AddOrder(orders.Order{ID: "o1", Status: orders.StatusPending, CreatedAt: time.Now().UTC(),
		OrderItems: []orders.OrderItem{{ID: "i1", ProductID: "A", Quantity: 1}}})
	e.fake.AddOrder(orders.Order{ID: "o2", Status: orders.StatusPreparing, CreatedAt: time.Now().UTC(),
		OrderItems: []orders.OrderItem{{ID: "i2", ProductID: "A", Quantity: 1}}})

	if resp, raw := e.do(t, http.MethodDelete, "/orders/o2/items/i2", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("remove from PREPARING = %d %s", resp.StatusCode, raw)
	}
	if resp, raw := e.do(t, http.MethodDelete, "/orders/o1/items/i1", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove from PENDING = %d %s", resp.StatusCode, raw)
	}
	if resp, raw := e.do(t, http.MethodPatch, "/orders/o2/status", "", updateStatusReq{Status: orders.StatusPending}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("backwards transition = %d %s", resp.StatusCode, raw)
	}
	if resp, raw := e.do(t, http.MethodPatch, "/orders/o1/status", "", updateStatusReq{Status: "COOKING"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown status = %d %s", resp.StatusCode, raw)
	}
	resp, raw := e.do(t, http.MethodPatch, "/orders/"+p.ID+"/status", "", updateStatusReq{Status: orders.StatusPreparing})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advance = %d %s", resp.StatusCode, raw)
	}
	if o, _ := e.fake.Order("o1"); o.Status != orders.StatusPreparing {
		t.Fatalf("backend status = %s", o.Status)
	}
}

func TestCloseBill(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	tbl := e.fake.AddTable(3)
	sess := e.fake.OpenSession(tbl.ID)
	e.fake.AddOrder(orders.Order{SessionID: sess.ID, Status: orders.StatusDelivered, TotalAmount: decimal.RequireFromString("30.00")})

	if resp, _ := e.do(t, http.MethodPost, "/bills/close", "", map[string]string{"sessionId": sess.ID, "paymentMethod": "BITCOIN"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad method = %d", resp.StatusCode)
	}
	resp, raw := e.do(t, http.MethodPost, "/bills/close", "", map[string]string{"sessionId": sess.ID, "paymentMethod": "PIX"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close = %d %s", resp.StatusCode, raw)
	}
	out := decode[struct {
		Payment struct {
			Amount decimal.Decimal `json:"amount"`
		} `json:"payment"`
	}](t, raw)
	if !out.Payment.Amount.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("amount = %s", out.Payment.Amount)
	}
}

func TestAdmin_InventoryAndRegister(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	_, raw := e.do(t, http.MethodPatch, "/products/A/sold-out", "", nil)
	if p := decode[catalog.Product](t, raw); !p.IsSoldOut {
		t.Fatalf("sold-out = %+v", p)
	}
	_, raw = e.do(t, http.MethodPost, "/products/A/stock", "", map[string]int{"quantity": 5})
	if p := decode[catalog.Product](t, raw); p.Stock == nil || *p.Stock != 5 || p.IsSoldOut {
		t.Fatalf("add-stock = %+v", p)
	}
	if resp, _ := e.do(t, http.MethodPost, "/products/A/stock", "", map[string]int{"quantity": 0}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero stock = %d", resp.StatusCode)
	}

	if resp, _ := e.do(t, http.MethodGet, "/cash-register", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no register = %d", resp.StatusCode)
	}
	_, raw = e.do(t, http.MethodPost, "/cash-register/open", "", map[string]string{"initialValue": "100.00"})
	if v := decode[map[string]bool](t, raw); v["alreadyOpen"] {
		t.Fatal("first open reported already open")
	}
	_, raw = e.do(t, http.MethodPost, "/cash-register/open", "", map[string]string{"initialValue": "100.00"})
	if v := decode[map[string]bool](t, raw); !v["alreadyOpen"] {
		t.Fatal("second open must be a soft success")
	}
	if resp, _ := e.do(t, http.MethodGet, "/cash-register", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("active register = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	e.do(t, http.MethodGet, "/healthz", "", nil)
	want := `rockbandpay_test_http_requests_total{handler="GET /healthz",status="200"} 1`
	// the sample is recorded after the response is flushed
	deadline := time.Now().Add(time.Second)
	for {
		_, raw := e.do(t, http.MethodGet, "/metrics", "", nil)
		if strings.Contains(string(raw), want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics missing healthz sample:\n%s", raw)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
