// Package backendtest runs an in-memory POS backend for tests.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Backend is safe for concurrent use. Tests seed it through the exported
// helpers and inspect it through Count and Order.
type Backend struct {
	mu         sync.Mutex
	products   []catalog.Product
	categories []catalog.Category
	tables     []orders.Table
	sessions   map[string]orders.Session // by session id
	wristbands map[string]orders.Wristband
	orders     []orders.Order
	register   *backend.CashRegister

	// handlers hold mu while answering, so calls has its own lock
	cmu   sync.Mutex
	calls map[string]int

	// CreateOrderError, when set, makes POST /orders answer 400 with it.
	CreateOrderError string
	// StatusDelay delays GET /orders?status answers.
	StatusDelay time.Duration

	srv *httptest.Server
}

func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		sessions:   map[string]orders.Session{},
		wristbands: map[string]orders.Wristband{},
		calls:      map[string]int{},
	}
	b.srv = httptest.NewServer(b.routes())
	t.Cleanup(b.srv.Close)
	return b
}

func (b *Backend) URL() string { return b.srv.URL }

func (b *Backend) Client() *backend.Client {
	return backend.New(b.srv.URL, 2*time.Second, nil, nil)
}

func (b *Backend) AddCategory(c catalog.Category) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.categories = append(b.categories, c)
}

func (b *Backend) AddProduct(p catalog.Product) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.products = append(b.products, p)
}

func (b *Backend) AddTable(number int) orders.Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := orders.Table{ID: uuid.NewString(), TableNumber: number, IsActive: true}
	b.tables = append(b.tables, t)
	return t
}

// OpenSession starts an ACTIVE session on a table.
func (b *Backend) OpenSession(tableID string) orders.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := orders.Session{ID: uuid.NewString(), TableID: tableID, Status: orders.SessionActive}
	b.sessions[s.ID] = s
	return s
}

func (b *Backend) AddWristband(code string, status orders.WristbandStatus) orders.Wristband {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := orders.Wristband{ID: uuid.NewString(), Code: code, Status: status}
	b.wristbands[code] = w
	return w
}

// AddOrder stores o as is (id and createdAt are filled when empty).
func (b *Backend) AddOrder(o orders.Order) orders.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	b.orders = append(b.orders, o)
	return o
}

func (b *Backend) SetStatus(orderID string, st orders.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.orders {
		if b.orders[i].ID == orderID {
			b.orders[i].Status = st
		}
	}
}

func (b *Backend) Order(id string) (orders.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.ID == id {
			return o, true
		}
	}
	return orders.Order{}, false
}

func (b *Backend) Orders() []orders.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]orders.Order(nil), b.orders...)
}

// Count returns how many requests hit the route pattern, e.g.
// "POST /orders".
func (b *Backend) Count(route string) int {
	b.cmu.Lock()
	defer b.cmu.Unlock()
	return b.calls[route]
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// counted before the answer leaves so callers see it at once
			next.ServeHTTP(&countingWriter{ResponseWriter: w, count: func() {
				pattern := chi.RouteContext(req.Context()).RoutePattern()
				b.cmu.Lock()
				b.calls[req.Method+" "+pattern]++
				b.cmu.Unlock()
			}}, req)
		})
	})

	r.Get("/products", b.listProducts)
	r.Get("/categories", b.listCategories)
	r.Patch("/products/{id}/sold-out", b.setSoldOut(true))
	r.Patch("/products/{id}/available", b.setSoldOut(false))
	r.Patch("/products/{id}/add-stock", b.addStock)
	r.Get("/tables", b.listTables)
	r.Get("/sessions/table/{tableId}/active", b.activeSession)
	r.Get("/wristbands/{code}", b.wristband)
	r.Post("/orders", b.createOrder)
	r.Get("/orders", b.ordersByStatus)
	r.Get("/orders/session/{sessionId}", b.ordersBySession)
	r.Patch("/orders/{id}/status", b.updateStatus)
	r.Delete("/orders/items/{itemId}", b.deleteItem)
	r.Post("/payments/close-bill", b.closeBill)
	r.Post("/cash-register/open", b.openRegister)
	r.Get("/cash-register/active-details", b.registerDetails)
	return r
}

type countingWriter struct {
	http.ResponseWriter
	count   func()
	counted bool
}

func (w *countingWriter) WriteHeader(code int) {
	if !w.counted {
		w.counted = true
		w.count()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if !w.counted {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *Backend) listProducts(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.products)
}

func (b *Backend) listCategories(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.categories)
}

func (b *Backend) setSoldOut(soldOut bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		id := chi.URLParam(r, "id")
		for i := range b.products {
			if b.products[i].ID == id {
				b.products[i].IsSoldOut = soldOut
				writeJSON(w, http.StatusOK, b.products[i])
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Product not found"})
	}
}

func (b *Backend) addStock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quantity"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := chi.URLParam(r, "id")
	for i := range b.products {
		if b.products[i].ID == id {
			n := body.Quantity
			if b.products[i].Stock != nil {
				n += *b.products[i].Stock
			}
			b.products[i].Stock = &n
			b.products[i].IsSoldOut = false
			writeJSON(w, http.StatusOK, b.products[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Product not found"})
}

func (b *Backend) listTables(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.tables)
}

func (b *Backend) activeSession(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tableID := chi.URLParam(r, "tableId")
	for _, s := range b.sessions {
		if s.TableID == tableID && s.Status == orders.SessionActive {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "No active session for this table"})
}

func (b *Backend) wristband(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wb, ok := b.wristbands[chi.URLParam(r, "code")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Wristband not found"})
		return
	}
	for _, o := range b.orders {
		if o.SessionID == wb.ID {
			wb.Orders = append(wb.Orders, o)
		}
	}
	writeJSON(w, http.StatusOK, wb)
}

// sessionKnownLocked reports whether id is an active session or wristband.
func (b *Backend) sessionKnownLocked(id string) bool {
	if s, ok := b.sessions[id]; ok {
		return s.Status == orders.SessionActive
	}
	for _, wb := range b.wristbands {
		if wb.ID == id {
			return wb.Status == orders.WristbandActive
		}
	}
	return false
}

func (b *Backend) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateOrderError != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": b.CreateOrderError})
		return
	}
	if !b.sessionKnownLocked(req.SessionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found or closed"})
		return
	}
	o := orders.Order{
		ID:          uuid.NewString(),
		Status:      orders.StatusPending,
		CreatedAt:   time.Now().UTC(),
		SessionID:   req.SessionID,
		TotalAmount: decimal.Zero,
	}
	for _, it := range req.Items {
		p, ok := catalog.Find(b.products, it.ProductID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Product " + it.ProductID + " not found"})
			return
		}
		line := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.OrderItems = append(o.OrderItems, orders.OrderItem{
			ID: uuid.NewString(), ProductID: p.ID, Quantity: it.Quantity,
			UnitPrice: p.Price, TotalPrice: line, Product: p,
		})
		o.TotalAmount = o.TotalAmount.Add(line)
	}
	b.orders = append(b.orders, o)
	writeJSON(w, http.StatusCreated, o)
}

func (b *Backend) ordersByStatus(w http.ResponseWriter, r *http.Request) {
	if b.StatusDelay > 0 {
		time.Sleep(b.StatusDelay)
	}
	st := orders.Status(r.URL.Query().Get("status"))
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []orders.Order{}
	for _, o := range b.orders {
		if st == "" || o.Status == st {
			out = append(out, o)
		}
	}
	// newest first, the client must not rely on backend order
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) ordersBySession(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := chi.URLParam(r, "sessionId")
	s, ok := b.sessions[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	details := backend.SessionDetails{Session: s, Orders: []orders.Order{}}
	for i := range b.tables {
		if b.tables[i].ID == s.TableID {
			t := b.tables[i]
			details.Table = &t
		}
	}
	for _, o := range b.orders {
		if o.SessionID == id {
			details.Orders = append(details.Orders, o)
		}
	}
	writeJSON(w, http.StatusOK, details)
}

func (b *Backend) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status orders.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.orders {
		if b.orders[i].ID == chi.URLParam(r, "id") {
			b.orders[i].Status = body.Status
			writeJSON(w, http.StatusOK, b.orders[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Order not found"})
}

func (b *Backend) deleteItem(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	itemID := chi.URLParam(r, "itemId")
	for i := range b.orders {
		for j, it := range b.orders[i].OrderItems {
			if it.ID != itemID {
				continue
			}
			o := &b.orders[i]
			o.OrderItems = append(o.OrderItems[:j], o.OrderItems[j+1:]...)
			o.TotalAmount = o.TotalAmount.Sub(it.TotalPrice)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Item not found"})
}

func (b *Backend) closeBill(w http.ResponseWriter, r *http.Request) {
	var req backend.CloseBillReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.sessionKnownLocked(req.SessionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Session not found or already closed"})
		return
	}
	var mine []orders.Order
	for i := range b.orders {
		if b.orders[i].SessionID == req.SessionID {
			mine = append(mine, b.orders[i])
			if b.orders[i].Status != orders.StatusCancelled {
				b.orders[i].Status = orders.StatusPaid
			}
		}
	}
	if s, ok := b.sessions[req.SessionID]; ok {
		s.Status = orders.SessionClosed
		b.sessions[req.SessionID] = s
	}
	for code, wb := range b.wristbands {
		if wb.ID == req.SessionID {
			wb.Status = orders.WristbandPaid
			b.wristbands[code] = wb
		}
	}
	writeJSON(w, http.StatusCreated, backend.CloseBillResp{Payment: backend.Payment{
		ID: uuid.NewString(), Amount: orders.SumTotals(mine), Method: req.PaymentMethod,
	}})
}

func (b *Backend) openRegister(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.register != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Cash register already open"})
		return
	}
	b.register = &backend.CashRegister{ID: uuid.NewString(), OpenedAt: time.Now().UTC()}
	writeJSON(w, http.StatusCreated, b.register)
}

func (b *Backend) registerDetails(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.register == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "No open cash register"})
		return
	}
	writeJSON(w, http.StatusOK, b.register)
}
