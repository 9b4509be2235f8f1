package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/board"
	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/metrics"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/ariefcatur/rockband-pos/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// SnapshotCache is the shared board written by the kitchen process.
type SnapshotCache interface {
	Load(ctx context.Context) (board.Snapshot, bool, error)
	Save(ctx context.Context, snap board.Snapshot) error
}

type Handler struct {
	API       *backend.Client
	Resolver  *session.Resolver
	Terminals *session.Registry
	// Snapshots may be nil; GET /board then always asks the backend.
	Snapshots      SnapshotCache
	TerminalHeader string
	Log            *slog.Logger
	Metrics        *metrics.Metrics
}

func (h *Handler) Register(r *chi.Mux) {
	if h.Log == nil {
		h.Log = logging.Discard()
	}
	if h.TerminalHeader == "" {
		h.TerminalHeader = "X-Terminal-ID"
	}

	r.Get("/menu", h.getMenu)
	r.Get("/board", h.getBoard)
	r.Get("/consumption/{sessionId}", h.getConsumption)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Delete("/orders/{id}/items/{itemId}", h.removeItem)
	r.Post("/bills/close", h.closeBill)

	r.Route("/terminal", func(r chi.Router) {
		r.Get("/cart", h.getCart)
		r.Post("/cart/items", h.addItem)
		r.Delete("/cart/items/{productId}", h.removeCartItem)
		r.Delete("/cart", h.clearCart)
		r.Put("/session", h.bindSession)
		r.Post("/submit", h.submit)
		r.Get("/consumption", h.terminalConsumption)
	})

	h.registerAdmin(r)
}

func (h *Handler) getMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ps, err := h.API.ListProducts(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	cs, err := h.API.ListCategories(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, catalog.Menu(ps, cs, catalog.Filter{
		CategoryID: q.Get("category"),
		Search:     q.Get("q"),
	}))
}

func (h *Handler) getBoard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// 1) shared snapshot
	if h.Snapshots != nil {
		snap, ok, err := h.Snapshots.Load(ctx)
		if err != nil {
			h.Log.Warn("board snapshot unavailable", "err", err)
		}
		if ok {
			w.Header().Set("X-Board-Source", "cache")
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	// 2) fallback backend
	b, err := h.loadBoard(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	defer b.Close()
	h.saveBoard(ctx, b)
	snap := b.Snapshot()
	w.Header().Set("X-Board-Source", "backend")
	writeJSON(w, http.StatusOK, snap)
}

// loadBoard builds a board for one request. Staff actions go through it
// so the transition table is checked against fresh statuses.
func (h *Handler) loadBoard(ctx context.Context) (*board.Board, error) {
	b := board.New(h.API, h.Log, h.Metrics)
	if err := b.Refresh(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// saveBoard writes the board refreshed by a staff action back to the
// shared snapshot so GET /board does not serve the view before it.
func (h *Handler) saveBoard(ctx context.Context, b *board.Board) {
	if h.Snapshots == nil {
		return
	}
	if err := h.Snapshots.Save(ctx, b.Snapshot()); err != nil {
		h.Log.Warn("board snapshot not saved", "err", err)
	}
}

func (h *Handler) getConsumption(w http.ResponseWriter, r *http.Request) {
	c, err := h.Resolver.FetchConsumption(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type updateStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if _, err := orders.ParseStatus(string(req.Status)); err != nil {
		writeError(w, backend.ValidationError("%v", err))
		return
	}
	b, err := h.loadBoard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer b.Close()

	o, err := b.Advance(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	h.saveBoard(r.Context(), b)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	b, err := h.loadBoard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer b.Close()

	if err := b.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId")); err != nil {
		writeError(w, err)
		return
	}
	h.saveBoard(r.Context(), b)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) closeBill(w http.ResponseWriter, r *http.Request) {
	var req backend.CloseBillReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	resp, err := h.API.CloseBill(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.Log.Info("bill closed", "session_id", req.SessionID, "method", req.PaymentMethod, "amount", resp.Payment.Amount.String())
	writeJSON(w, http.StatusOK, resp)
}

// registerAdmin exposes the inventory, table, wristband and cash
// register operations of the management screens.
func (h *Handler) registerAdmin(r *chi.Mux) {
	r.Patch("/products/{id}/sold-out", h.productAction(h.API.MarkSoldOut))
	r.Patch("/products/{id}/available", h.productAction(h.API.MarkAvailable))
	r.Post("/products/{id}/stock", h.addStock)
	r.Get("/tables", h.listTables)
	r.Post("/tables", h.createTable)
	r.Get("/wristbands", h.listWristbands)
	r.Post("/wristbands", h.createWristband)
	r.Get("/overview/sessions", h.overview)
	r.Post("/cash-register/open", h.openRegister)
	r.Get("/cash-register", h.activeRegister)
	r.Post("/cash-register/close", h.closeRegister)
}

func (h *Handler) productAction(fn func(context.Context, string) (catalog.Product, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	p, err := h.API.AddStock(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	ts, err := h.API.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *Handler) createTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableNumber json.Number `json:"tableNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	n, err := strconv.Atoi(req.TableNumber.String())
	if err != nil {
		writeError(w, backend.ValidationError("invalid table number %q", req.TableNumber))
		return
	}
	t, err := h.API.CreateTable(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) listWristbands(w http.ResponseWriter, r *http.Request) {
	ws, err := h.API.ListWristbands(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *Handler) createWristband(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code   string `json:"code"`
		QRCode string `json:"qrCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	wb, err := h.API.CreateWristband(r.Context(), req.Code, req.QRCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wb)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	ss, err := h.API.ActiveSessionsOverview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

func (h *Handler) openRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitialValue decimal.Decimal `json:"initialValue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	alreadyOpen, err := h.API.OpenCashRegister(r.Context(), req.InitialValue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"alreadyOpen": alreadyOpen})
}

func (h *Handler) activeRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := h.API.ActiveCashRegister(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if reg == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no cash register is open"})
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *Handler) closeRegister(w http.ResponseWriter, r *http.Request) {
	if err := h.API.CloseCashRegister(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
