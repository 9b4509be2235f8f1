package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/cart"
	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/ariefcatur/rockband-pos/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const defaultTerminal = "default"

type lineView struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type cartView struct {
	Terminal string          `json:"terminal"`
	Ref      string          `json:"ref"`
	Lines    []lineView      `json:"lines"`
	Total    decimal.Decimal `json:"total"`
	Message  string          `json:"message,omitempty"`
}

type addItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type bindReq struct {
	Ref string `json:"ref"`
}

func (h *Handler) terminal(r *http.Request) *session.Terminal {
	id := strings.TrimSpace(r.Header.Get(h.TerminalHeader))
	if id == "" {
		id = defaultTerminal
	}
	return h.Terminals.Get(id)
}

func viewOf(t *session.Terminal, lines []cart.Line) cartView {
	v := cartView{
		Terminal: t.ID,
		Ref:      t.Ref(),
		Lines:    make([]lineView, 0, len(lines)),
		Total:    cart.Total(lines),
		Message:  t.Message(),
	}
	for _, l := range lines {
		v.Lines = append(v.Lines, lineView{
			ProductID: l.Product.ID,
			Name:      l.Product.Name,
			UnitPrice: l.Product.Price,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal(),
		})
	}
	return v
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	t := h.terminal(r)
	writeJSON(w, http.StatusOK, viewOf(t, t.Cart().Lines()))
}

// addItem reads the product from the backend so stock and sold-out flags
// are current when the clamp is applied.
func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		writeError(w, backend.ValidationError("productId and a positive quantity are required"))
		return
	}
	ps, err := h.API.ListProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	p, ok := catalog.Find(ps, req.ProductID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}

	t := h.terminal(r)
	before := t.Cart().Quantity(p.ID)
	lines := t.AddItem(p, req.Quantity)
	if t.Cart().Quantity(p.ID) == before {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": p.Name + " is not available in the requested quantity",
			"cart":  viewOf(t, lines),
		})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t, lines))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	t := h.terminal(r)
	lines := t.Cart().RemoveItem(chi.URLParam(r, "productId"))
	writeJSON(w, http.StatusOK, viewOf(t, lines))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	t := h.terminal(r)
	t.Cart().Clear()
	writeJSON(w, http.StatusOK, viewOf(t, nil))
}

func (h *Handler) bindSession(w http.ResponseWriter, r *http.Request) {
	var req bindReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if _, err := session.ParseRef(req.Ref); err != nil {
		writeError(w, err)
		return
	}
	t := h.terminal(r)
	t.Bind(strings.TrimSpace(req.Ref))
	writeJSON(w, http.StatusOK, viewOf(t, t.Cart().Lines()))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	t := h.terminal(r)
	o, err := t.Submit(r.Context())
	if err != nil {
		writeJSON(w, errorStatus(err), map[string]any{
			"error": t.Message(),
			"cart":  viewOf(t, t.Cart().Lines()),
		})
		return
	}
	h.Log.Info("terminal order submitted", "terminal", t.ID, "order_id", o.ID, "session_id", o.SessionID)
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) terminalConsumption(w http.ResponseWriter, r *http.Request) {
	c, err := h.terminal(r).Consumption(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
