// Package cart accumulates the cashier's selections before they become
// an order. It never touches the network.
package cart

import (
	"sync"

	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/shopspring/decimal"
)

type Line struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart keeps one line per product in first-insertion order.
type Cart struct {
	mu    sync.Mutex
	order []string
	lines map[string]*Line
}

func New() *Cart {
	return &Cart{lines: map[string]*Line{}}
}

// AddItem adds quantity units of p and returns the resulting lines.
// Nothing changes when quantity <= 0, when p cannot be ordered, or when
// tracked stock is already used up by the cart. Otherwise the quantity
// is clamped to what is left: the remaining tracked stock, or
// catalog.UntrackedStockCap per call when stock is not tracked.
func (c *Cart) AddItem(p catalog.Product, quantity int) []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	if quantity <= 0 || p.ID == "" || !p.Orderable() {
		return c.snapshot()
	}

	existing := c.lines[p.ID]
	remaining := p.Available()
	if p.Tracked() && existing != nil {
		remaining -= existing.Quantity
	}
	if remaining <= 0 {
		return c.snapshot()
	}
	quantity = max(1, min(quantity, remaining))

	if existing == nil {
		c.order = append(c.order, p.ID)
		c.lines[p.ID] = &Line{Product: p, Quantity: quantity}
	} else {
		// keep the freshest snapshot of the product (stock, price)
		existing.Product = p
		existing.Quantity += quantity
	}
	return c.snapshot()
}

// RemoveItem drops the whole line of productID.
func (c *Cart) RemoveItem(productID string) []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[productID]; ok {
		delete(c.lines, productID)
		for i, id := range c.order {
			if id == productID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	return c.snapshot()
}

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Cart) Quantity(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lines[productID]; ok {
		return l.Quantity
	}
	return 0
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func (c *Cart) Empty() bool { return c.Len() == 0 }

// Total is the exact sum of unit price × quantity over every line.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Total(c.snapshot())
}

// GroupForSubmission returns one entry per product with its summed quantity.
func (c *Cart) GroupForSubmission() []orders.ItemInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Group(c.snapshot())
}

// Subtract takes the submitted quantities out of the cart. Units added
// after the submission was taken stay in their lines.
func (c *Cart) Subtract(items []orders.ItemInput) []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range items {
		l, ok := c.lines[it.ProductID]
		if !ok {
			continue
		}
		l.Quantity -= it.Quantity
		if l.Quantity > 0 {
			continue
		}
		delete(c.lines, it.ProductID)
		for i, id := range c.order {
			if id == it.ProductID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	return c.snapshot()
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.lines = map[string]*Line{}
}

func (c *Cart) snapshot() []Line {
	out := make([]Line, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.lines[id])
	}
	return out
}

func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Group merges lines of the same product, keeping first-seen order.
func Group(lines []Line) []orders.ItemInput {
	idx := make(map[string]int, len(lines))
	out := make([]orders.ItemInput, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.Product.ID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.Product.ID] = len(out)
		out = append(out, orders.ItemInput{ProductID: l.Product.ID, Quantity: l.Quantity})
	}
	return out
}
