package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/cart"
	"github.com/ariefcatur/rockband-pos/internal/catalog"
	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/google/uuid"
)

var ErrSubmitInProgress = errors.New("a submission is already in progress for this terminal")

// Locker guards a terminal against a double submit, also across
// processes when backed by Redis.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

const submitLockTTL = 30 * time.Second

const msgSubmitted = "Items added to the order."

// Terminal is the state of one cashier station: the cart being built,
// the table or wristband it is bound to, and the last message shown to
// the operator. It is created per station and passed explicitly.
type Terminal struct {
	ID string

	cart     *cart.Cart
	resolver *Resolver
	locker   Locker
	log      *slog.Logger

	mu      sync.Mutex
	ref     string
	message string
}

func NewTerminal(id string, r *Resolver, locker Locker, log *slog.Logger) *Terminal {
	if log == nil {
		log = logging.Discard()
	}
	return &Terminal{
		ID:       id,
		cart:     cart.New(),
		resolver: r,
		locker:   locker,
		log:      log.With("terminal", id),
	}
}

func (t *Terminal) Cart() *cart.Cart { return t.cart }

func (t *Terminal) Bind(ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ref = ref
	t.message = ""
}

func (t *Terminal) Ref() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ref
}

func (t *Terminal) Message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

func (t *Terminal) setMessage(m string) {
	t.mu.Lock()
	t.message = m
	t.mu.Unlock()
}

func (t *Terminal) AddItem(p catalog.Product, quantity int) []cart.Line {
	t.setMessage("")
	return t.cart.AddItem(p, quantity)
}

// Submit resolves the bound reference and sends the cart as one order.
// On success the submitted quantities leave the cart and the binding is
// reset. Items added while the order was in flight stay in the cart,
// bound to the same reference. On failure the cart is kept untouched and
// the operator message carries the reason.
func (t *Terminal) Submit(ctx context.Context) (orders.Order, error) {
	ref := t.Ref()
	if ref == "" {
		err := backend.ValidationError("select a table or wristband first")
		t.setMessage(backend.UserMessage(err))
		return orders.Order{}, err
	}
	if t.cart.Empty() {
		err := backend.ValidationError("cart is empty")
		t.setMessage(backend.UserMessage(err))
		return orders.Order{}, err
	}

	if t.locker != nil {
		unlock, err := t.locker.TryLock(ctx, "submit:"+t.ID, submitLockTTL)
		if err != nil {
			t.setMessage(err.Error())
			return orders.Order{}, err
		}
		defer unlock()
	}

	sessionID, err := t.resolver.Resolve(ctx, ref)
	if err != nil {
		t.log.Info("session resolution failed", "ref", ref, "err", err)
		t.setMessage(backend.UserMessage(err))
		return orders.Order{}, err
	}

	items := cart.Group(t.cart.Lines())
	o, err := t.resolver.SubmitOrder(ctx, sessionID, items)
	if err != nil {
		t.setMessage(backend.UserMessage(err))
		return orders.Order{}, err
	}

	left := t.cart.Subtract(items)
	t.mu.Lock()
	if len(left) == 0 && t.ref == ref {
		t.ref = ""
	}
	t.message = msgSubmitted
	t.mu.Unlock()
	return o, nil
}

// Consumption resolves the bound reference and returns its history. A
// reference without an active session has consumed nothing yet.
func (t *Terminal) Consumption(ctx context.Context) (Consumption, error) {
	ref := t.Ref()
	sessionID, err := t.resolver.Resolve(ctx, ref)
	if errors.Is(err, backend.ErrNoActiveSession) {
		return Consumption{Orders: []orders.Order{}}, nil
	}
	if err != nil {
		t.setMessage(backend.UserMessage(err))
		return Consumption{}, err
	}
	return t.resolver.FetchConsumption(ctx, sessionID)
}

// Registry hands out one Terminal per station id.
type Registry struct {
	resolver *Resolver
	locker   Locker
	log      *slog.Logger

	mu        sync.Mutex
	terminals map[string]*Terminal
}

func NewRegistry(r *Resolver, locker Locker, log *slog.Logger) *Registry {
	return &Registry{resolver: r, locker: locker, log: log, terminals: map[string]*Terminal{}}
}

func (r *Registry) Get(id string) *Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.terminals[id]
	if !ok {
		t = NewTerminal(id, r.resolver, r.locker, r.log)
		r.terminals[id] = t
	}
	return t
}

func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.terminals, id)
}

// MemLocker is the in-process Locker used when no Redis is configured.
type MemLocker struct {
	mu   sync.Mutex
	held map[string]memLock
}

type memLock struct {
	token string
	exp   time.Time
}

func (l *MemLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]memLock{}
	}
	if cur, ok := l.held[key]; ok && time.Now().Before(cur.exp) {
		return nil, ErrSubmitInProgress
	}
	token := uuid.NewString()
	l.held[key] = memLock{token: token, exp: time.Now().Add(ttl)}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// an expired lock may already belong to another submit
		if l.held[key].token == token {
			delete(l.held, key)
		}
	}, nil
}
