// Package board keeps the kitchen and waiter view of live orders.
//
// Orders are split into three partitions by status. Push events either
// insert a new order, purge a closed session or invalidate the whole
// board, in which case every partition is fetched again from the
// backend and replaced as a unit.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/metrics"
	"github.com/ariefcatur/rockband-pos/internal/orders"
)

type Partition string

const (
	Pending   Partition = "pending"
	Preparing Partition = "preparing"
	Ready     Partition = "ready"
)

var Partitions = []Partition{Pending, Preparing, Ready}

// partitionStatuses lists what each partition is fetched from. DELIVERED,
// CONFIRMED and PAID orders are not shown.
var partitionStatuses = map[Partition][]orders.Status{
	Pending:   {orders.StatusPending, orders.StatusCancelled},
	Preparing: {orders.StatusPreparing},
	Ready:     {orders.StatusReady},
}

// PartitionOf returns the partition an order in status s belongs to.
func PartitionOf(s orders.Status) (Partition, bool) {
	for p, sts := range partitionStatuses {
		for _, st := range sts {
			if st == s {
				return p, true
			}
		}
	}
	return "", false
}

const DefaultRefetchTimeout = 10 * time.Second

// closedRetention is how long a closed session keeps late NEW_ORDER
// events off the board.
const closedRetention = time.Hour

var ErrClosed = errors.New("board closed")

type Backend interface {
	OrdersByStatus(ctx context.Context, status orders.Status) ([]orders.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error)
	DeleteOrderItem(ctx context.Context, itemID string) error
}

type Snapshot struct {
	Pending   []orders.Order `json:"pending"`
	Preparing []orders.Order `json:"preparing"`
	Ready     []orders.Order `json:"ready"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (s Snapshot) Partition(p Partition) []orders.Order {
	switch p {
	case Pending:
		return s.Pending
	case Preparing:
		return s.Preparing
	case Ready:
		return s.Ready
	}
	return nil
}

func (s Snapshot) Len() int { return len(s.Pending) + len(s.Preparing) + len(s.Ready) }

// closure records the refetch seq and wall time of a SESSION_CLOSED.
type closure struct {
	seq uint64
	at  time.Time
}

type Board struct {
	api            Backend
	log            *slog.Logger
	metrics        *metrics.Metrics
	RefetchTimeout time.Duration

	// life is cancelled by Close so in-flight refetches stop early.
	life   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	parts     map[Partition][]orders.Order
	seq       uint64
	applied   map[Partition]uint64
	closedAt  map[string]closure
	updatedAt time.Time
	subs      map[int]func(Snapshot)
	nextSub   int
}

func New(api Backend, log *slog.Logger, m *metrics.Metrics) *Board {
	if log == nil {
		log = logging.Discard()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Board{
		api:            api,
		log:            log,
		metrics:        m,
		RefetchTimeout: DefaultRefetchTimeout,
		life:           life,
		cancel:         cancel,
		parts:          map[Partition][]orders.Order{},
		applied:        map[Partition]uint64{},
		closedAt:       map[string]closure{},
		subs:           map[int]func(Snapshot){},
	}
}

// Subscribe registers fn to receive a snapshot after every change. fn
// runs on the goroutine that made the change.
func (b *Board) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Board) snapshotLocked() Snapshot {
	cp := func(p Partition) []orders.Order {
		return append([]orders.Order{}, b.parts[p]...)
	}
	return Snapshot{
		Pending:   cp(Pending),
		Preparing: cp(Preparing),
		Ready:     cp(Ready),
		UpdatedAt: b.updatedAt,
	}
}

// Close stops the board. Events and refetch results arriving afterwards
// are dropped.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = map[int]func(Snapshot){}
	b.mu.Unlock()
	b.cancel()
}

func (b *Board) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Handle folds one push event into the board. It has the signature of a
// realtime.Handler and never returns an error: bad events are logged.
func (b *Board) Handle(ctx context.Context, env orders.Envelope) {
	if b.Closed() {
		b.metrics.ObservePush(env.Type, "dropped")
		return
	}

	switch env.Type {
	case orders.EventNewOrder:
		o, err := orders.UnwrapPayload[orders.Order](env.Payload)
		if err == nil && o.ID == "" {
			err = errors.New("order without id")
		}
		if err != nil {
			b.log.Warn("ignoring malformed push event", "type", env.Type, "err", err)
			b.metrics.ObservePush(env.Type, "malformed")
			return
		}
		b.insert(o)

	case orders.EventUpdateOrder, orders.EventOrderStatusUpdated:
		if err := b.refetch(ctx); err != nil {
			b.log.Warn("board refetch after push failed", "type", env.Type, "err", err)
		}

	case orders.EventSessionClosed:
		p, err := orders.UnwrapPayload[orders.SessionClosedPayload](env.Payload)
		if err == nil && p.SessionID == "" {
			err = errors.New("missing sessionId")
		}
		if err != nil {
			b.log.Warn("ignoring malformed push event", "type", env.Type, "err", err)
			b.metrics.ObservePush(env.Type, "malformed")
			return
		}
		b.purgeSession(p.SessionID)

	default:
		b.log.Info("ignoring unknown push event", "type", env.Type)
		b.metrics.ObservePush(env.Type, "ignored")
		return
	}
	b.metrics.ObservePush(env.Type, "applied")
}

// Refresh fetches every partition again. It is the initial load and the
// recovery path after a reconnect.
func (b *Board) Refresh(ctx context.Context) error {
	return b.refetch(ctx)
}

func (b *Board) insert(o orders.Order) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if _, ok := b.closedAt[o.SessionID]; ok && o.SessionID != "" {
		b.mu.Unlock()
		b.log.Debug("dropping order of closed session", "order_id", o.ID, "session_id", o.SessionID)
		return
	}
	cur := b.parts[Pending]
	next := make([]orders.Order, 0, len(cur)+1)
	for _, existing := range cur {
		if existing.ID != o.ID {
			next = append(next, existing)
		}
	}
	next = append(next, o)
	sortFIFO(next)
	b.parts[Pending] = next
	b.log.Debug("order added to board", "order_id", o.ID, "session_id", o.SessionID)
	b.changedLocked()
}

func (b *Board) purgeSession(sessionID string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closedAt[sessionID] = closure{seq: b.seq, at: time.Now()}
	removed := 0
	for _, p := range Partitions {
		cur := b.parts[p]
		next := make([]orders.Order, 0, len(cur))
		for _, o := range cur {
			if o.SessionID == sessionID {
				removed++
				continue
			}
			next = append(next, o)
		}
		b.parts[p] = next
	}
	b.log.Debug("session removed from board", "session_id", sessionID, "orders", removed)
	b.changedLocked()
}

// refetch replaces each partition with what the backend reports. A
// partition whose fetch fails keeps its previous content. Results of a
// refetch that started before a newer one already applied are dropped.
func (b *Board) refetch(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-b.life.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	var errs []error
	for _, p := range Partitions {
		list, err := b.fetchPartition(ctx, p)
		b.metrics.ObserveRefetch(string(p), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("refetch %s: %w", p, err))
			continue
		}
		if !b.apply(p, seq, list) {
			return ErrClosed
		}
	}

	if len(errs) == 0 {
		b.mu.Lock()
		cutoff := time.Now().Add(-closedRetention)
		for id, c := range b.closedAt {
			if c.seq < seq && c.at.Before(cutoff) {
				delete(b.closedAt, id)
			}
		}
		b.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (b *Board) fetchPartition(ctx context.Context, p Partition) ([]orders.Order, error) {
	timeout := b.RefetchTimeout
	if timeout <= 0 {
		timeout = DefaultRefetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []orders.Order
	for _, st := range partitionStatuses[p] {
		list, err := b.api.OrdersByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		// the backend filter is trusted only as far as the partition goes
		for _, o := range list {
			if got, ok := PartitionOf(o.Status); ok && got == p {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

// apply reports false once the board is closed.
func (b *Board) apply(p Partition, seq uint64, list []orders.Order) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if seq < b.applied[p] {
		b.mu.Unlock()
		b.log.Debug("dropping stale refetch", "partition", p, "seq", seq)
		return true
	}
	b.applied[p] = seq

	next := make([]orders.Order, 0, len(list))
	seen := map[string]bool{}
	for _, o := range list {
		if c, ok := b.closedAt[o.SessionID]; ok && seq <= c.seq {
			continue
		}
		if seen[o.ID] {
			continue
		}
		seen[o.ID] = true
		next = append(next, o)
	}
	sortFIFO(next)
	b.parts[p] = next
	b.changedLocked()
	return true
}

// changedLocked publishes a snapshot and releases b.mu.
func (b *Board) changedLocked() {
	b.updatedAt = time.Now().UTC()
	snap := b.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// lookup finds an order on the board, or among CONFIRMED orders which
// staff can act on but the board does not show.
func (b *Board) lookup(ctx context.Context, orderID string) (orders.Order, error) {
	if o, ok := b.find(orderID); ok {
		return o, nil
	}
	confirmed, err := b.api.OrdersByStatus(ctx, orders.StatusConfirmed)
	if err != nil {
		return orders.Order{}, err
	}
	for _, o := range confirmed {
		if o.ID == orderID && o.Status == orders.StatusConfirmed {
			return o, nil
		}
	}
	return orders.Order{}, fmt.Errorf("order %s is not on the board: %w", orderID, backend.ErrNotFound)
}

func (b *Board) find(orderID string) (orders.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range Partitions {
		for _, o := range b.parts[p] {
			if o.ID == orderID {
				return o, true
			}
		}
	}
	return orders.Order{}, false
}

// Advance moves an order shown on the board to status to. The move is
// checked against the transition table before the backend is called;
// the board is refetched afterwards.
func (b *Board) Advance(ctx context.Context, orderID string, to orders.Status) (orders.Order, error) {
	if b.Closed() {
		return orders.Order{}, ErrClosed
	}
	if !to.Valid() {
		return orders.Order{}, backend.ValidationError("unknown status %q", to)
	}
	cur, err := b.lookup(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if err := orders.CheckTransition(cur.Status, to); err != nil {
		return orders.Order{}, err
	}

	updated, err := b.api.UpdateOrderStatus(ctx, orderID, to)
	if err != nil {
		b.log.Warn("status update failed", "order_id", orderID, "from", cur.Status, "to", to, "err", err)
		return orders.Order{}, err
	}
	b.log.Info("order status updated", "order_id", orderID, "from", cur.Status, "to", to)
	if err := b.refetch(ctx); err != nil && !errors.Is(err, ErrClosed) {
		b.log.Warn("board refetch after status update failed", "err", err)
	}
	return updated, nil
}

// RemoveItem deletes one item of an order that the kitchen has not
// started yet.
func (b *Board) RemoveItem(ctx context.Context, orderID, itemID string) error {
	if b.Closed() {
		return ErrClosed
	}
	if itemID == "" {
		return backend.ValidationError("item id is required")
	}
	cur, err := b.lookup(ctx, orderID)
	if err != nil {
		return err
	}
	if !cur.Status.Editable() {
		return backend.ValidationError("items of a %s order can no longer be removed", cur.Status)
	}
	found := false
	for _, it := range cur.OrderItems {
		if it.ID == itemID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("item %s of order %s: %w", itemID, orderID, backend.ErrNotFound)
	}

	if err := b.api.DeleteOrderItem(ctx, itemID); err != nil {
		b.log.Warn("item removal failed", "order_id", orderID, "item_id", itemID, "err", err)
		return err
	}
	b.log.Info("order item removed", "order_id", orderID, "item_id", itemID)
	if err := b.refetch(ctx); err != nil && !errors.Is(err, ErrClosed) {
		b.log.Warn("board refetch after item removal failed", "err", err)
	}
	return nil
}

func sortFIFO(list []orders.Order) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
