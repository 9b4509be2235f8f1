package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/segmentio/kafka-go"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// memReader serves msgs once and then reports io.EOF.
type memReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *memReader) Close() error { return nil }

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func TestEnvelopeMessage_KeyBySession(t *testing.T) {
	t.Parallel()

	cases := []struct {
		env  orders.Envelope
		want string
	}{
		{orders.Envelope{Type: orders.EventNewOrder, Payload: json.RawMessage(`{"id":"o-1","sessionId":"s-1"}`)}, "s-1"},
		{orders.Envelope{Type: orders.EventOrderStatusUpdated, Payload: json.RawMessage(`{"id":"o-2"}`)}, "o-2"},
		{orders.Envelope{Type: orders.EventSessionClosed, Payload: json.RawMessage(`{"sessionId":"s-1"}`)}, "s-1"},
		{orders.Envelope{Type: orders.EventUpdateOrder, Payload: json.RawMessage(`"x"`)}, ""},
	}
	for _, c := range cases {
		m, err := EnvelopeMessage(c.env)
		if err != nil {
			t.Fatalf("%s: %v", c.env.Type, err)
		}
		if string(m.Key) != c.want {
			t.Errorf("%s: key = %q, want %q", c.env.Type, m.Key, c.want)
		}
		if len(m.Headers) != 1 || string(m.Headers[0].Value) != c.env.Type {
			t.Errorf("%s: headers = %+v", c.env.Type, m.Headers)
		}
	}
}

func TestProducer_PublishEnvelopeStampsAndFlushes(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	p := newProducer(w, "kitchen-bridge", 8, nil)
	p.Start(context.Background())

	p.PublishEnvelope(context.Background(), orders.Envelope{
		Type:    orders.EventNewOrder,
		Payload: json.RawMessage(`{"id":"o-1"}`),
	})
	p.Close()
	p.Close()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed || len(w.msgs) != 1 {
		t.Fatalf("closed = %v, msgs = %d", w.closed, len(w.msgs))
	}
	env, err := DecodeMessage(w.msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EventID == "" || env.OccurredAt.IsZero() || env.Producer != "kitchen-bridge" {
		t.Fatalf("envelope not stamped: %+v", env)
	}
	if string(w.msgs[0].Key) != "o-1" {
		t.Fatalf("key = %q", w.msgs[0].Key)
	}

	// after Close publishing is a logged no-op
	p.Publish([]byte("k"), []byte("v"))
}

func TestProducer_ContextCancelFlushes(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	p := newProducer(w, "kitchen-bridge", 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Publish([]byte("k"), []byte(`{}`))
	cancel()

	select {
	case <-p.closeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop on cancel")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) != 1 {
		t.Fatalf("msgs = %d", len(w.msgs))
	}
}

func TestProducer_PublishRacingClose(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	p := newProducer(w, "kitchen-bridge", 4, nil)
	p.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Publish([]byte("k"), []byte(`{}`))
			}
		}()
	}
	p.Close()
	wg.Wait()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed || len(w.msgs) > 400 {
		t.Fatalf("closed = %v, msgs = %d", w.closed, len(w.msgs))
	}
}

func TestConsumer_FeedsEnvelopesAndCommits(t *testing.T) {
	t.Parallel()

	env := func(id, typ string) []byte {
		b, _ := json.Marshal(orders.Envelope{Type: typ, EventID: id, Payload: json.RawMessage(`{"id":"o-1"}`)})
		return b
	}
	r := &memReader{msgs: []kafka.Message{
		{Offset: 1, Value: env("e1", orders.EventNewOrder)},
		{Offset: 2, Value: []byte("not json")},
		{Offset: 3, Value: env("e1", orders.EventNewOrder)},
		{Offset: 4, Value: env("e2", orders.EventOrderStatusUpdated)},
		{Offset: 5, Value: env("e3", "PING")},
	}}

	var mu sync.Mutex
	var got []string
	h := EnvelopeHandler(func(_ context.Context, e orders.Envelope) {
		mu.Lock()
		got = append(got, e.EventID)
		mu.Unlock()
	}, &memDedup{}, nil)

	if err := newConsumer(r, 1, nil).Start(context.Background(), h); err != nil {
		t.Fatalf("start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "e1" || got[1] != "e2" {
		t.Fatalf("handled = %v", got)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.committed) != 5 {
		t.Fatalf("committed = %v, skipped records must be committed", r.committed)
	}
}

type failingDedup struct{}

func (failingDedup) FirstSeen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestConsumer_DedupFailureLeavesOffset(t *testing.T) {
	t.Parallel()

	b, _ := json.Marshal(orders.Envelope{Type: orders.EventNewOrder, EventID: "e1", Payload: json.RawMessage(`{}`)})
	r := &memReader{msgs: []kafka.Message{{Offset: 7, Value: b}}}
	called := false
	h := EnvelopeHandler(func(context.Context, orders.Envelope) { called = true }, failingDedup{}, nil)

	if err := newConsumer(r, 1, nil).Start(context.Background(), h); err != nil {
		t.Fatalf("start: %v", err)
	}
	if called || len(r.committed) != 0 {
		t.Fatalf("called = %v, committed = %v", called, r.committed)
	}
}
