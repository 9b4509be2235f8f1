package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer republishes push events for other displays. Publish never
// blocks the push channel for longer than the inbox takes to drain.
type Producer struct {
	w       messageWriter
	name    string
	log     *slog.Logger
	inbox   chan kafka.Message
	done    chan struct{} // closed by Close, the inbox never is
	closeCh chan struct{}
	once    sync.Once
}

func NewProducer(brokers []string, topic, name string, buf int, log *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newProducer(w, name, buf, log)
}

func newProducer(w messageWriter, name string, buf int, log *slog.Logger) *Producer {
	if log == nil {
		log = logging.Discard()
	}
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:       w,
		name:    name,
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop. Cancelling ctx has the same effect as Close.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-p.done:
				p.drain()
				if err := p.w.Close(); err != nil {
					p.log.Warn("kafka writer close failed", "err", err)
				}
				return
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka publish failed", "key", string(m.Key), "err", err)
	}
}

// drain writes what was queued before Close.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

// Publish queues a record. After Close it is dropped with a warning.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	select {
	case <-p.done:
		p.log.Warn("publish after close dropped", "key", string(key))
		return
	default:
	}
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
	case <-p.done:
		p.log.Warn("publish after close dropped", "key", string(key))
	}
}

// PublishEnvelope stamps env with an event id, time and producer name
// and queues it. It has the shape of a realtime.Handler so it can sit
// next to the board on the push channel.
func (p *Producer) PublishEnvelope(_ context.Context, env orders.Envelope) {
	env = stamp(env, p.name, uuid.NewString(), time.Now())
	m, err := EnvelopeMessage(env)
	if err != nil {
		p.log.Warn("dropping unencodable event", "type", env.Type, "err", err)
		return
	}
	p.Publish(m.Key, m.Value, m.Headers...)
}

// Close flushes what is queued and stops the loop. Safe to call twice.
func (p *Producer) Close() { p.once.Do(func() { close(p.done) }) }

func (p *Producer) WaitClosed() { <-p.closeCh }
