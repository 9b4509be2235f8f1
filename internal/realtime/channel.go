// Package realtime keeps the kitchen push channel open.
//
// A Channel dials the backend websocket, decodes every frame into an
// orders.Envelope and hands it to a Handler. When the socket drops for
// any reason other than Close, the channel waits ReconnectDelay and
// dials again, forever. Close cancels a pending reconnect, closes the
// socket and turns the close path into a no-op, so an intentional
// shutdown never races a reconnect.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/metrics"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/gorilla/websocket"
)

const DefaultReconnectDelay = 3 * time.Second

var ErrClosed = errors.New("realtime channel closed")

type Handler func(ctx context.Context, env orders.Envelope)

type Channel struct {
	URL            string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Log            *slog.Logger
	Metrics        *metrics.Metrics

	// OnConnect and OnDisconnect run on the channel goroutine; they must
	// not call Close synchronously.
	OnConnect    func()
	OnDisconnect func(err error, retryIn time.Duration)

	mu      sync.Mutex
	closed  bool
	running bool
	cancel  context.CancelFunc
	conn    *websocket.Conn
	done    chan struct{}
}

func New(url string, log *slog.Logger, m *metrics.Metrics) *Channel {
	if log == nil {
		log = logging.Discard()
	}
	return &Channel{
		URL:            url,
		ReconnectDelay: DefaultReconnectDelay,
		Dialer:         websocket.DefaultDialer,
		Log:            log,
		Metrics:        m,
		done:           make(chan struct{}),
	}
}

// Start runs the channel in its own goroutine.
func (c *Channel) Start(ctx context.Context, h Handler) {
	go func() {
		if err := c.Run(ctx, h); err != nil && !errors.Is(err, ErrClosed) {
			c.Log.Error("realtime channel stopped", "err", err)
		}
	}()
}

// Run blocks until ctx is cancelled or Close is called.
func (c *Channel) Run(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return errors.New("realtime channel already running")
	}
	c.running = true
	c.cancel = cancel
	if c.done == nil {
		c.done = make(chan struct{})
	}
	done := c.done
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Log == nil {
		c.Log = logging.Discard()
	}
	c.mu.Unlock()
	defer close(done)

	for {
		err := c.connectAndRead(ctx, h)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}

		delay := c.ReconnectDelay
		c.Log.Warn("realtime channel disconnected", "url", c.URL, "err", err, "retry_in", delay.String())
		if c.OnDisconnect != nil {
			c.OnDisconnect(err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if c.isClosed() {
			return nil
		}
		c.Metrics.ObserveReconnect()
	}
}

func (c *Channel) connectAndRead(ctx context.Context, h Handler) error {
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	// ReadMessage does not watch ctx
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	c.Log.Info("realtime channel connected", "url", c.URL)
	if c.OnConnect != nil {
		c.OnConnect()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := orders.DecodeEnvelope(data)
		if err != nil {
			c.Log.Warn("ignoring malformed push message", "err", err, "size", len(data))
			c.Metrics.ObservePush("unknown", "malformed")
			continue
		}
		if c.isClosed() {
			return ErrClosed
		}
		h(ctx, env)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the channel. It is safe to call more than once and does
// not wait for the goroutine; use Wait for that.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, conn := c.cancel, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// Wait blocks until Run has returned. It returns at once when the
// channel never ran.
func (c *Channel) Wait() {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		<-c.done
	}
}
