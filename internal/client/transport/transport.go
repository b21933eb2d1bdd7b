// Package transport is the websocket channel between the chat client and the
// relay. It owns dialing and reconnection; callers only see connect and
// disconnect events alongside the decoded relay events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudzz-dev/relaychat/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Emit while no connection is live.
var ErrNotConnected = errors.New("not connected to server")

const (
	defaultBufferSize   = 64
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 10 * time.Second
)

type Client struct {
	url        string
	dialer     *websocket.Dialer
	log        *zap.Logger
	newBackOff func() backoff.BackOff
	events     chan protocol.Event

	mu       sync.Mutex
	conn     *websocket.Conn
	lastJoin []byte
	cancel   context.CancelFunc
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithBackoff sets the reconnect delay range. Delays grow exponentially from
// min to max and reset after every successful dial.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) { c.newBackOff = exponential(min, max) }
}

func WithBufferSize(n int) Option {
	return func(c *Client) { c.events = make(chan protocol.Event, n) }
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		dialer:     websocket.DefaultDialer,
		log:        zap.NewNop(),
		newBackOff: exponential(defaultReconnectMin, defaultReconnectMax),
		events:     make(chan protocol.Event, defaultBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func exponential(min, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = min
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// Events delivers connection lifecycle and relay events in arrival order. It is
// closed when Run returns.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Run dials and redials the relay until ctx is done or Close is called. It must
// be called once.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.events)
	defer cancel()

	b := c.newBackOff()
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := b.NextBackOff()
			c.log.Warn("dial failed", zap.String("url", c.url), zap.Duration("retry_in", wait), zap.Error(err))
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		b.Reset()

		if err := c.attach(conn); err != nil {
			c.log.Warn("replaying join failed", zap.Error(err))
		}
		c.log.Info("connected", zap.String("url", c.url))

		if !c.publish(ctx, protocol.Connected{}) {
			c.detach(conn)
			return ctx.Err()
		}

		err = c.readLoop(ctx, conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Warn("disconnected", zap.Error(err))
		if !c.publish(ctx, protocol.Disconnected{Err: err}) {
			return ctx.Err()
		}
		if !sleep(ctx, b.NextBackOff()) {
			return ctx.Err()
		}
	}
}

// Emit writes one outbound event. Emit is safe to call from any goroutine.
func (c *Client) Emit(event string, payload interface{}) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	if event == protocol.TypeJoin {
		c.lastJoin = data
	}
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close stops Run and drops the live connection.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// attach makes conn the live connection and replays the last join so the relay
// registers us again after a reconnect.
func (c *Client) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	if c.lastJoin == nil {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, c.lastJoin)
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping inbound frame", zap.Error(err))
			continue
		}
		c.log.Debug("inbound event", zap.String("type", ev.Type()))

		if !c.publish(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (c *Client) publish(ctx context.Context, ev protocol.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
