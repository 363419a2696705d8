// Package ws owns the websocket lifecycle of an adapter: connect, watch for
// silence, reconnect, clean up. Trading connections are long-lived and
// expected to recover quickly, so reconnection uses a fixed short delay
// rather than unbounded exponential backoff, retrying indefinitely.
package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/logger"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	// DefaultTimeout is the base watchdog timeout. Exchanges multiply it via
	// config; quieter markets tolerate longer silence before the connection
	// is declared dead.
	DefaultTimeout        = 30 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

// Transport is the frame-level interface the lifecycle drives.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Factory opens a fresh transport. It may fail synchronously (DNS errors) or
// even panic; both are treated identically to an async failure and schedule
// another attempt.
type Factory func(ctx context.Context) (Transport, error)

// Options wires the adapter callbacks into the lifecycle.
type Options struct {
	Exchange       string
	Timeout        time.Duration // watchdog; 0 means DefaultTimeout
	ReconnectDelay time.Duration // 0 means DefaultReconnectDelay

	// OnMessage sees every inbound frame. Every frame, including exchange
	// pings, feeds the watchdog.
	OnMessage func(data []byte)
	// OnConnect runs after each successful (re)connect, before any frame is
	// read: subscribe to channels and refetch REST snapshots for every open
	// market so the gap between connections is never silently skipped.
	OnConnect func(t Transport) error
	// Cleanup runs on every teardown path before the transport is discarded:
	// explicit stop, watchdog timeout, read error, remote close.
	Cleanup func()
}

type Conn struct {
	factory Factory
	opts    Options
	log     *logger.Entry

	state   atomic.Int32
	mu      sync.Mutex
	current Transport
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(factory Factory, opts Options) *Conn {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Conn{
		factory: factory,
		opts:    opts,
		log:     logger.GetLogger().WithComponent("websocket").WithFields(logger.Fields{"exchange": opts.Exchange}),
	}
}

// Dial returns a Factory for a plain gorilla websocket endpoint.
func Dial(url string) Factory {
	return func(ctx context.Context) (Transport, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return conn, nil
	}
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Start runs the lifecycle until ctx is cancelled or Stop is called.
func (c *Conn) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Stop tears the connection down and waits for the lifecycle goroutine.
func (c *Conn) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	current := c.current
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if current != nil {
		current.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Conn) run(ctx context.Context) {
	defer c.state.Store(int32(Disconnected))

	for {
		if ctx.Err() != nil {
			return
		}
		c.state.Store(int32(Connecting))

		t, err := c.connect(ctx)
		if err != nil {
			c.log.WithError(err).Warn("connect failed")
			if c.waitReconnect(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.current = t
		c.mu.Unlock()
		c.state.Store(int32(Connected))
		c.log.Info("websocket connected")

		if c.opts.OnConnect != nil {
			if err := c.opts.OnConnect(t); err != nil {
				c.log.WithError(err).Warn("post-connect setup failed")
				c.teardown(t)
				if c.waitReconnect(ctx) {
					return
				}
				continue
			}
		}

		c.readLoop(ctx, t)
		c.teardown(t)

		if ctx.Err() != nil {
			return
		}
		if c.waitReconnect(ctx) {
			return
		}
	}
}

// connect shields the factory: a synchronous panic during connection setup
// must schedule a retry, never kill the process.
func (c *Conn) connect(ctx context.Context) (t Transport, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("connection factory panic: %v", r)
		}
	}()
	return c.factory(ctx)
}

func (c *Conn) readLoop(ctx context.Context, t Transport) {
	// The watchdog force-closes the transport when no frame arrives within
	// the timeout, which unblocks ReadMessage with an error.
	watchdog := time.AfterFunc(c.opts.Timeout, func() {
		c.log.WithFields(logger.Fields{"timeout": c.opts.Timeout}).Warn("websocket silent, forcing close")
		t.Close()
	})
	defer watchdog.Stop()

	for {
		_, data, err := t.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).Warn("websocket read ended")
			}
			return
		}
		watchdog.Reset(c.opts.Timeout)
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}
}

func (c *Conn) teardown(t Transport) {
	if c.opts.Cleanup != nil {
		c.opts.Cleanup()
	}
	t.Close()
	c.mu.Lock()
	if c.current == t {
		c.current = nil
	}
	c.mu.Unlock()
}

// waitReconnect sleeps the fixed delay, reporting true when ctx ended.
func (c *Conn) waitReconnect(ctx context.Context) bool {
	c.state.Store(int32(Reconnecting))
	logger.IncrementReconnect()
	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
