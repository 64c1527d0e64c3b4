package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/clock"
	"goflare.io/aegis/internal/config"
	"goflare.io/aegis/internal/metrics"
)

// Channel keeps one realtime connection open, reconnecting with backoff
// after unclean closes and errors. Failures are never returned to the
// caller; they show up in State and the state-change hook.
type Channel struct {
	mu      sync.Mutex
	machine Machine
	conn    Conn
	// gen identifies the current connection; events from older
	// connections are ignored.
	gen uint64
	// timer is the single pending reconnect; timerSeq tells a late-firing
	// callback whether it is still the pending one.
	timer    clock.Timer
	timerSeq uint64

	url       string
	dialer    Dialer
	handler   Handler
	onState   func(State)
	clock     clock.Clock
	collector *metrics.Metrics
	logger    *zap.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock replaces the clock used for reconnect timers.
func WithClock(c clock.Clock) Option {
	return func(ch *Channel) {
		if c != nil {
			ch.clock = c
		}
	}
}

// WithMetrics reports state changes and reconnects to collector.
func WithMetrics(collector *metrics.Metrics) Option {
	return func(ch *Channel) { ch.collector = collector }
}

// NewChannel creates a disconnected Channel for url. Inbound messages are
// delivered to handler.
func NewChannel(url string, dialer Dialer, handler Handler, cfg *config.Config, opts ...Option) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	ch := &Channel{
		machine: NewMachine(cfg.Realtime.MaxAttempts, cfg.ReconnectBackoff()),
		url:     url,
		dialer:  dialer,
		handler: handler,
		clock:   clock.New(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// OnStateChange registers f to be called after every state change.
func (c *Channel) OnStateChange(f func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State
}

// Attempt returns the number of consecutive failed connections.
func (c *Channel) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Attempt
}

// Connect opens the connection if the channel is disconnected or in error.
// ctx bounds the initial dial only.
func (c *Channel) Connect(ctx context.Context) {
	c.handle(ctx, Event{Kind: EventConnect}, 0)
}

// Disconnect cancels any pending reconnect and closes the connection
// cleanly. No reconnect follows until Connect is called again.
func (c *Channel) Disconnect() {
	c.handle(context.Background(), Event{Kind: EventDisconnect}, 0)
}

// handle applies ev and performs its effects. A non-zero gen marks an event
// from a specific connection and is dropped if that connection is stale.
func (c *Channel) handle(ctx context.Context, ev Event, gen uint64) {
	c.mu.Lock()
	if gen != 0 && gen != c.gen {
		c.mu.Unlock()
		return
	}

	prev := c.machine.State
	next, eff := c.machine.Apply(ev)
	c.machine = next

	var toClose Conn
	if eff.Close || ev.Kind == EventClosed || ev.Kind == EventErrored {
		toClose = c.conn
		c.conn = nil
	}
	if eff.Close {
		c.gen++
	}
	if (eff.CancelTimer || eff.Reconnect > 0) && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if eff.Reconnect > 0 {
		c.timerSeq++
		seq := c.timerSeq
		c.timer = c.clock.AfterFunc(eff.Reconnect, func() { c.reconnect(seq) })
	}
	if eff.Open {
		c.gen++
	}
	openGen := c.gen
	onState := c.onState
	c.mu.Unlock()

	if next.State != prev {
		c.collector.State(next.State.String(), StateNames())
		c.logger.Debug("Realtime state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", next.State),
			zap.Int("attempt", next.Attempt),
		)
		if onState != nil {
			onState(next.State)
		}
	}
	if eff.Reconnect > 0 {
		c.collector.Reconnect()
		c.logger.Info("Scheduling realtime reconnect",
			zap.Duration("delay", eff.Reconnect),
			zap.Int("attempt", next.Attempt),
		)
	} else if (ev.Kind == EventClosed && ev.Code != CloseNormal) || ev.Kind == EventErrored {
		c.logger.Warn("Realtime reconnect attempts exhausted", zap.Int("attempts", next.Attempt))
	}

	if toClose != nil {
		if err := toClose.Close(CloseNormal, ""); err != nil {
			c.logger.Debug("Closing realtime connection failed", zap.Error(err))
		}
	}
	if eff.Open {
		c.open(ctx, openGen)
	}
}

func (c *Channel) reconnect(seq uint64) {
	c.mu.Lock()
	if c.timer == nil || seq != c.timerSeq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.handle(context.Background(), Event{Kind: EventConnect}, 0)
}

func (c *Channel) open(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx, c.url)

	c.mu.Lock()
	stale := gen != c.gen
	if !stale && err == nil {
		c.conn = conn
	}
	c.mu.Unlock()

	if stale {
		if conn != nil {
			_ = conn.Close(CloseNormal, "")
		}
		return
	}
	if err != nil {
		c.logger.Warn("Realtime dial failed", zap.Error(err))
		c.handle(ctx, Event{Kind: EventErrored}, gen)
		return
	}

	c.handle(ctx, Event{Kind: EventOpened}, gen)
	go c.readLoop(conn, gen)
}

func (c *Channel) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.Read()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.handle(context.Background(), Event{Kind: EventClosed, Code: closeErr.Code}, gen)
				return
			}
			if c.current(gen) {
				c.logger.Warn("Realtime read failed", zap.Error(err))
			}
			c.handle(context.Background(), Event{Kind: EventErrored}, gen)
			return
		}

		if !c.current(gen) {
			return
		}
		if err := Dispatch(data, c.handler); err != nil {
			c.logger.Warn("Ignoring realtime message", zap.Error(err))
		}
	}
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}
