// Package stream maintains the WebSocket feed of on-chain asset events,
// reconnecting with backoff and replaying subscriptions after every drop.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/solrush/sniper/internal/event"
	"github.com/solrush/sniper/internal/observability"
)

// Handler consumes one decoded asset event.
type Handler func(ctx context.Context, ev event.AssetEvent)

// Config configures the event feed client.
type Config struct {
	URL string `yaml:"url"`
	// Programs are the on-chain program ids to subscribe to.
	Programs       []string      `yaml:"programs"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Client owns a single feed connection with automatic reconnection.
type Client struct {
	cfg     Config
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	msgIDGen atomic.Uint64

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

type subscribeRequest struct {
	Method   string   `json:"method"`
	Programs []string `json:"programs"`
	ID       uint64   `json:"id"`
}

type feedMessage struct {
	ID    uint64            `json:"id,omitempty"`
	Error *feedError        `json:"error,omitempty"`
	Event *event.AssetEvent `json:"event,omitempty"`
}

type feedError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// New builds a feed client. The handler is invoked from the read loop; it
// must not block for long or the feed falls behind.
func New(cfg Config, handler Handler) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start connects in the background and waits for the first successful
// connection before returning.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer close(c.done)
		c.connectLoop()
	}()

	select {
	case <-c.ready:
		return nil
	case <-time.After(c.cfg.ConnectTimeout):
		c.cancel()
		return errors.New("timeout waiting for event feed connection")
	case <-c.ctx.Done():
		return fmt.Errorf("event feed context done: %w", c.ctx.Err())
	}
}

// Stop closes the connection and waits for the read loop to exit.
func (c *Client) Stop() {
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		c.conn = nil
	}
	c.connMu.Unlock()
	<-c.done
}

// connectLoop maintains the connection, reconnecting with exponential
// backoff and resubscribing after every reconnect.
func (c *Client) connectLoop() {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(c.ctx, c.cfg.URL, nil)
		if err != nil {
			observability.Log().Warn("event feed dial failed",
				observability.F("url", c.cfg.URL),
				observability.F("error", err.Error()))
			if !c.sleep(backoffCfg.NextBackOff()) {
				return
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.readyOnce.Do(func() { close(c.ready) })
		backoffCfg.Reset()

		if err := c.subscribe(conn); err != nil {
			observability.Log().Warn("event feed subscribe failed",
				observability.F("error", err.Error()))
		}

		if err := c.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			observability.Log().Warn("event feed read loop ended",
				observability.F("error", err.Error()))
		}

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()

		if !c.sleep(backoffCfg.NextBackOff()) {
			return
		}
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	if len(c.cfg.Programs) == 0 {
		return nil
	}
	data, err := json.Marshal(subscribeRequest{
		Method:   "subscribe",
		Programs: c.cfg.Programs,
		ID:       c.msgIDGen.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe request: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write subscribe request: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg feedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			observability.Log().Warn("undecodable feed message",
				observability.F("error", err.Error()))
			continue
		}
		if msg.Error != nil {
			observability.Log().Warn("event feed error",
				observability.F("code", msg.Error.Code),
				observability.F("msg", msg.Error.Msg))
			continue
		}
		if msg.ID > 0 || msg.Event == nil {
			// Subscription acknowledgment or heartbeat.
			continue
		}

		ev := *msg.Event
		if ev.ObservedAt.IsZero() {
			ev.ObservedAt = time.Now()
		}
		c.handler(c.ctx, ev)
	}
}

func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
