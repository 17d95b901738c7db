// Package transport is the thin WebSocket client that connects a display
// terminal to the central queue server.
//
// Frames are JSON envelopes {"event": name, "data": payload}. The client
// receives announcement requests, emits completion acknowledgments, and
// re-announces the screen on every (re)connect so the server can resync a
// terminal that was unreachable.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callout/pkg/announce"
)

// Event names on the wire.
const (
	EventAnnouncement = "urdu-voice-announcement"
	EventCompleted    = "voice-announcement-completed"
	EventJoin         = "join-waiting-screen"
	EventReady        = "waiting-screen-ready"
	EventSystemReady  = "centralized-system-ready"
)

// Default reconnection parameters.
const (
	defaultBackoff      = 1 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultWriteTimeout = 5 * time.Second
	DefaultScreenID     = "main-waiting"
	readLimit           = 1 << 20
)

// ErrNotConnected is returned by sends while no connection is up.
var ErrNotConnected = errors.New("transport: not connected")

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives decoded announcement requests. It runs on the read loop
// and must not block; the engine's Enqueue never does.
type Handler func(ctx context.Context, req announce.Request)

// Config configures a [Client].
type Config struct {
	// URL is the ws:// or wss:// endpoint of the queue server.
	URL string

	// ScreenID names this terminal. Defaults to "main-waiting".
	ScreenID string

	// Header is sent with every dial, e.g. for an auth token.
	Header http.Header

	// Backoff is the initial wait between reconnect attempts. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// WriteTimeout bounds a single send. Defaults to 5s.
	WriteTimeout time.Duration

	// OnAnnouncement receives inbound announcement requests.
	OnAnnouncement Handler

	// OnConnect, if set, is called after every successful (re)connect and
	// handshake.
	OnConnect func()
}

// Client maintains the connection to the queue server.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	connected time.Time
}

// New returns a client for cfg. Call [Client.Run] to connect.
func New(cfg Config) *Client {
	if cfg.ScreenID == "" {
		cfg.ScreenID = DefaultScreenID
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Client{cfg: cfg}
}

// Run connects and keeps the connection alive until ctx is cancelled,
// reconnecting with exponential backoff. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.Backoff
	for attempt := 1; ; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			attempt, backoff = 1, c.cfg.Backoff
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("transport: connection lost, reconnecting",
			"url", c.cfg.URL,
			"attempt", attempt,
			"backoff", backoff,
			"err", err,
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: c.cfg.Header})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// serve handshakes on conn and runs the read loop until it fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.connected = time.Now()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	if err := c.handshake(ctx); err != nil {
		return err
	}
	slog.Info("transport: connected", "url", c.cfg.URL, "screen_id", c.cfg.ScreenID)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}

	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}
		c.dispatch(ctx, env)
	}
}

// handshake announces this screen to the server.
func (c *Client) handshake(ctx context.Context) error {
	if err := c.Emit(ctx, EventJoin, c.cfg.ScreenID); err != nil {
		return err
	}
	return c.Emit(ctx, EventReady, struct {
		ScreenID  string    `json:"screenId"`
		Timestamp time.Time `json:"timestamp"`
	}{c.cfg.ScreenID, time.Now().UTC()})
}

func (c *Client) dispatch(ctx context.Context, env Envelope) {
	switch env.Event {
	case EventAnnouncement:
		var req announce.Request
		if err := json.Unmarshal(env.Data, &req); err != nil {
			slog.Warn("transport: malformed announcement", "err", err)
			return
		}
		if c.cfg.OnAnnouncement != nil {
			c.cfg.OnAnnouncement(ctx, req)
		}
	case EventSystemReady:
		slog.Info("transport: server confirmed screen", "screen_id", c.cfg.ScreenID)
	default:
		slog.Debug("transport: ignoring event", "event", env.Event)
	}
}

// Emit sends one event. It fails fast with [ErrNotConnected] while
// disconnected.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", event, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, Envelope{Event: event, Data: raw}); err != nil {
		return fmt.Errorf("transport: write %s: %w", event, err)
	}
	return nil
}

// Name identifies the client as a completion sink.
func (c *Client) Name() string { return "socket" }

// Send emits the completion acknowledgment upstream.
func (c *Client) Send(ctx context.Context, comp announce.Completion) error {
	return c.Emit(ctx, EventCompleted, comp)
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ConnectedSince returns when the current connection was established, or the
// zero time while disconnected.
func (c *Client) ConnectedSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return time.Time{}
	}
	return c.connected
}
