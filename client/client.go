// Package client keeps a resilient connection to the session protocol server
// and mirrors the state it pushes.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"callcoach/log"
	"callcoach/protocol"

	"github.com/gorilla/websocket"
)

const (
	DefaultInitialDelay   = 100 * time.Millisecond
	DefaultReconnectDelay = 3 * time.Second
	dialTimeout           = 10 * time.Second
)

type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handler callbacks run on client goroutines and must not block for long.
type Handler interface {
	Connected()
	Disconnected()
	Message(msg any)
}

type Config struct {
	URL            string
	InitialDelay   time.Duration
	ReconnectDelay time.Duration
	Dialer         Dialer
	Handler        Handler
}

type Client struct {
	cfg Config

	mu      sync.Mutex
	phase   Phase
	gen     uint64
	mounted bool
	conn    Conn
	timer   *time.Timer

	writeMu sync.Mutex
	mirror  atomic.Pointer[protocol.Status]
}

func New(cfg Config) *Client {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{Dialer: websocket.DefaultDialer}
	}
	if cfg.Handler == nil {
		cfg.Handler = nopHandler{}
	}
	c := &Client{cfg: cfg}
	c.mirror.Store(&protocol.Status{Type: protocol.TypeStatus})
	return c
}

func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Mirror is the last status pushed by the server, with Connected forced
// false while this client has no connection.
func (c *Client) Mirror() protocol.Status {
	return *c.mirror.Load()
}

// Mount schedules the first connection attempt after the initial delay.
func (c *Client) Mount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mounted {
		return
	}
	c.mounted = true
	c.scheduleLocked(c.cfg.InitialDelay)
}

// Unmount cancels pending attempts and closes the connection without
// triggering a reconnect. Calling it again is a no-op.
func (c *Client) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	c.stopTimerLocked()
	c.gen++

	var conn Conn
	switch c.phase {
	case Open:
		conn = c.conn
		c.conn = nil
		c.setPhaseLocked(EventTeardown)
	case Connecting:
		// the dial result is closed when it arrives
		c.setPhaseLocked(EventTeardown)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	c.mu.Lock()
	c.setPhaseLocked(EventClosed)
	c.mu.Unlock()
	c.markDisconnected()
	c.cfg.Handler.Disconnected()
}

// Reconnect schedules an attempt after the reconnect delay, replacing any
// timer already pending.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return
	}
	c.scheduleLocked(c.cfg.ReconnectDelay)
}

// Send writes one command. It reports false without queuing when no
// connection is open.
func (c *Client) Send(cmdType string) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.phase == Open
	c.mu.Unlock()
	if !open || conn == nil {
		log.Warnf("not connected, dropping %s", cmdType)
		return false
	}

	data, err := protocol.Encode(protocol.NewCommand(cmdType))
	if err != nil {
		log.Errorf("encode %s: %v", cmdType, err)
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warnf("send %s: %v", cmdType, err)
		return false
	}
	return true
}

func (c *Client) scheduleLocked(d time.Duration) {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = time.AfterFunc(d, func() { c.connect(gen) })
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setPhaseLocked(e Event) {
	next, err := Next(c.phase, e)
	if err != nil {
		log.Errorf("client: %v", err)
		return
	}
	c.phase = next
}

func (c *Client) connect(gen uint64) {
	c.mu.Lock()
	if !c.mounted || gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch c.phase {
	case Connecting, Open:
		c.mu.Unlock()
		return
	case Closing:
		// a stale dial is still outstanding; try again once it settles
		c.scheduleLocked(c.cfg.InitialDelay)
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setPhaseLocked(EventConnect)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.setPhaseLocked(EventClosed)
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.setPhaseLocked(EventDialFailed)
		c.scheduleLocked(c.cfg.ReconnectDelay)
		c.mu.Unlock()
		log.Warnf("connect %s: %v", c.cfg.URL, err)
		return
	}
	c.setPhaseLocked(EventDialed)
	c.conn = conn
	c.mu.Unlock()

	log.Infof("connected to %s", c.cfg.URL)
	c.cfg.Handler.Connected()
	go c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, gen, err)
			return
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			log.Warnf("ignoring server frame: %v", err)
			continue
		}
		if !c.deliver(conn, gen, msg) {
			continue
		}
		c.cfg.Handler.Message(msg)
	}
}

// deliver updates the mirror for a frame read on the current connection. A
// frame from a connection already torn down is dropped.
func (c *Client) deliver(conn Conn, gen uint64, msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.conn != conn {
		return false
	}
	if st, ok := msg.(protocol.Status); ok {
		c.mirror.Store(&st)
	}
	return true
}

// lost handles a socket that closed on its own. Intentional closes bumped
// the generation first, so they end here without side effects.
func (c *Client) lost(conn Conn, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setPhaseLocked(EventLost)
	c.scheduleLocked(c.cfg.ReconnectDelay)
	c.mu.Unlock()

	_ = conn.Close()
	log.Warnf("connection lost: %v, retrying in %v", err, c.cfg.ReconnectDelay)
	c.markDisconnected()
	c.cfg.Handler.Disconnected()
}

func (c *Client) markDisconnected() {
	st := c.Mirror()
	st.Connected = false
	c.mirror.Store(&st)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type nopHandler struct{}

func (nopHandler) Connected()    {}
func (nopHandler) Disconnected() {}
func (nopHandler) Message(any)   {}
