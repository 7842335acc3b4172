// Package server hosts the session protocol: it owns the canonical session
// state, fans events out to every connected client and turns client commands
// into controller calls.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"callcoach/log"
	"callcoach/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
	DefaultPingInterval = 20 * time.Second
)

// Controller carries out listening commands.
type Controller interface {
	StartListening(ctx context.Context) error
	StopListening() error
	ClearBuffer()
}

type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type Server struct {
	cfg  Config
	ctrl Controller
	echo *echo.Echo

	baseCtx context.Context
	cancel  context.CancelFunc

	state   atomic.Pointer[State]
	transMu sync.Mutex
	cmdMu   sync.Mutex

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	upgrader websocket.Upgrader
}

func New(ctrl Controller, cfg Config) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		baseCtx: ctx,
		cancel:  cancel,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.state.Store(&State{})
	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debugf("http %s %s status=%d latency=%v", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	e.GET("/ws", s.handleWS)
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, statusReport{State: s.State(), Clients: s.ClientCount()})
	})
	return e
}

type statusReport struct {
	State
	Clients int `json:"clients"`
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler { return s.echo }

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	log.Infof("protocol server listening on %s", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes every client with a close frame and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.shutdown(s.cfg.WriteTimeout)
	}
	s.cancel()
	return s.echo.Shutdown(ctx)
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return nil
	}
	s.serve(conn)
	return nil
}

// serve runs one client until its socket closes.
func (s *Server) serve(ws wsConn) {
	cl := newClient(uuid.NewString(), ws, s.cfg.QueueSize)
	if !s.register(cl) {
		cl.shutdown(s.cfg.WriteTimeout)
		return
	}
	defer s.unregister(cl)

	go func() {
		if err := cl.writeLoop(s.cfg.WriteTimeout, s.cfg.PingInterval); err != nil {
			log.Warnf("client %s write failed: %v", cl.id, err)
		}
		cl.close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-cl.done:
				default:
					log.Debugf("client %s read ended: %v", cl.id, err)
				}
			}
			return
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			log.Warnf("client %s sent bad frame: %v", cl.id, err)
			continue
		}
		s.HandleCommand(s.baseCtx, cmd)
	}
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()

	log.ClientEvent(c.id, "connected", n)
	s.transition(true, func(st State) State {
		st.Connected = true
		return st
	})
	return true
}

func (s *Server) unregister(c *client) {
	c.close()
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()

	log.ClientEvent(c.id, "disconnected", n)
	s.transition(true, func(st State) State {
		st.Connected = n > 0
		return st
	})
}

// Broadcast encodes v once and queues it for every client. A client whose
// queue is full is disconnected.
func (s *Server) Broadcast(v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		log.Errorf("encode %T: %v", v, err)
		return
	}
	s.mu.RLock()
	var slow []*client
	for _, c := range s.clients {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		log.Warnf("client %s send queue full, disconnecting", c.id)
		c.close()
	}
}

func (s *Server) PublishTranscript(text, speaker string, final bool) {
	s.Broadcast(protocol.NewTranscript(text, speaker, final))
}

func (s *Server) PublishSuggestions(items []string) {
	s.Broadcast(protocol.NewSuggestions(items))
}

func (s *Server) PublishError(message string) {
	s.Broadcast(protocol.NewError(message))
}

func (s *Server) PublishAudioLevel(level float64, hasAudio bool) {
	s.Broadcast(protocol.NewAudioLevel(level, hasAudio))
}

// HandleCommand applies one client command. Commands are serialized.
func (s *Server) HandleCommand(ctx context.Context, cmd protocol.Command) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	switch cmd.Type {
	case protocol.CmdStartListening:
		if s.State().Listening {
			s.Broadcast(protocol.NewAck(cmd.Type, true))
			return
		}
		if err := s.ctrl.StartListening(ctx); err != nil {
			log.Errorf("start listening: %v", err)
			s.Broadcast(protocol.NewAck(cmd.Type, false))
			s.PublishError(err.Error())
			return
		}
		s.transition(false, func(st State) State {
			st.Listening = true
			return st
		})
		s.Broadcast(protocol.NewAck(cmd.Type, true))

	case protocol.CmdStopListening:
		if err := s.ctrl.StopListening(); err != nil {
			log.Errorf("stop listening: %v", err)
		}
		s.SetIdle()
		s.Broadcast(protocol.NewAck(cmd.Type, true))

	case protocol.CmdGetStatus:
		s.transition(true, func(st State) State { return st })

	case protocol.CmdClearBuffer:
		s.ctrl.ClearBuffer()
		s.Broadcast(protocol.NewAck(cmd.Type, true))

	default:
		log.Warnf("ignoring command %q", cmd.Type)
	}
}
