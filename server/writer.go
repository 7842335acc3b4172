package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the part of *websocket.Conn a client uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type client struct {
	id   string
	ws   wsConn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newClient(id string, ws wsConn, queue int) *client {
	return &client{
		id:   id,
		ws:   ws,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// enqueue reports false when the queue is full.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close stops the writer and the underlying socket, which also ends the
// read loop.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writeLoop is the only writer of c.ws. It returns on the first write error
// or when the client is closed.
func (c *client) writeLoop(writeTimeout, pingInterval time.Duration) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		select {
		case <-c.done:
			return nil
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		}
	}
}

// shutdown sends a close frame before closing the socket.
func (c *client) shutdown(writeTimeout time.Duration) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeTimeout))
	c.close()
}
