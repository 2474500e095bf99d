package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 32
	writeDeadline  = 10 * time.Second
)

var (
	errClientClosed   = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client is one live realtime connection. Outbound events go through a
// buffered channel drained by a single write pump, so event handlers never
// block on a slow socket.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan Envelope
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newClient(id, userID string, conn *websocket.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan Envelope, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// ID returns the ephemeral connection identifier.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the durable identity bound at handshake, empty for anonymous
// connections.
func (c *Client) UserID() string {
	return c.userID
}

// SendEvent enqueues one event for delivery. A full buffer or a closed
// connection yields an error; the caller decides whether that matters.
func (c *Client) SendEvent(event string, data interface{}) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = encoded
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- Envelope{Event: event, Data: raw}:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

// writePump drains the send channel onto the socket until the client closes.
func (c *Client) writePump() {
	for {
		select {
		case envelope := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.logger.Debug("write failed, closing connection",
					zap.String("connection_id", c.id),
					zap.Error(err))
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close terminates the connection exactly once.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
