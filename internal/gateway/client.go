package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const ( // ping/pong heartbeat to keep the connection alive
	WriteWait      = 10 * time.Second    // max time to write a message to the peer
	PongWait       = 60 * time.Second    // no pong within this window means the connection is dead
	PingPeriod     = (PongWait * 9) / 10 // send pings before the pong window expires
	MaxMessageSize = 512                 // maximum inbound message size
	sendBuffer     = 64                  // outbound queue per connection
)

// Client is one live websocket connection bound to an authenticated user.
type Client struct {
	ID     string
	UserID string

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(id, userID string, conn *websocket.Conn, hub *Hub, logger *zap.Logger) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
		logger: logger,
	}
}

// SendEvent queues an event frame for delivery. Delivery is best-effort: a
// full outbound queue drops the frame rather than blocking the caller.
func (c *Client) SendEvent(event string, data interface{}) error {
	frame, err := encodeEvent(event, data)
	if err != nil {
		return err
	}
	c.sendFrame(frame)
	return nil
}

// sendFrame queues a frame, dropping it if the peer is slow or the connection
// already closed. Queueing after close must be a no-op, not a panic: a push
// can race a supersede.
func (c *Client) sendFrame(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("Dropping frame, client send buffer full",
			zap.String("user_id", c.UserID),
		)
	}
}

// closeSend shuts the outbound queue down exactly once; WritePump exits when
// it drains.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump consumes inbound frames until the connection dies, then cleans up
// the registry entry.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Unexpected websocket close",
					zap.String("user_id", c.UserID),
					zap.Error(err),
				)
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.SendEvent(EventError, ErrorPayload{Message: "malformed frame"})
			continue
		}
		c.hub.handleClientEvent(c, &envelope)
	}
}

// WritePump drains the outbound queue and keeps the heartbeat going.
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				// Hub closed the channel: superseded or unregistered.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
