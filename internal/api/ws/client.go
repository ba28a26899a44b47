package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codesphere/backend/internal/infrastructure/logging"
)

// Client is one websocket connection attached to the hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *logging.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		id:   id,
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		log:  h.log.With(zap.String("conn_id", id)),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// enqueue hands a frame to the write pump without blocking. A full buffer
// drops the frame.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.hub.metrics.RecordWSDrop("buffer_full")
		c.log.Warn("Send buffer full, dropping frame")
		return false
	}
}

// close stops the write pump. The read pump exits once the socket closes.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads frames until the connection fails, dispatching each one
// in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	pongWait := c.hub.pongWait()
	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket read error", zap.Error(err))
			} else {
				c.log.Debug("WebSocket closed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame", zap.Int("message_type", messageType))
			continue
		}
		if !c.hub.dispatch(c, data) {
			return
		}
	}
}

// writePump drains the send buffer and keeps the socket alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := c.hub.opts.WriteWait
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("Failed to write frame", zap.Error(err))
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Failed to send ping", zap.Error(err))
				c.close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
