package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 2 << 20 // inbound frames carry base64 audio
	sendBuffer     = 64
)

// wsConn wraps one client websocket. All writes go through the send
// channel and the write pump, so the pipeline workers never touch the
// socket directly.
type wsConn struct {
	id        string
	sessionID string
	clientID  string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func newWSConn(id string, conn *websocket.Conn, logger zerolog.Logger) *wsConn {
	return &wsConn{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// enqueue queues an outbound message, dropping it if the client cannot
// keep up. A slow reader loses events rather than stalling the pipeline.
func (c *wsConn) enqueue(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal outbound message")
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	default:
		c.logger.Warn().Str("connection_id", c.id).Msg("send buffer full, dropping outbound message")
	}
}

// writePump serializes all socket writes and keeps the connection alive
// with pings
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Flush anything still queued before closing, so a rejection
			// reason reaches the client
			for {
				select {
				case payload := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

// close signals the write pump to shut the socket down. The read loop and
// a stale-connection replacement can both race into here, so the close is
// guarded.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
