package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talimy/notify/id"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer bounds per-connection queued events. A slow client that
	// falls this far behind starts losing pushes; it catches up via List.
	sendBuffer = 64
)

// Event is the wire envelope for every push.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Connection is one websocket client with its resolved identity.
type Connection struct {
	ID       id.ConnectionID
	Identity Identity

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newConnection(ws *websocket.Conn, ident Identity) *Connection {
	return &Connection{
		ID:       id.NewConnectionID(),
		Identity: ident,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// push queues an event for delivery. Returns false when the buffer is
// full or the connection is closing; the event is dropped.
func (c *Connection) push(e Event) bool {
	payload, err := json.Marshal(e)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// writePump serializes all writes to the websocket and keeps the
// connection alive with pings. It owns the socket's write side.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump drains inbound frames (the protocol is push-only) and
// surfaces disconnects. It owns the socket's read side.
func (c *Connection) readPump(onClose func()) {
	defer func() {
		close(c.done)
		c.ws.Close()
		onClose()
	}()

	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
