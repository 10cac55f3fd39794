package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cowrite/backend/internal/protocol"
	"github.com/cowrite/backend/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection bound to a room. The pumps own
// the connection and errs; the hub owns send and everything else.
// Only the hub may close send, so the read pump reports its own
// errors over a separate channel.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	errs        chan []byte
	roomID      string
	authorID    string
	rateLimiter *ratelimit.Limiter
}

// ServeWs upgrades the request and registers the connection with the
// hub. The author id comes from the identity layer via the `author`
// query parameter; anonymous connections get a generated UUID so the
// insert tie-break always has a stable id to compare.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = "default"
	}

	authorID := r.URL.Query().Get("author")
	if authorID == "" {
		authorID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 512),
		errs:        make(chan []byte, 16),
		roomID:      roomID,
		authorID:    authorID,
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for %s in room %s (warning #%d)",
					c.authorID, c.roomID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting %s for excessive rate limit violations", c.authorID)
				return
			}
			continue
		}

		msg, err := protocol.ParseClientMessage(message)
		if err != nil {
			// Malformed input is the sender's problem alone: tell
			// them and move on, never the rest of the room.
			log.Printf("Invalid message from %s: %v", c.authorID, err)
			c.reportError(protocol.Encode(protocol.ErrorMessage{Type: protocol.TypeError, Reason: err.Error()}))
			continue
		}

		c.hub.inbound <- inbound{client: c, msg: msg}
	}
}

// reportError enqueues without blocking; the pump must never stall on
// its own outbound buffer.
func (c *Client) reportError(data []byte) {
	select {
	case c.errs <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case message := <-c.errs:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
