package ws

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"

	"weat-sync/go-backend/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
)

// Client is one live websocket connection bound to a session token. It
// satisfies the protocol's TopicSubscriber.
type Client struct {
	id    string
	token string
	conn  *websocket.Conn
	hub   *Hub
	send  chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, token string) *Client {
	return &Client{
		id:    newConnID(),
		token: token,
		conn:  conn,
		hub:   hub,
		send:  make(chan []byte, 32),
	}
}

// newConnID returns a short random connection id for logs and hub
// bookkeeping.
func newConnID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "conn_unknown"
	}
	return "conn_" + base58.Encode(buf[:])
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Subscribe(topic string) {
	c.hub.Join(topic, c)
}

func (c *Client) Unsubscribe(topic string) {
	c.hub.Leave(topic, c)
}

// EmitDirect sends a frame to this connection only, bypassing topics. Used
// for first-render snapshots.
func (c *Client) EmitDirect(frame wire.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.hub.log.Error("frame marshal failed", "event", frame.Event, "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.log.Warn("dropping direct frame for slow connection", "conn_id", c.id, "event", frame.Event)
	}
}

// readPump consumes inbound frames until the connection drops, handing each
// to the dispatch callback. It owns closing the connection.
func (c *Client) readPump(dispatch func(*Client, []byte)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("connection read error", "conn_id", c.id, "error", err)
			}
			return
		}
		dispatch(c, message)
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings.
func (c *Client) writePump() {
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
		}
	}
}
