package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Client represents a single WebSocket connection subscribed to one list.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	listID string
	send   chan []byte
}

// NewClient creates a Client tied to the given hub, connection, and list.
func NewClient(hub *Hub, conn *ws.Conn, listID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		listID: listID,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Run registers the client on its list topic, starts the write pump, and
// runs the read pump. It blocks until the connection is closed, then
// unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
	c.hub.logger.Debug("feed connection closed", "list_id", c.listID)
}

// readPump reads and discards all incoming messages. The feed is one-way;
// clients only listen. It returns on read error (connection close), which
// triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// writePump drains the send channel and writes snapshots to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub closed the channel: connection is done.
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				c.hub.logger.Debug("feed write failed", "list_id", c.listID, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				c.hub.logger.Debug("feed ping failed", "list_id", c.listID, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
