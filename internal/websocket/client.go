package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 32
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second

	// The feed is one way; clients only send control frames.
	readLimit = 512
)

// Client is one subscriber of the change feed.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte
}

func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the client and forwards feed messages until either side
// closes.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(readLimit)
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	// CloseRead answers pings and closes; its context ends when the peer
	// goes away.
	ctx = c.conn.CloseRead(ctx)
	c.forward(ctx)
}

func (c *Client) forward(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(ctx, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}

func (c *Client) close(code ws.StatusCode, reason string) {
	if c.conn == nil {
		return
	}
	c.conn.Close(code, reason)
}
