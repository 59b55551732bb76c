package ws

import (
	"context"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"webchat/internal/chat"
)

// Conn is the transport a Session runs on.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg chat.Message) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

type wsConn struct {
	conn *websocket.Conn
}

// NewConn wraps an accepted websocket. A positive readLimit caps the size of inbound frames.
func NewConn(conn *websocket.Conn, readLimit int64) Conn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, msg chat.Message) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}
