// Package ws provides the WebSocket transport for the relay server.
package ws

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/broadcast-relay/internal/chat"
	"github.com/omochice/broadcast-relay/internal/transport"
)

// Conn adapts an upgraded net.Conn to chat.Conn.
// Frames passed to Send are queued and written by WriteLoop.
type Conn struct {
	id           string
	conn         net.Conn
	outbox       *transport.Outbox
	writeMu      sync.Mutex
	writeTimeout time.Duration
	reader       io.ReadWriter
}

// NewConn wraps an upgraded connection.
// queueSize bounds the number of frames waiting for WriteLoop.
func NewConn(id string, conn net.Conn, queueSize int, writeTimeout time.Duration) *Conn {
	c := &Conn{
		id:           id,
		conn:         conn,
		outbox:       transport.NewOutbox(queueSize),
		writeTimeout: writeTimeout,
	}
	// Control frame replies share the write lock with WriteLoop.
	c.reader = struct {
		io.Reader
		io.Writer
	}{conn, lockedWriter{c}}
	return c
}

// ID implements chat.Conn.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send implements chat.Conn.
// It never blocks: a full queue drops the frame for this peer only.
func (c *Conn) Send(data []byte) error {
	return c.outbox.Push(data)
}

// Read returns the next data frame sent by the client.
// Ping and close frames are answered before Read returns.
func (c *Conn) Read() ([]byte, ws.OpCode, error) {
	return wsutil.ReadClientData(c.reader)
}

// WriteLoop writes queued frames until the connection is closed or a write fails.
func (c *Conn) WriteLoop() error {
	return c.outbox.Drain(func(data []byte) error {
		return c.writeFrame(ws.OpText, data)
	})
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	if !c.outbox.Close() {
		return nil
	}
	_ = c.writeFrame(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	return c.conn.Close()
}

func (c *Conn) writeFrame(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.setWriteDeadline(); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(c.conn, op, data)
}

func (c *Conn) setWriteDeadline() error {
	if c.writeTimeout <= 0 {
		return nil
	}
	return c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	if err := w.c.setWriteDeadline(); err != nil {
		return 0, err
	}
	return w.c.conn.Write(p)
}

// Compile-time check that Conn implements chat.Conn
var _ chat.Conn = (*Conn)(nil)
