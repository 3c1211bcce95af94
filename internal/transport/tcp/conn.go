// Package tcp provides a raw TCP transport for the relay server.
// Each frame is one JSON envelope terminated by a newline.
package tcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/omochice/broadcast-relay/internal/chat"
	"github.com/omochice/broadcast-relay/internal/transport"
)

// MaxLineSize bounds a single inbound frame.
const MaxLineSize = 64 * 1024

// Conn adapts net.Conn to chat.Conn.
type Conn struct {
	id           string
	conn         net.Conn
	scanner      *bufio.Scanner
	outbox       *transport.Outbox
	writeTimeout time.Duration
}

// NewConn wraps a net.Conn.
func NewConn(id string, conn net.Conn, queueSize int, writeTimeout time.Duration) *Conn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)
	return &Conn{
		id:           id,
		conn:         conn,
		scanner:      scanner,
		outbox:       transport.NewOutbox(queueSize),
		writeTimeout: writeTimeout,
	}
}

// ID implements chat.Conn.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Read returns the next non-blank line without its line terminator.
// It returns io.EOF when the peer closes the connection.
func (c *Conn) Read() ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimRight(c.scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Send implements chat.Conn.
func (c *Conn) Send(data []byte) error {
	return c.outbox.Push(data)
}

// WriteLoop writes queued frames until the connection is closed or a write fails.
// Frames containing line breaks are compacted; frames that cannot be put on
// one line are skipped.
func (c *Conn) WriteLoop() error {
	return c.outbox.Drain(func(data []byte) error {
		line, ok := toLine(data)
		if !ok {
			return nil
		}
		if c.writeTimeout > 0 {
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return err
			}
		}
		_, err := c.conn.Write(line)
		return err
	})
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	if !c.outbox.Close() {
		return nil
	}
	return c.conn.Close()
}

func toLine(data []byte) ([]byte, bool) {
	if !bytes.ContainsAny(data, "\r\n") {
		line := make([]byte, 0, len(data)+1)
		return append(append(line, data...), '\n'), true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, false
	}
	buf.WriteByte('\n')
	return buf.Bytes(), true
}

// Compile-time check that Conn implements chat.Conn
var _ chat.Conn = (*Conn)(nil)
