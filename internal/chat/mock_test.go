package chat_test

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/omochice/broadcast-relay/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	id         string
	remoteAddr string
	sendErr    error

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id, remoteAddr: "127.0.0.1:1234"}
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return chat.ErrConnClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.sent = append(m.sent, copied)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) RemoteAddr() string { return m.remoteAddr }

func (m *mockConn) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)

// syncBuffer guards a bytes.Buffer used as a log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(t *testing.T) (*slog.Logger, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})), out
}
