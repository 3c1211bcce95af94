package tcp_test

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/broadcast-relay/internal/chat"
	"github.com/omochice/broadcast-relay/internal/transport/tcp"
	"github.com/omochice/broadcast-relay/internal/transport/ws"
)

const deliveryTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, hub *chat.Hub) *tcp.Server {
	t.Helper()
	srv := tcp.New("127.0.0.1:0", hub, discardLogger(), 16, time.Second)
	require.NoError(t, srv.Listen())
	go func() {
		_ = srv.Serve()
	}()
	t.Cleanup(srv.Stop)
	return srv
}

type lineClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &lineClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *lineClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(t, err)
}

func (c *lineClient) receive(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(deliveryTimeout)))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (c *lineClient) assertNothingReceived(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	line, err := c.reader.ReadString('\n')
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected line %q (err %v)", line, err)
}

func waitForClients(t *testing.T, hub *chat.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.Count() == n
	}, deliveryTimeout, 10*time.Millisecond)
}

func TestServer_Broadcast(t *testing.T) {
	hub := chat.NewHub()
	srv := startServer(t, hub)
	a := dial(t, srv.Addr())
	b := dial(t, srv.Addr())
	c := dial(t, srv.Addr())
	waitForClients(t, hub, 3)

	a.send(t, `{"text":"hello"}`)

	assert.Equal(t, "{\"text\":\"hello\"}\n", b.receive(t))
	assert.Equal(t, "{\"text\":\"hello\"}\n", c.receive(t))
	a.assertNothingReceived(t)
}

func TestServer_DropsInvalidLines(t *testing.T) {
	hub := chat.NewHub()
	srv := startServer(t, hub)
	a := dial(t, srv.Addr())
	b := dial(t, srv.Addr())
	waitForClients(t, hub, 2)

	a.send(t, `{not json`)
	a.send(t, `{"text":42}`)
	a.send(t, `{"text":"  "}`)
	a.send(t, `{"text":"ok"}`)

	assert.Equal(t, "{\"text\":\"ok\"}\n", b.receive(t))
	assert.Equal(t, 2, hub.Count())
}

func TestServer_Disconnect(t *testing.T) {
	hub := chat.NewHub()
	srv := startServer(t, hub)
	a := dial(t, srv.Addr())
	dial(t, srv.Addr())
	waitForClients(t, hub, 2)

	require.NoError(t, a.conn.Close())

	waitForClients(t, hub, 1)
}

func TestServer_Stop(t *testing.T) {
	hub := chat.NewHub()
	srv := tcp.New("127.0.0.1:0", hub, discardLogger(), 16, time.Second)
	require.NoError(t, srv.Listen())
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	a := dial(t, srv.Addr())
	waitForClients(t, hub, 1)

	srv.Stop()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(deliveryTimeout):
		t.Fatal("Serve did not return after Stop")
	}
	assert.Equal(t, 0, hub.Count())

	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(deliveryTimeout)))
	_, err := a.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_Stop_WhileClientsConnect(t *testing.T) {
	hub := chat.NewHub()
	srv := tcp.New("127.0.0.1:0", hub, discardLogger(), 16, time.Second)
	require.NoError(t, srv.Listen())
	go func() {
		_ = srv.Serve()
	}()
	addr := srv.Addr()

	done := make(chan struct{})
	dialed := make(chan struct{})
	go func() {
		defer close(dialed)
		for {
			select {
			case <-done:
				return
			default:
			}
			if conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
				defer conn.Close()
			}
		}
	}()
	require.Eventually(t, func() bool { return hub.Count() > 0 }, deliveryTimeout, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(deliveryTimeout):
		t.Fatal("Stop did not return while clients were connecting")
	}
	close(done)
	<-dialed

	assert.Equal(t, 0, hub.Count())
}

func TestServer_SharedHubWithWebSocket(t *testing.T) {
	hub := chat.NewHub()
	tcpSrv := startServer(t, hub)
	wsSrv := ws.New("127.0.0.1:0", hub, discardLogger(), ws.Options{})
	require.NoError(t, wsSrv.Listen())
	go func() {
		_ = wsSrv.Serve()
	}()
	t.Cleanup(wsSrv.Stop)

	line := dial(t, tcpSrv.Addr())
	wsConn, _, err := websocket.DefaultDialer.Dial("ws://"+wsSrv.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { wsConn.Close() })
	waitForClients(t, hub, 2)

	line.send(t, `{"text":"from tcp"}`)
	require.NoError(t, wsConn.SetReadDeadline(time.Now().Add(deliveryTimeout)))
	_, data, err := wsConn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"text":"from tcp"}`, string(data))

	require.NoError(t, wsConn.WriteMessage(websocket.TextMessage, []byte("{\"text\":\n\"from ws\"}")))
	assert.Equal(t, "{\"text\":\"from ws\"}\n", line.receive(t))
}
