// Package client provides the interactive relay client session.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/broadcast-relay/pkg/protocol"
)

// QuitCommand ends the session when typed on its own line, in any case.
const QuitCommand = "quit"

const closeTimeout = time.Second

var (
	// ErrConnect is returned when the server cannot be reached.
	ErrConnect = errors.New("failed to connect to server")

	// ErrConnectionClosed is returned when a send fails because the server closed the connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Config describes one client session.
type Config struct {
	URL         string
	Username    string
	DialTimeout time.Duration
	// Receive prints frames broadcast by other clients while sending.
	Receive bool
}

// Session reads lines from an input and sends each one as an envelope.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer
}

// New creates a Session.
func New(cfg Config, logger *slog.Logger) *Session {
	return &Session{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

// Run connects to the server and sends every line read from in until the
// quit command, the end of in, or ctx is done. A clean exit returns nil.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	out = &syncWriter{w: out}

	// The read loop always runs so close and ping frames are handled even
	// when inbound text is not printed.
	p := &peer{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = s.receiveLoop(conn, out)
	}()

	err = s.sendLoop(ctx, p, in, out)
	if err == nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if cerr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); cerr != nil {
			s.logger.Debug("failed to send close frame", "error", cerr)
		}
	}
	conn.Close()
	<-p.done
	return err
}

// peer is the server end of a session.
type peer struct {
	conn *websocket.Conn
	done chan struct{} // closed when the read loop exits
	err  error         // read loop error, set before done is closed
}

func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	if s.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
	}

	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrConnect, s.cfg.URL, err)
	}
	s.logger.Debug("connected", "url", s.cfg.URL, "username", s.cfg.Username)
	return conn, nil
}

func (s *Session) sendLoop(ctx context.Context, p *peer, in io.Reader, out io.Writer) error {
	stop := make(chan struct{})
	defer close(stop)
	lines, scanErr := readLines(in, stop)

	for {
		fmt.Fprintf(out, "%s: ", s.cfg.Username)

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				return nil
			}
			if strings.EqualFold(line, QuitCommand) {
				return nil
			}
			if err := s.send(p, line); err != nil {
				return err
			}
		}
	}
}

func (s *Session) send(p *peer, text string) error {
	select {
	case <-p.done:
		if p.err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionClosed, p.err)
		}
		return ErrConnectionClosed
	default:
	}

	data, err := protocol.Envelope{Text: text}.Encode()
	if err != nil {
		return err
	}

	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if isClosed(err) {
			return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// receiveLoop reads until the connection fails. Inbound text is printed
// only when the session was configured to receive.
func (s *Session) receiveLoop(conn *websocket.Conn, out io.Writer) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("connection closed unexpectedly", "error", err)
			}
			return err
		}
		if !s.cfg.Receive {
			continue
		}

		env, err := protocol.Parse(data)
		if err != nil {
			s.logger.Debug("ignoring frame", "error", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n", env.Text)
	}
}

// readLines delivers lines from in until it is exhausted or stop is closed.
// The goroutine stays blocked in Read if in never returns.
func readLines(in io.Reader, stop <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()

	return lines, errc
}

func isClosed(err error) bool {
	var closeErr *websocket.CloseError
	return errors.Is(err, websocket.ErrCloseSent) ||
		errors.As(err, &closeErr) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
