package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/omochice/broadcast-relay/internal/chat"
)

const (
	DefaultSendQueueSize    = 64
	DefaultWriteTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Options tunes per-connection resources. Zero values fall back to defaults.
type Options struct {
	SendQueueSize    int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = DefaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return o
}

// Server accepts WebSocket connections, registers them in a Hub and routes
// their frames through a Router.
type Server struct {
	address  string
	hub      *chat.Hub
	router   *chat.Router
	logger   *slog.Logger
	opts     Options
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

// New creates a WebSocket server that uses the provided Hub.
func New(address string, hub *chat.Hub, logger *slog.Logger, opts Options) *Server {
	return &Server{
		address: address,
		hub:     hub,
		router:  chat.NewRouter(hub, logger),
		logger:  logger,
		opts:    opts.withDefaults(),
		quit:    make(chan struct{}),
	}
}

// Listen binds the listening socket without accepting connections yet.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("server started", "addr", "ws://"+listener.Addr().String())
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("failed to accept connection", "error", err)
			continue
		}

		if !s.track() {
			conn.Close()
			return nil
		}
		go s.handleConnection(conn)
	}
}

// Start listens and serves. It blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and every WebSocket connection, then waits for
// connection handlers to exit.
func (s *Server) Stop() {
	s.quitOnce.Do(func() {
		close(s.quit)
	})

	s.mu.Lock()
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	// The hub may be shared with other transports; only close our own conns.
	// Each close may wait out a stuck peer's write timeout, so they run together.
	var closing sync.WaitGroup
	for _, conn := range s.hub.Snapshot() {
		c, ok := conn.(*Conn)
		if !ok {
			continue
		}
		closing.Add(1)
		go func() {
			defer closing.Done()
			c.Close()
		}()
	}
	closing.Wait()
	s.wg.Wait()
}

// track counts a new connection handler unless the server is stopping.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()

	if err := s.upgrade(netConn); err != nil {
		s.logger.Warn("handshake failed", "remoteAddr", netConn.RemoteAddr().String(), "error", err)
		netConn.Close()
		return
	}

	conn := NewConn(uuid.NewString(), netConn, s.opts.SendQueueSize, s.opts.WriteTimeout)
	if !s.register(conn) {
		conn.Close()
		return
	}
	s.logger.Info("client connected", "clientId", conn.ID(), "remoteAddr", conn.RemoteAddr(), "clients", s.hub.Count())

	s.wg.Add(1)
	go s.writeLoop(conn)

	s.readLoop(conn)

	s.hub.Unregister(conn)
	conn.Close()
	s.logger.Info("client disconnected", "clientId", conn.ID(), "clients", s.hub.Count())
}

func (s *Server) upgrade(netConn net.Conn) error {
	if err := netConn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		return err
	}
	if _, err := ws.Upgrade(netConn); err != nil {
		return err
	}
	return netConn.SetDeadline(time.Time{})
}

// register adds conn to the hub unless the server is stopping.
func (s *Server) register(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.hub.Register(conn)
	return true
}

func (s *Server) readLoop(conn *Conn) {
	for {
		data, _, err := conn.Read()
		if err != nil {
			s.logReadError(conn, err)
			return
		}
		s.router.Route(conn, data)
	}
}

func (s *Server) writeLoop(conn *Conn) {
	defer s.wg.Done()
	if err := conn.WriteLoop(); err != nil {
		s.logger.Debug("failed to write to client", "clientId", conn.ID(), "error", err)
		// Unblocks the read loop, which unregisters the connection.
		conn.Close()
	}
}

func (s *Server) logReadError(conn *Conn, err error) {
	var closed wsutil.ClosedError
	switch {
	case errors.As(err, &closed):
		s.logger.Debug("client closed connection", "clientId", conn.ID(), "code", closed.Code)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		s.logger.Debug("connection ended", "clientId", conn.ID())
	default:
		s.logger.Warn("read error", "clientId", conn.ID(), "error", err)
	}
}
