package tcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/broadcast-relay/internal/chat"
)

// Server handles TCP connections and delegates to Hub.
type Server struct {
	address      string
	hub          *chat.Hub
	router       *chat.Router
	logger       *slog.Logger
	queueSize    int
	writeTimeout time.Duration
	quit         chan struct{}
	quitOnce     sync.Once
	wg           sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

// New creates a TCP server that uses the provided Hub.
func New(address string, hub *chat.Hub, logger *slog.Logger, queueSize int, writeTimeout time.Duration) *Server {
	return &Server{
		address:      address,
		hub:          hub,
		router:       chat.NewRouter(hub, logger),
		logger:       logger,
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		quit:         make(chan struct{}),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("tcp server started", "addr", listener.Addr().String())
	return nil
}

// Serve accepts TCP connections until Stop is called.
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
			s.logger.Warn("failed to accept TCP connection", "error", err)
			continue
		}

		if !s.track() {
			conn.Close()
			return nil
		}
		go s.handleClient(NewConn(uuid.NewString(), conn, s.queueSize, s.writeTimeout))
	}
}

// Stop stops the TCP server.
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
	for _, conn := range s.hub.Snapshot() {
		if c, ok := conn.(*Conn); ok {
			c.Close()
		}
	}
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

func (s *Server) handleClient(conn *Conn) {
	defer s.wg.Done()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.hub.Register(conn)
	s.mu.Unlock()
	s.logger.Info("client connected", "clientId", conn.ID(), "remoteAddr", conn.RemoteAddr(), "transport", "tcp", "clients", s.hub.Count())

	s.wg.Add(1)
	go s.writeLoop(conn)

	for {
		data, err := conn.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("read error", "clientId", conn.ID(), "error", err)
			}
			break
		}
		s.router.Route(conn, data)
	}

	s.hub.Unregister(conn)
	conn.Close()
	s.logger.Info("client disconnected", "clientId", conn.ID(), "clients", s.hub.Count())
}

func (s *Server) writeLoop(conn *Conn) {
	defer s.wg.Done()
	if err := conn.WriteLoop(); err != nil {
		s.logger.Debug("failed to write to client", "clientId", conn.ID(), "error", err)
		conn.Close()
	}
}
