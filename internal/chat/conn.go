// Package chat provides the transport-agnostic relay core: the connection
// registry and the message router.
package chat

import "errors"

var (
	// ErrConnClosed is returned by Send once the connection is closed.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendQueueFull is returned by Send when the peer is not draining its queue.
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn abstracts one registered peer.
// This interface isolates transport details from routing logic.
type Conn interface {
	// ID returns the identifier assigned at connect time.
	ID() string

	// Send queues a single frame for delivery. It must not block on the network.
	Send(data []byte) error

	// Close closes the connection. Calling it more than once is allowed.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
