// Package transport holds pieces shared by the relay's network transports.
package transport

import (
	"sync"

	"github.com/omochice/broadcast-relay/internal/chat"
)

// Outbox is a bounded per-connection queue of outbound frames.
// Push never blocks; a single writer goroutine calls Drain.
type Outbox struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewOutbox creates an Outbox holding up to size frames.
func NewOutbox(size int) *Outbox {
	return &Outbox{
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// Push queues data. It fails with chat.ErrConnClosed after Close and with
// chat.ErrSendQueueFull when the queue is full.
func (o *Outbox) Push(data []byte) error {
	select {
	case <-o.done:
		return chat.ErrConnClosed
	default:
	}

	select {
	case o.frames <- data:
		return nil
	case <-o.done:
		return chat.ErrConnClosed
	default:
		return chat.ErrSendQueueFull
	}
}

// Drain passes queued frames to write until Close is called or write fails.
// Frames still queued at Close are discarded.
func (o *Outbox) Drain(write func([]byte) error) error {
	for {
		select {
		case <-o.done:
			return nil
		case data := <-o.frames:
			if err := write(data); err != nil {
				return err
			}
		}
	}
}

// Close stops Drain. It reports whether this call closed the outbox.
func (o *Outbox) Close() bool {
	closed := false
	o.once.Do(func() {
		close(o.done)
		closed = true
	})
	return closed
}
