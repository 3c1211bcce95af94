package chat

import (
	"errors"
	"log/slog"

	"github.com/samber/lo"

	"github.com/omochice/broadcast-relay/pkg/protocol"
)

// Outcome describes what the router did with a frame.
type Outcome int

const (
	OutcomeBroadcast Outcome = iota
	OutcomeMalformed
	OutcomeEmpty
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeBroadcast:
		return "BROADCAST"
	case OutcomeMalformed:
		return "MALFORMED"
	case OutcomeEmpty:
		return "EMPTY"
	default:
		return "UNKNOWN"
	}
}

// Result reports a single Route call. It is never sent back to the sender.
type Result struct {
	Outcome   Outcome
	Delivered int
	Failed    int
}

// Router validates inbound frames and fans them out through a Hub.
type Router struct {
	hub    *Hub
	logger *slog.Logger
}

// NewRouter creates a Router delivering to the connections registered in hub.
func NewRouter(hub *Hub, logger *slog.Logger) *Router {
	return &Router{hub: hub, logger: logger}
}

// Route delivers raw, unchanged, to every registered connection except sender.
// Invalid frames are logged and dropped. Per-recipient failures are counted
// and otherwise ignored.
func (r *Router) Route(sender Conn, raw []byte) Result {
	if _, err := protocol.Parse(raw); err != nil {
		return r.drop(sender, raw, err)
	}

	recipients := lo.Reject(r.hub.Snapshot(), func(c Conn, _ int) bool {
		return c.ID() == sender.ID()
	})

	result := Result{Outcome: OutcomeBroadcast}
	for _, conn := range recipients {
		if err := conn.Send(raw); err != nil {
			r.logger.Debug("delivery failed", "clientId", conn.ID(), "senderId", sender.ID(), "error", err)
			result.Failed++
			continue
		}
		result.Delivered++
	}
	return result
}

func (r *Router) drop(sender Conn, raw []byte, err error) Result {
	switch {
	case errors.Is(err, protocol.ErrEmptyText):
		r.logger.Warn("empty message", "clientId", sender.ID())
		return Result{Outcome: OutcomeEmpty}
	case errors.Is(err, protocol.ErrInvalidJSON):
		r.logger.Error("invalid json", "clientId", sender.ID(), "message", string(raw), "error", err)
	default:
		r.logger.Warn("invalid envelope", "clientId", sender.ID(), "message", string(raw), "error", err)
	}
	return Result{Outcome: OutcomeMalformed}
}
