package history

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	// EventTransition is a supervisor state change.
	EventTransition EventType = "transition"
	// EventStartOutcome records the interpreted result of a start call.
	EventStartOutcome EventType = "start_outcome"
	// EventUp and EventDown are reported by the monitor when liveness flips.
	EventUp   EventType = "up"
	EventDown EventType = "down"
)

// Event is one record exported to analytics systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	// Runtime names the supervised runtime, usually its app base.
	Runtime string `json:"runtime"`
	PID     int    `json:"pid"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SendTimeout bounds a Broadcast per sink.
const SendTimeout = 5 * time.Second

// Broadcast delivers e to every sink. Failures are logged and dropped;
// history never blocks supervision for longer than SendTimeout per sink.
func Broadcast(ctx context.Context, sinks []Sink, e Event, log *slog.Logger) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, SendTimeout)
		err := s.Send(sctx, e)
		cancel()
		if err != nil && log != nil {
			log.Warn("history sink failed", "event", e.Type, "error", err)
		}
	}
}

// CloseAll closes every sink that implements io.Closer.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
