package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventExit  EventType = "exit"
)

// Record is the instance snapshot attached to a history event.
type Record struct {
	InstanceID  string     `json:"instance_id"`
	PID         int        `json:"pid"`
	InstallPath string     `json:"install_path"`
	Executable  string     `json:"executable"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SendTimeout bounds a single Publish call per sink.
const SendTimeout = 5 * time.Second

// Publish delivers e to every sink. Failures are logged, never returned:
// history is best effort and must not affect instance lifecycle.
func Publish(sinks []Sink, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("Failed to record history event", "type", e.Type, "instance", e.Record.InstanceID, "error", err)
		}
		cancel()
	}
}
