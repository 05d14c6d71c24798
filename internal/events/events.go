package events

import "time"

// Type names a streamed notice. The string values are the wire names used by
// the SSE and WebSocket endpoints.
type Type string

const (
	TypeLogLine             Type = "server-log-line"
	TypeManagerLine         Type = "manager-log-line"
	TypeMilestone           Type = "server-running"
	TypeMemorySample        Type = "log-stats-update"
	TypePlayerJoined        Type = "player-joined"
	TypePlayerLeft          Type = "player-left"
	TypeProcessExited       Type = "server-stopped"
	TypeDiagnosticStep      Type = "rcon-diag-step"
	TypeDiagnosticFinished  Type = "rcon-diag-finished"
	TypeMaintenanceLine     Type = "maintenance-log"
	TypeMaintenanceFinished Type = "maintenance-finished"
)

// StepStatus is the outcome of one diagnostic step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
)

// Step is one entry of a console diagnostic run.
type Step struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Details string     `json:"details"`
}

// Player is the payload of a player join/leave notice.
type Player struct {
	Name string `json:"player_name"`
	ID   string `json:"player_id"`
}

// Event is a single streamed notice. Only the fields relevant to Type are set.
type Event struct {
	Type        Type      `json:"type"`
	InstanceID  string    `json:"instance_id,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	Time        time.Time `json:"time"`

	Line     string   `json:"line,omitempty"`
	MemoryMB *float64 `json:"memory_mb,omitempty"`
	Player   *Player  `json:"player,omitempty"`
	ExitCode *int     `json:"exit_code,omitempty"`
	Step     *Step    `json:"step,omitempty"`
	Success  *bool    `json:"success,omitempty"`
}

// Emitter receives events. Implementations must be safe for concurrent use
// and must not block for long.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

func stamp(e Event) Event {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

func LogLine(instance, line string) Event {
	return stamp(Event{Type: TypeLogLine, InstanceID: instance, Line: line})
}

func ManagerLine(instance, line string) Event {
	return stamp(Event{Type: TypeManagerLine, InstanceID: instance, Line: line})
}

func Milestone(instance string) Event {
	return stamp(Event{Type: TypeMilestone, InstanceID: instance})
}

func MemorySample(instance string, mb float64) Event {
	return stamp(Event{Type: TypeMemorySample, InstanceID: instance, MemoryMB: &mb})
}

func PlayerActivity(instance string, joined bool, name, id string) Event {
	t := TypePlayerLeft
	if joined {
		t = TypePlayerJoined
	}
	return stamp(Event{Type: t, InstanceID: instance, Player: &Player{Name: name, ID: id}})
}

func ProcessExited(instance string, code *int) Event {
	return stamp(Event{Type: TypeProcessExited, InstanceID: instance, ExitCode: code})
}

func DiagnosticStep(op string, s Step) Event {
	return stamp(Event{Type: TypeDiagnosticStep, OperationID: op, Step: &s})
}

func DiagnosticFinished(op string) Event {
	return stamp(Event{Type: TypeDiagnosticFinished, OperationID: op})
}

func MaintenanceLine(op, line string) Event {
	return stamp(Event{Type: TypeMaintenanceLine, OperationID: op, Line: line})
}

func MaintenanceFinished(op string, success bool, message string) Event {
	return stamp(Event{Type: TypeMaintenanceFinished, OperationID: op, Success: &success, Line: message})
}
