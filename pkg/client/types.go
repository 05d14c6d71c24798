package client

import "time"

// ConsoleSettings are the remote console parameters of an instance.
type ConsoleSettings struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Password string `json:"password,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// StartRequest represents a request to start a server instance
type StartRequest struct {
	InstallPath string          `json:"install_path"`
	Executable  string          `json:"executable"`
	Args        []string        `json:"args,omitempty"`
	Env         []string        `json:"env,omitempty"`
	LogPath     string          `json:"log_path,omitempty"`
	Console     ConsoleSettings `json:"console"`
}

// Instance is a running server as reported by the daemon
type Instance struct {
	ID          string          `json:"id"`
	PID         int             `json:"pid"`
	Console     ConsoleSettings `json:"console"`
	InstallPath string          `json:"install_path"`
	Executable  string          `json:"executable"`
	LogPath     string          `json:"log_path"`
	StartedAt   time.Time       `json:"started_at"`
}

// Stats is the OS view of a running instance
type Stats struct {
	UptimeSeconds uint64 `json:"uptime_seconds"`
	MemoryBytes   uint64 `json:"memory_bytes"`
}

// MaintenanceRequest asks the daemon to run SteamCMD for an install
type MaintenanceRequest struct {
	InstallPath string `json:"install_path"`
	Target      string `json:"target"`
	MapID       string `json:"map_id,omitempty"`
	ModIDs      string `json:"mod_ids,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
}

// DiagnoseRequest names the console endpoint to diagnose
type DiagnoseRequest struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Password    string `json:"password,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
}

// Step is one diagnostic result
type Step struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details"`
}

// Player identifies a player in join/leave events
type Player struct {
	Name string `json:"player_name"`
	ID   string `json:"player_id"`
}

// Event is a streamed notice from the daemon
type Event struct {
	Type        string    `json:"type"`
	InstanceID  string    `json:"instance_id,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	Time        time.Time `json:"time"`
	Line        string    `json:"line,omitempty"`
	MemoryMB    *float64  `json:"memory_mb,omitempty"`
	Player      *Player   `json:"player,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Step        *Step     `json:"step,omitempty"`
	Success     *bool     `json:"success,omitempty"`
}

// Event types delivered by the daemon.
const (
	EventLogLine             = "server-log-line"
	EventManagerLine         = "manager-log-line"
	EventMilestone           = "server-running"
	EventMemorySample        = "log-stats-update"
	EventPlayerJoined        = "player-joined"
	EventPlayerLeft          = "player-left"
	EventProcessExited       = "server-stopped"
	EventDiagnosticStep      = "rcon-diag-step"
	EventDiagnosticFinished  = "rcon-diag-finished"
	EventMaintenanceLine     = "maintenance-log"
	EventMaintenanceFinished = "maintenance-finished"
)

// EventsQuery filters the event stream
type EventsQuery struct {
	Instance  string
	Operation string
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type consoleResponse struct {
	OK       bool   `json:"ok"`
	Response string `json:"response"`
}

type pidResponse struct {
	PID int `json:"pid"`
}

type operationResponse struct {
	OperationID string `json:"operation_id"`
}

type loginResponse struct {
	Success bool `json:"success"`
	Token   *struct {
		Type      string    `json:"type"`
		Value     string    `json:"value"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"token"`
}
