package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers (HTTP router, CLI) can react without string matching.
type Kind string

const (
	KindAlreadyRunning  Kind = "already_running"
	KindNotRunning      Kind = "not_running"
	KindSpawn           Kind = "spawn"
	KindConnection      Kind = "connection"
	KindCommand         Kind = "command"
	KindNotEnabled      Kind = "not_enabled"
	KindTool            Kind = "tool"
	KindFileUnavailable Kind = "file_unavailable"
	KindProcessGone     Kind = "process_gone"
	KindInvalid         Kind = "invalid"
	KindInternal        Kind = "internal"
)

// Error is the structured error returned by arkwarden components.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrNotRunning) works for any
// *Error carrying the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrAlreadyRunning  = &Error{Kind: KindAlreadyRunning, Msg: "server is already running for this profile"}
	ErrNotRunning      = &Error{Kind: KindNotRunning, Msg: "server is not running for this profile"}
	ErrNotEnabled      = &Error{Kind: KindNotEnabled, Msg: "RCON is not enabled for this server profile"}
	ErrSpawn           = &Error{Kind: KindSpawn}
	ErrConnection      = &Error{Kind: KindConnection}
	ErrCommand         = &Error{Kind: KindCommand}
	ErrTool            = &Error{Kind: KindTool}
	ErrFileUnavailable = &Error{Kind: KindFileUnavailable}
	ErrProcessGone     = &Error{Kind: KindProcessGone}
	ErrInvalid         = &Error{Kind: KindInvalid}
)

// New builds an *Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code used by the HTTP API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAlreadyRunning:
		return http.StatusConflict
	case KindNotRunning, KindProcessGone:
		return http.StatusNotFound
	case KindNotEnabled:
		return http.StatusPreconditionFailed
	case KindConnection, KindCommand:
		return http.StatusBadGateway
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
