// Package console talks to a server's remote console (RCON). Every call opens
// its own session; nothing is pooled between calls.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gorcon/rcon"

	"github.com/loykin/arkwarden/internal/apperr"
	"github.com/loykin/arkwarden/internal/metrics"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultDeadline     = 10 * time.Second
	DefaultProbeTimeout = 10 * time.Second
)

// Endpoint is a console address.
type Endpoint struct {
	Host string `json:"host" mapstructure:"host" validate:"required"`
	Port uint16 `json:"port" mapstructure:"port" validate:"required"`
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Session is an authenticated console connection.
type Session interface {
	Execute(command string) (string, error)
	Close() error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, address, password string) (Session, error)
}

// RCONDialer is the production Dialer backed by gorcon/rcon.
type RCONDialer struct {
	DialTimeout time.Duration
	Deadline    time.Duration
}

func (d RCONDialer) Dial(ctx context.Context, address, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dt, dl := d.DialTimeout, d.Deadline
	if dt <= 0 {
		dt = DefaultDialTimeout
	}
	if dl <= 0 {
		dl = DefaultDeadline
	}
	conn, err := rcon.Dial(address, password, rcon.SetDialTimeout(dt), rcon.SetDeadline(dl))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Client executes commands and runs diagnostics.
type Client struct {
	dialer       Dialer
	probeTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the session dialer.
func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithProbeTimeout sets the raw TCP probe timeout used by Diagnose.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{dialer: RCONDialer{}, probeTimeout: DefaultProbeTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Execute opens a session, runs one command and closes the session. A blank
// response is replaced by an acknowledgment line.
func (c *Client) Execute(ctx context.Context, ep Endpoint, password, command string) (string, error) {
	const op = "console.execute"
	sess, err := c.dialer.Dial(ctx, ep.Address(), password)
	if err != nil {
		metrics.IncConsoleCommand("connection_error")
		slog.Warn("RCON connection failed", "address", ep.Address(), "error", err)
		return "", apperr.Wrap(apperr.KindConnection, op, "RCON connection failed", err)
	}
	defer func() { _ = sess.Close() }()

	resp, err := sess.Execute(command)
	if err != nil {
		metrics.IncConsoleCommand("command_error")
		slog.Warn("RCON command failed", "address", ep.Address(), "command", command, "error", err)
		return "", apperr.Wrap(apperr.KindCommand, op, "RCON command failed", err)
	}
	metrics.IncConsoleCommand("ok")
	return Acknowledge(command, resp), nil
}

// Acknowledge trims resp and substitutes a success line when it is empty.
func Acknowledge(command, resp string) string {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return fmt.Sprintf("Command '%s' executed successfully", command)
	}
	return resp
}
