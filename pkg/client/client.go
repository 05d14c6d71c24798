package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// readyEvent is the first SSE event the daemon sends on every stream.
const readyEvent = "ready"

// Client provides HTTP client functionality to communicate with the arkwarden daemon
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger

	username string
	password string
	token    string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification

	// Token is sent as a bearer token. Otherwise Username and Password are
	// sent as basic credentials when set.
	Token    string
	Username string
	Password string
}

// TLSClientConfig holds TLS configuration for a daemon behind a TLS proxy
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8420/api",
		Timeout: 15 * time.Second,
	}
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// New creates a new arkwarden API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		// event streams stay open indefinitely
		stream:   &http.Client{Transport: transport},
		username: config.Username,
		password: config.Password,
		token:    config.Token,
	}
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

// Login exchanges the configured username and password for a bearer token
// and uses it for later requests.
func (c *Client) Login(ctx context.Context) (string, error) {
	if c.username == "" {
		return "", errors.New("login requires a username")
	}
	var out loginResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/auth/login", nil, &out); err != nil {
		return "", err
	}
	if out.Token == nil || out.Token.Value == "" {
		return "", errors.New("login response carried no token")
	}
	c.token = out.Token.Value
	return c.token, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instances", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("Daemon reachability check", "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK
}

// Start launches instance id and returns its PID.
func (c *Client) Start(ctx context.Context, id string, req StartRequest) (int, error) {
	c.logger.Debug("Starting instance", "id", id, "executable", req.Executable)
	var out pidResponse
	if err := c.doJSON(ctx, http.MethodPost, c.instanceURL(id, "start"), req, &out); err != nil {
		return 0, err
	}
	return out.PID, nil
}

// Stop kills instance id.
func (c *Client) Stop(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.instanceURL(id, "stop"), nil, nil)
}

// Console sends command to the instance's remote console and returns its
// response text.
func (c *Client) Console(ctx context.Context, id, command string) (string, error) {
	body := map[string]string{"command": command}
	var out consoleResponse
	if err := c.doJSON(ctx, http.MethodPost, c.instanceURL(id, "console"), body, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Stats returns uptime and memory of instance id.
func (c *Client) Stats(ctx context.Context, id string) (Stats, error) {
	var st Stats
	err := c.doJSON(ctx, http.MethodGet, c.instanceURL(id, "stats"), nil, &st)
	return st, err
}

// List returns the running instances.
func (c *Client) List(ctx context.Context) ([]Instance, error) {
	var list []Instance
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/instances", nil, &list)
	return list, err
}

// Maintenance starts a SteamCMD operation and returns its operation id.
func (c *Client) Maintenance(ctx context.Context, req MaintenanceRequest) (string, error) {
	var out operationResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/maintenance", req, &out); err != nil {
		return "", err
	}
	return out.OperationID, nil
}

// Diagnose starts a console diagnostic and returns its operation id.
func (c *Client) Diagnose(ctx context.Context, req DiagnoseRequest) (string, error) {
	var out operationResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/console/diagnose", req, &out); err != nil {
		return "", err
	}
	return out.OperationID, nil
}

// Events follows the daemon's event stream until ctx ends, the stream closes,
// or fn returns false. ready, when set, is called once the subscription is live.
func (c *Client) Events(ctx context.Context, q EventsQuery, ready func() error, fn func(Event) bool) error {
	v := url.Values{}
	if q.Instance != "" {
		v.Set("instance", q.Instance)
	}
	if q.Operation != "" {
		v.Set("operation", q.Operation)
	}
	u := c.baseURL + "/events"
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var name string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if name == readyEvent {
				if ready != nil {
					if err := ready(); err != nil {
						return err
					}
				}
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &e); err != nil {
				c.logger.Debug("Skipping malformed event", "error", err)
				continue
			}
			if !fn(e) {
				return nil
			}
		case line == "":
			name = ""
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return ctx.Err()
}

// FollowDiagnose runs a console diagnostic and hands each step to fn until
// the daemon reports the diagnostic finished.
func (c *Client) FollowDiagnose(ctx context.Context, req DiagnoseRequest, fn func(Step)) error {
	return c.follow(ctx, func(op string) (string, error) {
		req.OperationID = op
		return c.Diagnose(ctx, req)
	},
		EventDiagnosticFinished, func(e Event) {
			if e.Step != nil {
				fn(*e.Step)
			}
		})
}

// FollowMaintenance runs a maintenance operation, hands its output lines to
// fn and returns the completion status.
func (c *Client) FollowMaintenance(ctx context.Context, req MaintenanceRequest, fn func(Event)) (bool, error) {
	var success bool
	err := c.follow(ctx, func(op string) (string, error) {
		req.OperationID = op
		return c.Maintenance(ctx, req)
	},
		EventMaintenanceFinished, func(e Event) {
			if e.Type == EventMaintenanceFinished && e.Success != nil {
				success = *e.Success
			}
			fn(e)
		})
	return success, err
}

// follow picks the operation id, subscribes to that operation only and then
// starts it, so no event is missed and unrelated traffic cannot crowd it out.
func (c *Client) follow(ctx context.Context, start func(op string) (string, error), doneType string, fn func(Event)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	op := uuid.NewString()
	ready := func() error {
		id, err := start(op)
		if err != nil {
			return err
		}
		if id != op {
			return fmt.Errorf("daemon assigned operation %s instead of %s", id, op)
		}
		return nil
	}
	finished := false
	err := c.Events(ctx, EventsQuery{Operation: op}, ready, func(e Event) bool {
		if e.OperationID != op {
			return true
		}
		fn(e)
		if e.Type == doneType {
			finished = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if !finished {
		return errors.New("event stream closed before the operation finished")
	}
	return nil
}

func (c *Client) instanceURL(id, action string) string {
	return c.baseURL + "/instances/" + url.PathEscape(id) + "/" + action
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

// doJSON performs a request with an optional JSON body and decodes the
// response into out when it is non-nil.
func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Kind: errorResp.Kind, Message: errorResp.Error}
}
