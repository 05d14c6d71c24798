package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/arkwarden/internal/config"
	"github.com/loykin/arkwarden/pkg/client"
)

// command carries the global flags into every client-side command
type command struct {
	flags *GlobalFlags
}

// loadConfig returns the config named by --config, or nil when none was given.
func (c command) loadConfig() (*config.Config, error) {
	if c.flags.ConfigPath == "" {
		return nil, nil
	}
	cfg, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// apiURL picks the daemon URL: --api-url, then [server] of --config, then the default.
func (c command) apiURL(cfg *config.Config) string {
	if c.flags.APIUrl != "" {
		return c.flags.APIUrl
	}
	if cfg != nil {
		host := cfg.Server.Listen
		if strings.HasPrefix(host, ":") || strings.HasPrefix(host, "0.0.0.0:") {
			host = "127.0.0.1" + host[strings.Index(host, ":"):]
		}
		scheme := "http://"
		if cfg.Server.TLS.Enabled {
			scheme = "https://"
		}
		return scheme + host + cfg.Server.BasePath
	}
	return client.DefaultConfig().BaseURL
}

func (c command) client(cfg *config.Config) *client.Client {
	return client.New(client.Config{
		BaseURL:  c.apiURL(cfg),
		Timeout:  c.flags.APITimeout,
		Insecure: c.flags.Insecure,
		Token:    c.flags.Token,
		Username: c.flags.User,
		Password: c.flags.Password,
	})
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Start launches an instance. A profile with the same id in --config supplies
// defaults; flags override it.
func (c command) Start(id string, f StartFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	req := client.StartRequest{}
	if cfg != nil {
		if p, ok := cfg.Instance(id); ok {
			req = startRequestFromProfile(p)
		}
	}
	if f.InstallPath != "" {
		req.InstallPath = f.InstallPath
	}
	if f.Executable != "" {
		req.Executable = f.Executable
	}
	if len(f.Args) > 0 {
		req.Args = f.Args
	}
	if len(f.Env) > 0 {
		req.Env = append(req.Env, f.Env...)
	}
	if f.LogPath != "" {
		req.LogPath = f.LogPath
	}
	if f.RCONHost != "" {
		req.Console.Host = f.RCONHost
	}
	if f.RCONPort != 0 {
		req.Console.Port = f.RCONPort
	}
	if f.RCONPassword != "" {
		req.Console.Password = f.RCONPassword
	}
	if f.RCONEnabled {
		req.Console.Enabled = true
	}
	if req.InstallPath == "" || req.Executable == "" {
		return fmt.Errorf("instance %q needs --install-path and --executable (or a [[instances]] profile)", id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.flags.APITimeout)
	defer cancel()
	pid, err := c.client(cfg).Start(ctx, id, req)
	if err != nil {
		return err
	}
	success("Started %s with PID %d", bold.Sprint(id), pid)
	return nil
}

func startRequestFromProfile(p config.InstanceConfig) client.StartRequest {
	return client.StartRequest{
		InstallPath: p.InstallPath,
		Executable:  p.Executable,
		Args:        p.Args,
		Env:         p.Env,
		LogPath:     p.LogPath,
		Console: client.ConsoleSettings{
			Host:     p.Console.Host,
			Port:     p.Console.Port,
			Password: p.Console.Password,
			Enabled:  p.Console.Enabled,
		},
	}
}

func (c command) Stop(id string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.flags.APITimeout)
	defer cancel()
	if err := c.client(cfg).Stop(ctx, id); err != nil {
		return err
	}
	success("Stop requested for %s", bold.Sprint(id))
	return nil
}

// Console sends a command and prints the response.
func (c command) Console(id, line string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.flags.APITimeout)
	defer cancel()
	resp, err := c.client(cfg).Console(ctx, id, line)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, resp)
	return nil
}

func (c command) Stats(id string, asJSON bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.flags.APITimeout)
	defer cancel()
	st, err := c.client(cfg).Stats(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(st)
		return nil
	}
	_, _ = fmt.Fprintln(stdout, bold.Sprint(id))
	keyValue("uptime", (time.Duration(st.UptimeSeconds) * time.Second).String())
	keyValue("memory", fmt.Sprintf("%.1f MB", float64(st.MemoryBytes)/(1024*1024)))
	return nil
}

func (c command) List(asJSON bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.flags.APITimeout)
	defer cancel()
	list, err := c.client(cfg).List(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(list)
		return nil
	}
	if len(list) == 0 {
		info("No running instances")
		return nil
	}
	for _, in := range list {
		_, _ = fmt.Fprintf(stdout, "%s  pid=%d  since=%s\n", bold.Sprint(in.ID), in.PID, in.StartedAt.Local().Format(time.DateTime))
		keyValue("executable", in.Executable)
		keyValue("log", in.LogPath)
		if in.Console.Enabled {
			keyValue("console", fmt.Sprintf("%s:%d", in.Console.Host, in.Console.Port))
		}
	}
	return nil
}

// Maintenance runs a SteamCMD operation and follows it to completion unless
// detached.
func (c command) Maintenance(target, instance string, f MaintenanceFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	req := client.MaintenanceRequest{InstallPath: f.InstallPath, Target: target, MapID: f.MapID, ModIDs: f.ModIDs}
	if req.InstallPath == "" && instance != "" && cfg != nil {
		if p, ok := cfg.Instance(instance); ok {
			req.InstallPath = p.InstallPath
		}
	}
	if req.InstallPath == "" {
		return fmt.Errorf("--install-path is required (or an instance profile from --config)")
	}
	cl := c.client(cfg)

	if f.Detach {
		ctx, cancel := context.WithTimeout(context.Background(), c.flags.APITimeout)
		defer cancel()
		op, err := cl.Maintenance(ctx, req)
		if err != nil {
			return err
		}
		success("Maintenance started: %s", op)
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	ok, err := cl.FollowMaintenance(ctx, req, func(e client.Event) {
		if e.Type == client.EventMaintenanceLine {
			_, _ = fmt.Fprintln(stdout, e.Line)
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("maintenance %s failed", target)
	}
	return nil
}

// Diagnose runs the console connectivity checks and prints each step.
func (c command) Diagnose(f DiagnoseFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	req := client.DiagnoseRequest{Host: f.Host, Port: f.Port, Password: f.Password}
	if f.Instance != "" && cfg != nil {
		if p, ok := cfg.Instance(f.Instance); ok {
			if req.Host == "" {
				req.Host = p.Console.Host
			}
			if req.Port == 0 {
				req.Port = p.Console.Port
			}
			if req.Password == "" {
				req.Password = p.Console.Password
			}
		}
	}
	if req.Host == "" || req.Port == 0 {
		return fmt.Errorf("--host and --port are required (or --instance with a console profile)")
	}

	info("Diagnosing RCON at %s:%d", req.Host, req.Port)
	ctx, cancel := signalContext()
	defer cancel()
	failed := false
	err = c.client(cfg).FollowDiagnose(ctx, req, func(s client.Step) {
		if s.Status != "success" {
			failed = true
		}
		_, _ = fmt.Fprintln(stdout, formatStep(s))
	})
	if err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("RCON diagnostic reported failures")
	}
	return nil
}

// Events follows the event stream until interrupted.
func (c command) Events(f EventsFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	q := client.EventsQuery{Instance: f.Instance, Operation: f.Operation}
	ready := func() error {
		info("Connected to event stream. Press Ctrl+C to exit.")
		return nil
	}
	err = c.client(cfg).Events(ctx, q, ready, func(e client.Event) bool {
		if f.JSON {
			printJSON(e)
			return true
		}
		_, _ = fmt.Fprintln(stdout, formatEvent(e))
		return true
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func createStartCommand(c command, f *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <instance>",
		Short: "Start a server instance",
		Long: `Start a server instance on the daemon. When --config holds an [[instances]]
profile with the same id it provides the defaults.

Examples:
  arkwarden start island --config=arkwarden.toml
  arkwarden start island --install-path=/srv/ark --executable=/srv/ark/ShooterGame/Binaries/Win64/ArkAscendedServer.exe \
    --arg "TheIsland_WP?listen?RCONEnabled=True?RCONPort=27020" --rcon-host=127.0.0.1 --rcon-port=27020 --rcon-enabled`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(args[0], *f)
		},
	}
	cmd.Flags().StringVar(&f.InstallPath, "install-path", "", "server install directory")
	cmd.Flags().StringVar(&f.Executable, "executable", "", "server executable")
	cmd.Flags().StringArrayVar(&f.Args, "arg", nil, "server argument (repeatable)")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "extra environment KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&f.LogPath, "log-path", "", "override the ShooterGame.log location")
	cmd.Flags().StringVar(&f.RCONHost, "rcon-host", "", "remote console host")
	cmd.Flags().Uint16Var(&f.RCONPort, "rcon-port", 0, "remote console port")
	cmd.Flags().StringVar(&f.RCONPassword, "rcon-password", "", "remote console password")
	cmd.Flags().BoolVar(&f.RCONEnabled, "rcon-enabled", false, "enable the remote console")
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <instance>",
		Short: "Force-stop a server instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(args[0])
		},
	}
}

func createConsoleCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "console <instance> <command...>",
		Short: "Send a remote console command",
		Long: `Send a command to the instance's remote console and print the response.

Examples:
  arkwarden console island saveworld
  arkwarden console island broadcast "Restart in 5 minutes"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Console(args[0], strings.Join(args[1:], " "))
		},
	}
}

func createStatsCommand(c command) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <instance>",
		Short: "Show uptime and memory of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stats(args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func createListCommand(c command) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List running instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func createMaintenanceCommand(c command, f *MaintenanceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance <server|map|mods> [instance]",
		Short: "Update server files, map DLC or mods through SteamCMD",
		Long: `Run SteamCMD against an install and follow its output.

Examples:
  arkwarden maintenance server --install-path=/srv/ark
  arkwarden maintenance map island --config=arkwarden.toml --map-id=ScorchedEarth_WP
  arkwarden maintenance mods --install-path=/srv/ark --mod-ids=928501,929420`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"server", "map", "mods"},
		RunE: func(cmd *cobra.Command, args []string) error {
			instance := ""
			if len(args) > 1 {
				instance = args[1]
			}
			return c.Maintenance(args[0], instance, *f)
		},
	}
	cmd.Flags().StringVar(&f.InstallPath, "install-path", "", "server install directory")
	cmd.Flags().StringVar(&f.MapID, "map-id", "", "map id for the map target")
	cmd.Flags().StringVar(&f.ModIDs, "mod-ids", "", "comma separated workshop ids for the mods target")
	cmd.Flags().BoolVar(&f.Detach, "detach", false, "return after the operation is accepted")
	return cmd
}

func createDiagnoseCommand(c command, f *DiagnoseFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check remote console connectivity step by step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Diagnose(*f)
		},
	}
	cmd.Flags().StringVar(&f.Instance, "instance", "", "take host/port/password from this instance profile")
	cmd.Flags().StringVar(&f.Host, "host", "", "console host")
	cmd.Flags().Uint16Var(&f.Port, "port", 0, "console port")
	cmd.Flags().StringVar(&f.Password, "password", "", "console password")
	return cmd
}

func createEventsCommand(c command, f *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the daemon's event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Events(*f)
		},
	}
	cmd.Flags().StringVar(&f.Instance, "instance", "", "only events of this instance")
	cmd.Flags().StringVar(&f.Operation, "operation", "", "only events of this maintenance/diagnostic operation")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print raw JSON events")
	return cmd
}
