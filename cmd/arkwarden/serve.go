package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/arkwarden"
	"github.com/loykin/arkwarden/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the arkwarden daemon",
		Long: `Start the arkwarden daemon that supervises server instances.
Configuration is loaded from a TOML file; ARKWARDEN_* environment variables override it.

Examples:
  arkwarden serve                          # defaults, no instance profiles
  arkwarden serve arkwarden.toml
  arkwarden serve --config=arkwarden.toml --daemonize --pidfile=/run/arkwarden.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

// daemon is the wired set of services behind serve.
type daemon struct {
	mgr     *arkwarden.Manager
	servers []*http.Server
}

func runServe(flags *ServeFlags) error {
	cfg, err := arkwarden.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		if !isDaemonSupported() {
			return errors.New("daemonize is not supported on this platform")
		}
		if err := daemonize(flags.PidFile, flags.LogFile); err != nil {
			return err
		}
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	log, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	d.mgr.Autostart(ctx)
	if err := d.mgr.StartSchedules(ctx); err != nil {
		_ = d.close()
		return err
	}

	<-ctx.Done()
	slog.Info("Shutting down")
	return d.close()
}

func newDaemon(ctx context.Context, cfg *arkwarden.Config) (*daemon, error) {
	mgr, err := arkwarden.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	d := &daemon{mgr: mgr}
	if cfg.History.Enabled {
		slog.Info("Instance history enabled")
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		if err := arkwarden.RegisterMetricsDefault(); err != nil {
			slog.Warn("Failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			d.servers = append(d.servers, serveMetrics(cfg.Metrics.Listen))
		} else {
			metricsHandler = arkwarden.MetricsHandler()
		}
	}

	srv, err := arkwarden.NewHTTPServer(ctx, cfg.Server.Listen, cfg.Server.BasePath, mgr, metricsHandler)
	if err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}
	d.servers = append(d.servers, srv)
	slog.Info("Starting arkwarden HTTP server", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "tls", cfg.Server.TLS.Enabled, "auth", cfg.Auth.Enabled)
	return d, nil
}

func serveMetrics(addr string) *http.Server {
	srv := arkwarden.NewMetricsServer(addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server error", "error", err)
		}
	}()
	slog.Info("Serving metrics", "listen", addr)
	return srv
}

// close ends event streams so long-lived requests return, then shuts the
// listeners down and releases the manager. Server processes keep running.
func (d *daemon) close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = d.mgr.Close()
	var errs []error
	for _, s := range d.servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
