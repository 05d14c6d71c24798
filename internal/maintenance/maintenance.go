// Package maintenance drives SteamCMD for server, map and mod updates. Each
// operation writes a runscript and hands it to the tool runner.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/arkwarden/internal/apperr"
	"github.com/loykin/arkwarden/internal/events"
	"github.com/loykin/arkwarden/internal/toolrun"
)

// ServerAppID is the ARK: Survival Ascended dedicated server app id.
const ServerAppID = "2430930"

// MapAppIDs maps a map id to its DLC app id. Maps missing here ship with the
// base server.
var MapAppIDs = map[string]string{
	"ScorchedEarth_WP": "2430940",
	"Aberration_WP":    "2430950",
	"Extinction_WP":    "2430980",
	"Valguero_WP":      "2430990",
	"Ragnarok_WP":      "2430960",
	"TheCenter_WP":     "2430970",
}

// Target selects what a maintenance request updates.
type Target string

const (
	TargetServer Target = "server"
	TargetMap    Target = "map"
	TargetMods   Target = "mods"
)

// Request is one maintenance operation.
type Request struct {
	InstallPath string `json:"install_path" validate:"required"`
	Target      Target `json:"target" validate:"required,oneof=server map mods"`
	MapID       string `json:"map_id,omitempty"`
	ModIDs      string `json:"mod_ids,omitempty"`
	// OperationID lets a caller pick the id up front so it can subscribe to
	// the operation before starting it. Generated when empty.
	OperationID string `json:"operation_id,omitempty" validate:"omitempty,uuid"`
}

// Config controls where SteamCMD lives and how failures are retried.
type Config struct {
	SteamCMDDir string        `mapstructure:"steamcmd_dir_name"`
	SteamCMDExe string        `mapstructure:"steamcmd_exe"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

func (c Config) withDefaults() Config {
	if c.SteamCMDDir == "" {
		c.SteamCMDDir = "steamcmd"
	}
	if c.SteamCMDExe == "" {
		c.SteamCMDExe = defaultExe()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = toolrun.DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = toolrun.DefaultRetryDelay
	}
	return c
}

func defaultExe() string {
	if runtime.GOOS == "windows" {
		return "steamcmd.exe"
	}
	return "steamcmd.sh"
}

// Service runs maintenance operations and streams their progress.
type Service struct {
	cfg    Config
	runner *toolrun.Runner
	emit   events.Emitter
}

func New(cfg Config, runner *toolrun.Runner, emit events.Emitter) *Service {
	if runner == nil {
		runner = toolrun.NewRunner()
	}
	return &Service{cfg: cfg.withDefaults(), runner: runner, emit: emit}
}

// Start validates req and runs it in the background. Progress and the single
// completion notice are tagged with the returned operation id.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.InstallPath) == "" {
		return "", apperr.New(apperr.KindInvalid, "maintenance.start", "install_path is required")
	}
	if err := checkInstallPath(req.InstallPath); err != nil {
		return "", err
	}
	switch req.Target {
	case TargetServer, TargetMap:
	case TargetMods:
		if _, err := ParseModIDs(req.ModIDs); err != nil {
			return "", err
		}
	default:
		return "", apperr.New(apperr.KindInvalid, "maintenance.start", fmt.Sprintf("unknown target %q", req.Target))
	}
	op := req.OperationID
	if op == "" {
		op = uuid.NewString()
	} else if _, err := uuid.Parse(op); err != nil {
		return "", apperr.New(apperr.KindInvalid, "maintenance.start", "operation_id must be a UUID")
	}
	go func() { _ = s.Run(ctx, op, req) }()
	return op, nil
}

// Run executes req synchronously.
func (s *Service) Run(ctx context.Context, op string, req Request) error {
	switch req.Target {
	case TargetServer:
		return s.UpdateServer(ctx, op, req.InstallPath)
	case TargetMap:
		return s.UpdateMap(ctx, op, req.InstallPath, req.MapID)
	case TargetMods:
		return s.UpdateMods(ctx, op, req.InstallPath, req.ModIDs)
	default:
		err := apperr.New(apperr.KindInvalid, "maintenance.run", fmt.Sprintf("unknown target %q", req.Target))
		s.finish(op, false, err.Error())
		return err
	}
}

// UpdateServer installs or validates the dedicated server files.
func (s *Service) UpdateServer(ctx context.Context, op, install string) error {
	s.line(op, "Starting server file update...")
	hdr, err := header(install)
	if err != nil {
		return s.fail(op, err)
	}
	script := hdr + "app_update " + ServerAppID + " validate\nquit\n"
	return s.runScript(ctx, op, install, "update_script.txt", "Server file update", script)
}

// UpdateMap downloads the DLC for mapID. Base-game maps are a no-op.
func (s *Service) UpdateMap(ctx context.Context, op, install, mapID string) error {
	s.line(op, "Starting map update...")
	appID, ok := MapAppIDs[mapID]
	if !ok {
		msg := "Selected map is not a downloadable DLC. Nothing to do."
		s.line(op, "  > "+msg)
		s.finish(op, true, msg)
		return nil
	}
	hdr, err := header(install)
	if err != nil {
		return s.fail(op, err)
	}
	s.line(op, fmt.Sprintf("  > Downloading map '%s' (App ID: %s)...", mapID, appID))
	script := hdr + "app_update " + appID + " validate\nquit\n"
	return s.runScript(ctx, op, install, "map_update_script.txt", "Map update", script)
}

// UpdateMods downloads every workshop item in the comma separated modIDs.
func (s *Service) UpdateMods(ctx context.Context, op, install, modIDs string) error {
	s.line(op, "Starting mod update...")
	ids, err := ParseModIDs(modIDs)
	if err != nil {
		return s.fail(op, err)
	}
	if len(ids) == 0 {
		msg := "No mod IDs provided. Nothing to do."
		s.line(op, "  > "+msg)
		s.finish(op, true, msg)
		return nil
	}
	hdr, err := header(install)
	if err != nil {
		return s.fail(op, err)
	}
	s.line(op, fmt.Sprintf("  > Found %d mods to download/update...", len(ids)))
	var b strings.Builder
	b.WriteString(hdr)
	for _, id := range ids {
		fmt.Fprintf(&b, "workshop_download_item %s %s\n", ServerAppID, id)
	}
	b.WriteString("quit\n")
	return s.runScript(ctx, op, install, "mod_update_script.txt", "Mod update", b.String())
}

// ParseModIDs splits a comma separated list, dropping blanks. Workshop ids
// are numeric; anything else would inject extra runscript commands.
func ParseModIDs(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if strings.TrimLeft(id, "0123456789") != "" {
			return nil, apperr.New(apperr.KindInvalid, "maintenance", fmt.Sprintf("invalid mod id %q", id))
		}
		out = append(out, id)
	}
	return out, nil
}

// checkInstallPath rejects paths that cannot be quoted in a runscript.
func checkInstallPath(install string) error {
	if strings.ContainsAny(install, "\"\r\n") {
		return apperr.New(apperr.KindInvalid, "maintenance", "install_path must not contain quotes or line breaks")
	}
	return nil
}

func header(install string) (string, error) {
	if err := checkInstallPath(install); err != nil {
		return "", err
	}
	dir := strings.ReplaceAll(install, `\`, "/")
	return fmt.Sprintf("force_install_dir \"%s\"\nlogin anonymous\n", dir), nil
}

func (s *Service) runScript(ctx context.Context, op, install, scriptName, label, script string) error {
	dir := filepath.Join(install, s.cfg.SteamCMDDir)
	scriptPath := filepath.Join(dir, scriptName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return s.fail(op, apperr.Wrap(apperr.KindTool, "maintenance", "failed to prepare SteamCMD directory", err))
	}
	if err := os.WriteFile(scriptPath, []byte(script), 0o600); err != nil {
		return s.fail(op, apperr.Wrap(apperr.KindTool, "maintenance", "failed to write SteamCMD script file", err))
	}

	slog.Info("Maintenance started", "operation", op, "task", label, "install", install)
	out := s.runner.Run(ctx, toolrun.Spec{
		Name:        label,
		Executable:  filepath.Join(dir, s.cfg.SteamCMDExe),
		Args:        []string{"+runscript", scriptPath},
		Dir:         dir,
		MaxAttempts: s.cfg.MaxAttempts,
		RetryDelay:  s.cfg.RetryDelay,
		ScratchFile: scriptPath,
	}, toolrun.ObserverFunc(func(l string) { s.line(op, l) }))

	if out.Success {
		msg := label + " completed successfully!"
		s.line(op, msg)
		s.finish(op, true, msg)
		slog.Info("Maintenance finished", "operation", op, "task", label, "attempts", out.Attempts)
		return nil
	}
	msg := fmt.Sprintf("%s finished with an error after %d attempts: %s", label, out.Attempts, out.LastError)
	s.line(op, msg)
	s.finish(op, false, msg)
	slog.Warn("Maintenance failed", "operation", op, "task", label, "attempts", out.Attempts, "error", out.LastError)
	return out.Err()
}

func (s *Service) fail(op string, err error) error {
	s.line(op, "ERROR: "+err.Error())
	s.finish(op, false, err.Error())
	return err
}

func (s *Service) line(op, l string) {
	s.emit.Emit(events.MaintenanceLine(op, l))
}

func (s *Service) finish(op string, ok bool, msg string) {
	s.emit.Emit(events.MaintenanceFinished(op, ok, msg))
}
