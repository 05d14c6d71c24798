package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/loykin/arkwarden/internal/auth"
	"github.com/loykin/arkwarden/internal/console"
	"github.com/loykin/arkwarden/internal/logger"
	"github.com/loykin/arkwarden/internal/maintenance"
	"github.com/loykin/arkwarden/internal/tailer"
	tlsconf "github.com/loykin/arkwarden/internal/tls"
)

// EnvPrefix is the prefix for environment overrides, e.g. ARKWARDEN_SERVER_LISTEN.
const EnvPrefix = "ARKWARDEN"

// Config represents the top-level TOML structure.
type Config struct {
	Env         []string           `mapstructure:"env"`
	EnvFiles    []string           `mapstructure:"env_files"`
	Server      ServerConfig       `mapstructure:"server"`
	Auth        auth.Config        `mapstructure:"auth"`
	Log         logger.Config      `mapstructure:"log"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	History     HistoryConfig      `mapstructure:"history"`
	Tailer      TailerConfig       `mapstructure:"tailer"`
	Console     ConsoleConfig      `mapstructure:"console"`
	Maintenance maintenance.Config `mapstructure:"maintenance"`
	Instances   []InstanceConfig   `mapstructure:"instances" validate:"unique=ID,dive"`
}

type ServerConfig struct {
	Listen   string         `mapstructure:"listen" validate:"required,hostname_port"`
	BasePath string         `mapstructure:"base_path" validate:"omitempty,startswith=/"`
	TLS      tlsconf.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

type TailerConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	MaxWaitAttempts      int           `mapstructure:"max_wait_attempts" validate:"gte=0"`
	ReadInterval         time.Duration `mapstructure:"read_interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" validate:"gte=0"`
}

// Options converts the section into tailer options.
func (c TailerConfig) Options() tailer.Options {
	return tailer.Options{
		PollInterval:         c.PollInterval,
		MaxWaitAttempts:      c.MaxWaitAttempts,
		ReadInterval:         c.ReadInterval,
		MaxConsecutiveErrors: c.MaxConsecutiveErrors,
	}
}

type ConsoleConfig struct {
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	Deadline     time.Duration `mapstructure:"deadline"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// Client builds the console client for this section.
func (c ConsoleConfig) Client() *console.Client {
	return console.New(
		console.WithDialer(console.RCONDialer{DialTimeout: c.DialTimeout, Deadline: c.Deadline}),
		console.WithProbeTimeout(c.ProbeTimeout),
	)
}

// InstanceConfig is a preconfigured server profile.
type InstanceConfig struct {
	ID          string         `mapstructure:"id" validate:"required"`
	InstallPath string         `mapstructure:"install_path" validate:"required"`
	Executable  string         `mapstructure:"executable" validate:"required"`
	Args        []string       `mapstructure:"args"`
	Env         []string       `mapstructure:"env"`
	LogPath     string         `mapstructure:"log_path"`
	Console     ConsoleProfile `mapstructure:"console"`
	Autostart   bool           `mapstructure:"autostart"`
	Schedules   []Schedule     `mapstructure:"schedules" validate:"unique=Name,dive"`
}

// Schedule sends Command over the console while the instance runs, e.g.
// `schedule = "0 4 * * *"` or `schedule = "@every 30m"`, `command = "SaveWorld"`.
// The expression itself is checked when the scheduler is built.
type Schedule struct {
	Name     string `mapstructure:"name" validate:"required"`
	Command  string `mapstructure:"command" validate:"required"`
	Schedule string `mapstructure:"schedule" validate:"required"`
}

type ConsoleProfile struct {
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     uint16 `mapstructure:"port" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	Enabled  bool   `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8420")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("tailer.poll_interval", tailer.DefaultPollInterval)
	v.SetDefault("tailer.max_wait_attempts", tailer.DefaultMaxWaitAttempts)
	v.SetDefault("tailer.read_interval", tailer.DefaultReadInterval)
	v.SetDefault("tailer.max_consecutive_errors", tailer.DefaultMaxConsecutiveErrors)
	v.SetDefault("console.dial_timeout", console.DefaultDialTimeout)
	v.SetDefault("console.deadline", console.DefaultDeadline)
	v.SetDefault("console.probe_timeout", console.DefaultProbeTimeout)
	v.SetDefault("maintenance.steamcmd_dir_name", "steamcmd")
	v.SetDefault("maintenance.steamcmd_exe", "")
	v.SetDefault("maintenance.max_attempts", 3)
	v.SetDefault("maintenance.retry_delay", 2*time.Second)
}

// Load reads the TOML file at path (optional), applies ARKWARDEN_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Instance returns the profile with id.
func (c *Config) Instance(id string) (InstanceConfig, bool) {
	for _, in := range c.Instances {
		if in.ID == id {
			return in, true
		}
	}
	return InstanceConfig{}, false
}
