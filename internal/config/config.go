// Package config loads ~/.reaper/config.yaml with REAPER_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/reaper/internal/audit"
	"github.com/ppiankov/reaper/internal/helper"
	"github.com/ppiankov/reaper/internal/permission"
	"github.com/ppiankov/reaper/internal/terminate"
)

// EnvPrefix prefixes environment overrides, e.g. REAPER_LOG_LEVEL.
const EnvPrefix = "REAPER"

// Elevation modes.
const (
	ElevationAuto     = "auto"
	ElevationHelper   = "helper"
	ElevationPrompt   = "prompt"
	ElevationDisabled = "disabled"
)

// Config is the full configuration.
type Config struct {
	DataDir     string            `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Audit       AuditConfig       `mapstructure:"audit" yaml:"audit"`
	Permissions PermissionsConfig `mapstructure:"permissions" yaml:"permissions"`
	Termination TerminationConfig `mapstructure:"termination" yaml:"termination"`
	Elevation   ElevationConfig   `mapstructure:"elevation" yaml:"elevation"`
	Protected   ProtectedConfig   `mapstructure:"protected" yaml:"protected"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

type AuditConfig struct {
	Path          string `mapstructure:"path" yaml:"path,omitempty"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days" validate:"min=1,max=3650"`
}

type PermissionsConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"min=5s,max=5m"`
	Cooldown          time.Duration `mapstructure:"cooldown" yaml:"cooldown" validate:"min=1s,max=1h"`
	AutoRemediate     bool          `mapstructure:"auto_remediate" yaml:"auto_remediate"`
	WatchConsentStore bool          `mapstructure:"watch_consent_store" yaml:"watch_consent_store"`
	StorePath         string        `mapstructure:"store_path" yaml:"store_path,omitempty"`
}

type TerminationConfig struct {
	Graceful time.Duration `mapstructure:"graceful" yaml:"graceful" validate:"min=100ms,max=1m"`
	Term     time.Duration `mapstructure:"term" yaml:"term" validate:"min=100ms,max=1m"`
	Kill     time.Duration `mapstructure:"kill" yaml:"kill" validate:"min=100ms,max=1m"`
	Elevated time.Duration `mapstructure:"elevated" yaml:"elevated" validate:"min=100ms,max=1m"`
	Poll     time.Duration `mapstructure:"poll" yaml:"poll" validate:"min=10ms,max=5s"`
	Parallel int           `mapstructure:"parallel" yaml:"parallel" validate:"min=1,max=64"`
}

type ElevationConfig struct {
	Mode   string `mapstructure:"mode" yaml:"mode" validate:"oneof=auto helper prompt disabled"`
	Socket string `mapstructure:"socket" yaml:"socket" validate:"required"`
}

type ProtectedConfig struct {
	Path  string `mapstructure:"path" yaml:"path,omitempty"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

var validate = validator.New()

// DefaultDataDir returns ~/.reaper.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reaper"
	}
	return filepath.Join(home, ".reaper")
}

// DefaultPath returns ~/.reaper/config.yaml.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	w := terminate.DefaultWaits()
	return Config{
		DataDir: DefaultDataDir(),
		Log:     LogConfig{Level: "info"},
		Audit:   AuditConfig{RetentionDays: int(audit.DefaultRetention / (24 * time.Hour))},
		Permissions: PermissionsConfig{
			PollInterval:      permission.DefaultPollInterval,
			Cooldown:          permission.DefaultCooldown,
			WatchConsentStore: true,
		},
		Termination: TerminationConfig{
			Graceful: w.Graceful,
			Term:     w.Term,
			Kill:     w.Kill,
			Elevated: w.Elevated,
			Poll:     w.Poll,
			Parallel: terminate.DefaultParallel,
		},
		Elevation: ElevationConfig{Mode: ElevationAuto, Socket: helper.DefaultSocket},
		Protected: ProtectedConfig{Watch: true},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("audit.path", d.Audit.Path)
	v.SetDefault("audit.retention_days", d.Audit.RetentionDays)
	v.SetDefault("permissions.poll_interval", d.Permissions.PollInterval)
	v.SetDefault("permissions.cooldown", d.Permissions.Cooldown)
	v.SetDefault("permissions.auto_remediate", d.Permissions.AutoRemediate)
	v.SetDefault("permissions.watch_consent_store", d.Permissions.WatchConsentStore)
	v.SetDefault("permissions.store_path", d.Permissions.StorePath)
	v.SetDefault("termination.graceful", d.Termination.Graceful)
	v.SetDefault("termination.term", d.Termination.Term)
	v.SetDefault("termination.kill", d.Termination.Kill)
	v.SetDefault("termination.elevated", d.Termination.Elevated)
	v.SetDefault("termination.poll", d.Termination.Poll)
	v.SetDefault("termination.parallel", d.Termination.Parallel)
	v.SetDefault("elevation.mode", d.Elevation.Mode)
	v.SetDefault("elevation.socket", d.Elevation.Socket)
	v.SetDefault("protected.path", d.Protected.Path)
	v.SetDefault("protected.watch", d.Protected.Watch)
}

// Load reads path, which may be missing, applies environment overrides
// and validates the result. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !missing(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func missing(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// resolvePaths fills file paths left empty from the data dir.
func (c *Config) resolvePaths() {
	if strings.HasPrefix(c.DataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, c.DataDir[2:])
		}
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataDir, "audit.jsonl")
	}
	if c.Permissions.StorePath == "" {
		c.Permissions.StorePath = filepath.Join(c.DataDir, "remediation.yaml")
	}
	if c.Protected.Path == "" {
		c.Protected.Path = filepath.Join(c.DataDir, "protected.yaml")
	}
}

// Validate checks field bounds.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}

// Waits converts the termination section.
func (c *Config) Waits() terminate.Waits {
	t := c.Termination
	return terminate.Waits{Graceful: t.Graceful, Term: t.Term, Kill: t.Kill, Elevated: t.Elevated, Poll: t.Poll}
}

// Retention returns the audit retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

// Tracker returns the permission tracker settings.
func (c *Config) Tracker() permission.Config {
	return permission.Config{
		PollInterval:  c.Permissions.PollInterval,
		Cooldown:      c.Permissions.Cooldown,
		AutoRemediate: c.Permissions.AutoRemediate,
	}
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal default: %w", err)
	}
	header := []byte("# reaper configuration. Environment variables REAPER_<SECTION>_<KEY> override these values.\n")
	return os.WriteFile(path, append(header, data...), 0o600)
}
