package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/plan"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Project   ProjectConfig               `mapstructure:"project"`
	Backend   BackendConfig               `mapstructure:"backend"`
	Readiness ReadinessConfig             `mapstructure:"readiness"`
	Phases    map[string][]plan.PhaseSpec `mapstructure:"phases"`
	Up        UpConfig                    `mapstructure:"up"`
	Reaper    ReaperConfig                `mapstructure:"reaper"`
	Journal   JournalConfig               `mapstructure:"journal"`
	Status    StatusConfig                `mapstructure:"status"`
	Settings  SettingsConfig              `mapstructure:"settings"`
	Log       LogConfig                   `mapstructure:"log"`
}

// ProjectConfig names the manifest and the compose project.
type ProjectConfig struct {
	Name     string `mapstructure:"name"`
	Manifest string `mapstructure:"manifest"`
}

// BackendConfig selects the compose backend and the engine endpoint.
type BackendConfig struct {
	// Command is the compose command line, e.g. "podman-compose". Empty
	// means detect.
	Command    string `mapstructure:"command"`
	EngineHost string `mapstructure:"engine_host"`
}

// ReadinessConfig holds readiness gate configuration.
type ReadinessConfig struct {
	Interval     time.Duration            `mapstructure:"interval"`
	Timeout      time.Duration            `mapstructure:"timeout"`
	SlowTimeout  time.Duration            `mapstructure:"slow_timeout"`
	SlowServices []string                 `mapstructure:"slow_services"`
	Overrides    map[string]time.Duration `mapstructure:"overrides"`
	// Kinds forces a readiness kind per service: oneshot or longrunning.
	Kinds   map[string]string `mapstructure:"kinds"`
	LogTail int               `mapstructure:"log_tail"`
}

// TimeoutPolicy converts the configuration into a plan.TimeoutPolicy.
func (c ReadinessConfig) TimeoutPolicy() plan.TimeoutPolicy {
	return plan.TimeoutPolicy{
		Default:      c.Timeout,
		Slow:         c.SlowTimeout,
		SlowServices: c.SlowServices,
		Overrides:    c.Overrides,
	}
}

// UpConfig holds bring-up defaults that flags override.
type UpConfig struct {
	Build        bool `mapstructure:"build"`
	SkipOptional bool `mapstructure:"skip_optional"`
}

// ReaperConfig holds teardown configuration.
type ReaperConfig struct {
	MaxPasses   int           `mapstructure:"max_passes"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// JournalConfig holds run journal configuration.
type JournalConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	KeepRuns int    `mapstructure:"keep_runs"`
}

// StatusConfig holds status reporting and HTTP configuration.
type StatusConfig struct {
	Addr            string        `mapstructure:"addr"`
	Interval        time.Duration `mapstructure:"interval"`
	Runs            int           `mapstructure:"runs"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SettingsConfig locates the persisted user settings file.
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("project.name", "")
	v.SetDefault("project.manifest", "docker-compose.yml")
	v.SetDefault("backend.command", "")
	v.SetDefault("backend.engine_host", "")
	v.SetDefault("readiness.interval", "2s")
	v.SetDefault("readiness.timeout", plan.DefaultTimeout.String())
	v.SetDefault("readiness.slow_timeout", plan.SlowTimeout.String())
	v.SetDefault("readiness.slow_services", []string{})
	v.SetDefault("readiness.log_tail", 50)
	v.SetDefault("up.build", false)
	v.SetDefault("up.skip_optional", false)
	v.SetDefault("reaper.max_passes", 3)
	v.SetDefault("reaper.stop_timeout", "10s")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dsn", defaultDataPath("journal.db"))
	v.SetDefault("journal.keep_runs", 200)
	v.SetDefault("status.addr", "127.0.0.1:8089")
	v.SetDefault("status.interval", "30s")
	v.SetDefault("status.runs", 10)
	v.SetDefault("status.shutdown_timeout", "5s")
	v.SetDefault("settings.path", defaultConfigPath("settings.yaml"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("STACKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ApplyOverrides applies command line flags on top of the loaded
// configuration and derives the project name when none is set.
func (c *Config) ApplyOverrides(manifestPath, project, logLevel string) {
	if manifestPath != "" {
		c.Project.Manifest = manifestPath
	}
	if project != "" {
		c.Project.Name = project
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if c.Project.Name == "" {
		c.Project.Name = DefaultProjectName(c.Project.Manifest)
	}
}

// DefaultProjectName derives the compose project name from the directory
// holding the manifest, the way compose does.
func DefaultProjectName(manifestPath string) string {
	dir := filepath.Dir(manifestPath)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return domain.NormalizeProjectName(filepath.Base(dir))
}

func defaultConfigPath(file string) string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "stackctl", file)
}

func defaultDataPath(file string) string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(base, "stackctl", file)
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr so command output on stdout stays parseable.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
