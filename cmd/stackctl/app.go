package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/poll"
	"github.com/artpar/stackctl/internal/shell/compose"
	"github.com/artpar/stackctl/internal/shell/engine"
	"github.com/artpar/stackctl/internal/shell/execx"
	"github.com/artpar/stackctl/internal/shell/inventory"
	"github.com/artpar/stackctl/internal/shell/orchestrator"
	"github.com/artpar/stackctl/internal/shell/probe"
	"github.com/artpar/stackctl/internal/shell/reaper"
	"github.com/artpar/stackctl/internal/shell/store"
)

// =============================================================================
// App
// =============================================================================

// App holds the components one invocation works with. It is built once per
// command and closed when the command returns.
type App struct {
	cfg          *Config
	manifest     *manifest.Manifest
	backend      compose.Backend
	client       engine.Client
	inventory    *inventory.Inventory
	journal      store.Store // nil when the journal is disabled
	orchestrator *orchestrator.Orchestrator
	reaper       *reaper.Reaper
	settings     *Settings
	logger       *slog.Logger

	closers []func() error
}

// appFactory builds an App for a loaded configuration.
type appFactory func(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error)

// Components are the engine-facing parts of an App.
type Components struct {
	Manifest *manifest.Manifest
	Backend  compose.Backend
	Client   engine.Client
	Pods     engine.PodManager
	Journal  store.Store
	Clock    poll.Clock
}

// newApp is the production appFactory: it loads the manifest, detects the
// compose backend and connects to the engine.
func newApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	m, err := loadManifest(cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range m.Warnings {
		logger.Warn("manifest warning", "warning", w)
	}

	runner := execx.NewOSRunner(logger)
	backend, err := compose.Detect(ctx, runner, compose.Config{
		Command:      strings.Fields(cfg.Backend.Command),
		ManifestPath: cfg.Project.Manifest,
		Project:      cfg.Project.Name,
		WorkDir:      filepath.Dir(cfg.Project.Manifest),
	}, m, logger)
	if err != nil {
		return nil, &CLIError{Op: "detect backend", Err: err, ExitCode: ExitBackendUnavailable}
	}
	logger.Debug("using compose backend", "backend", backend.Name())

	client, err := engine.NewAPIClient(ctx, cfg.Backend.EngineHost, logger)
	if err != nil {
		return nil, &CLIError{Op: "connect engine", Err: err, ExitCode: ExitBackendUnavailable}
	}

	var pods engine.PodManager = engine.NoPods{}
	if podman := engine.NewPodmanPods(runner, logger); podman.Available(ctx) {
		pods = podman
	}

	var journal store.Store
	if cfg.Journal.Enabled {
		journal, err = openJournal(cfg.Journal.DSN)
		if err != nil {
			logger.Warn("run journal disabled", "dsn", cfg.Journal.DSN, "error", err)
		}
	}

	app, err := NewApp(cfg, Components{
		Manifest: m,
		Backend:  backend,
		Client:   client,
		Pods:     pods,
		Journal:  journal,
		Clock:    poll.RealClock{},
	}, logger)
	if err != nil {
		client.Close()
		if journal != nil {
			journal.Close()
		}
		return nil, err
	}
	return app, nil
}

// loadManifest parses the configured manifest. Failure is fatal before any
// engine call.
func loadManifest(cfg *Config) (*manifest.Manifest, error) {
	m, err := manifest.Load(cfg.Project.Manifest, manifest.ParseOptions{
		ProjectName: cfg.Project.Name,
		Environment: environMap(),
	})
	if err != nil {
		return nil, &CLIError{Op: "load manifest", Err: err, ExitCode: ExitManifestError}
	}
	return m, nil
}

// openJournal opens the SQLite journal, creating its directory. It returns
// a nil interface on failure so callers never see a typed nil.
func openJournal(dsn string) (store.Store, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewApp wires the orchestrator, reaper and inventory around already
// constructed engine components.
func NewApp(cfg *Config, c Components, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = poll.RealClock{}
	}

	settings, err := LoadSettings(cfg.Settings.Path)
	if err != nil {
		return nil, &CLIError{Op: "load settings", Err: err, ExitCode: ExitConfigError}
	}

	inv := inventory.New(c.Client, c.Pods, logger)
	waiter := probe.New(inv, c.Clock, probe.Config{
		Interval: cfg.Readiness.Interval,
		LogTail:  cfg.Readiness.LogTail,
	}, logger)

	// A nil store.Store must stay an untyped nil for the recorders.
	var recorder store.Recorder
	if c.Journal != nil {
		recorder = c.Journal
	}

	app := &App{
		cfg:       cfg,
		manifest:  c.Manifest,
		backend:   c.Backend,
		client:    c.Client,
		inventory: inv,
		journal:   c.Journal,
		settings:  settings,
		logger:    logger,
	}
	app.orchestrator = orchestrator.New(c.Manifest, c.Backend, waiter, recorder, orchestrator.Config{
		Project:  cfg.Project.Name,
		Timeouts: cfg.Readiness.TimeoutPolicy(),
		Phases:   cfg.Phases,
		Kinds:    cfg.Readiness.Kinds,
	}, logger)
	app.reaper = reaper.New(c.Manifest, c.Backend, inv, recorder, reaper.Config{
		Project:     cfg.Project.Name,
		MaxPasses:   cfg.Reaper.MaxPasses,
		StopTimeout: cfg.Reaper.StopTimeout,
	}, logger)

	app.closers = append(app.closers, c.Client.Close)
	if c.Journal != nil {
		app.closers = append(app.closers, c.Journal.Close)
	}
	return app, nil
}

// Close releases the engine connection and the journal.
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
