// Package workers contains background workers for stackctl.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/monitoring"
	"github.com/artpar/stackctl/internal/shell/inventory"
	"github.com/artpar/stackctl/internal/shell/store"
)

// StatusWatcherConfig configures the status watcher.
type StatusWatcherConfig struct {
	// Interval is the time between refresh cycles.
	// Default: 30 seconds.
	Interval time.Duration

	// Runs is how many recent runs a report carries.
	// Default: 10.
	Runs int

	// KeepRuns is how many runs the journal keeps; older runs are pruned
	// each cycle. Zero disables pruning.
	KeepRuns int
}

// DefaultStatusWatcherConfig returns the default configuration.
func DefaultStatusWatcherConfig() StatusWatcherConfig {
	return StatusWatcherConfig{
		Interval: 30 * time.Second,
		Runs:     10,
		KeepRuns: 200,
	}
}

// StatusWatcher builds project status reports and keeps the latest one for
// readers such as the status API.
type StatusWatcher struct {
	project  string
	manifest *manifest.Manifest
	inv      *inventory.Inventory
	journal  store.Store
	config   StatusWatcherConfig
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest *domain.StatusReport

	// Lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusWatcher creates a status watcher. journal may be nil.
func NewStatusWatcher(project string, m *manifest.Manifest, inv *inventory.Inventory, journal store.Store, config StatusWatcherConfig, logger *slog.Logger) *StatusWatcher {
	defaults := DefaultStatusWatcherConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.Runs == 0 {
		config.Runs = defaults.Runs
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StatusWatcher{
		project:  project,
		manifest: m,
		inv:      inv,
		journal:  journal,
		config:   config,
		logger:   logger.With("component", "status_watcher"),
		now:      time.Now,
	}
}

// Refresh builds a fresh report and stores it as the latest.
func (w *StatusWatcher) Refresh(ctx context.Context) (domain.StatusReport, error) {
	containers, err := w.inv.Containers(ctx, w.project, nil)
	if err != nil {
		return domain.StatusReport{}, err
	}

	report := monitoring.BuildStatusReport(w.project, w.manifest, containers, w.now().UTC())
	if w.journal != nil {
		runs, err := w.journal.ListRuns(ctx, w.project, store.ListOptions{Limit: w.config.Runs})
		if err != nil {
			w.logger.Warn("failed to list runs", "error", err)
		}
		report.Runs = runs
	}

	w.mu.Lock()
	w.latest = &report
	w.mu.Unlock()
	return report, nil
}

// Latest returns the most recent report, if any.
func (w *StatusWatcher) Latest() (domain.StatusReport, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.latest == nil {
		return domain.StatusReport{}, false
	}
	return *w.latest, true
}

// Start begins refreshing in the background until Stop or ctx is done.
func (w *StatusWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("status watcher started", "interval", w.config.Interval)
}

// Stop stops the watcher and waits for an in-progress cycle to finish.
func (w *StatusWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("status watcher stopped")
}

func (w *StatusWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	// Run immediately on start
	w.runCycle(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *StatusWatcher) runCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Interval)
	defer cancel()

	if _, err := w.Refresh(ctx); err != nil {
		w.logger.Error("status refresh failed", "error", err)
	}

	if w.journal == nil || w.config.KeepRuns <= 0 {
		return
	}
	pruned, err := w.journal.PruneRuns(ctx, w.project, w.config.KeepRuns)
	if err != nil {
		w.logger.Warn("journal prune failed", "error", err)
		return
	}
	if pruned > 0 {
		w.logger.Debug("pruned journal", "runs", pruned)
	}
}
