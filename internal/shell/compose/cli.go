package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/shell/execx"
)

// Candidates is the backend probe order used when no command is configured.
var Candidates = [][]string{
	{"docker", "compose"},
	{"podman", "compose"},
	{"podman-compose"},
	{"docker-compose"},
}

// Config describes how to invoke a backend.
type Config struct {
	// Command is the backend command line, e.g. ["podman-compose"]. Empty
	// means probe Candidates.
	Command      []string
	ManifestPath string
	Project      string
	WorkDir      string
	Env          []string
}

// =============================================================================
// CLI Backend
// =============================================================================

// CLIBackend implements Backend by running a compose command line tool.
type CLIBackend struct {
	runner   execx.Runner
	command  []string
	cfg      Config
	manifest *manifest.Manifest
	logger   *slog.Logger

	profileOnce    sync.Once
	profileSupport bool
}

// Detect returns a backend for cfg.Command, or for the first candidate whose
// `version` subcommand succeeds. The manifest is used as the service list
// fallback. A nil logger uses slog.Default().
func Detect(ctx context.Context, runner execx.Runner, cfg Config, m *manifest.Manifest, logger *slog.Logger) (*CLIBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	candidates := Candidates
	if len(cfg.Command) > 0 {
		candidates = [][]string{cfg.Command}
	}

	for _, cmd := range candidates {
		if _, err := runner.LookPath(cmd[0]); err != nil {
			continue
		}
		args := append(slices.Clone(cmd[1:]), "version")
		if res := runner.Run(ctx, execx.Cmd{Name: cmd[0], Args: args}); res.OK() {
			logger.Debug("compose backend detected", "backend", strings.Join(cmd, " "))
			return NewCLIBackend(runner, cmd, cfg, m, logger), nil
		}
	}

	if len(cfg.Command) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, strings.Join(cfg.Command, " "))
	}
	return nil, ErrBackendUnavailable
}

// NewCLIBackend creates a backend for an already-known command.
func NewCLIBackend(runner execx.Runner, command []string, cfg Config, m *manifest.Manifest, logger *slog.Logger) *CLIBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIBackend{
		runner:   runner,
		command:  command,
		cfg:      cfg,
		manifest: m,
		logger:   logger,
	}
}

// Name returns the backend command line.
func (b *CLIBackend) Name() string {
	return strings.Join(b.command, " ")
}

// SupportsProfileFilter reports whether the backend accepts --profile.
// The answer is detected once from the backend's help output.
func (b *CLIBackend) SupportsProfileFilter(ctx context.Context) bool {
	b.profileOnce.Do(func() {
		args := append(slices.Clone(b.command[1:]), "--help")
		res := b.runner.Run(ctx, execx.Cmd{Name: b.command[0], Args: args, Dir: b.cfg.WorkDir})
		b.profileSupport = strings.Contains(res.Stdout+res.Stderr, "--profile")
	})
	return b.profileSupport
}

// ListServices returns the services that declare profile.
//
// With profile filtering the backend's own resolution is queried and merged
// with the manifest's; otherwise, or when the query fails, the manifest alone
// answers. Services the manifest marks always-active are removed because they
// are not members of any profile.
func (b *CLIBackend) ListServices(ctx context.Context, profile string) ([]string, error) {
	fromManifest := b.manifest.ProfileServiceNames(profile)

	if !b.SupportsProfileFilter(ctx) {
		return fromManifest, nil
	}

	native, err := b.nativeServices(ctx, profile)
	if err != nil {
		b.logger.Warn("native service query failed, using manifest", "profile", profile, "error", err)
		return fromManifest, nil
	}

	alwaysActive := b.manifest.AlwaysActiveServices()
	var merged []string
	for _, s := range append(native, fromManifest...) {
		if slices.Contains(alwaysActive, s) || slices.Contains(merged, s) {
			continue
		}
		merged = append(merged, s)
	}
	return b.manifest.SortByManifestOrder(merged), nil
}

func (b *CLIBackend) nativeServices(ctx context.Context, profile string) ([]string, error) {
	args := b.baseArgs()
	args = append(args, "--profile", profile, "config", "--services")
	res, err := b.run(ctx, "ListServices", args, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Up starts services detached. It returns once the backend has dispatched
// the work; readiness is checked separately.
func (b *CLIBackend) Up(ctx context.Context, services []string, opts UpOptions) error {
	if len(services) == 0 {
		return nil
	}

	args := b.baseArgs()
	if opts.Profile != "" && b.SupportsProfileFilter(ctx) {
		args = append(args, "--profile", opts.Profile)
	}
	args = append(args, "up", "-d")
	if opts.NoDeps {
		args = append(args, "--no-deps")
	}
	if opts.ForceRecreate {
		args = append(args, "--force-recreate")
	}
	if opts.Build {
		args = append(args, "--build")
	}
	args = append(args, services...)

	_, err := b.run(ctx, "Up", args, nil, nil)
	return err
}

// Stop stops just the given services.
func (b *CLIBackend) Stop(ctx context.Context, services []string, timeout time.Duration) error {
	if len(services) == 0 {
		return nil
	}

	args := append(b.baseArgs(), "stop")
	if timeout > 0 {
		args = append(args, "-t", strconv.Itoa(int(timeout.Seconds())))
	}
	args = append(args, services...)

	_, err := b.run(ctx, "Stop", args, nil, nil)
	return err
}

// Remove removes just the given services' containers.
func (b *CLIBackend) Remove(ctx context.Context, services []string, opts RemoveOptions) error {
	if len(services) == 0 {
		return nil
	}

	args := append(b.baseArgs(), "rm")
	if opts.Force {
		args = append(args, "-f")
	}
	if opts.Stop {
		args = append(args, "-s")
	}
	if opts.Volumes {
		args = append(args, "-v")
	}
	args = append(args, services...)

	_, err := b.run(ctx, "Remove", args, nil, nil)
	return err
}

// Build builds the given services' images.
func (b *CLIBackend) Build(ctx context.Context, services []string, noCache bool) error {
	if len(services) == 0 {
		return nil
	}

	args := append(b.baseArgs(), "build")
	if noCache {
		args = append(args, "--no-cache")
	}
	args = append(args, services...)

	_, err := b.run(ctx, "Build", args, nil, nil)
	return err
}

// Logs writes service logs to w. With Follow it streams until ctx is
// cancelled, which is not an error.
func (b *CLIBackend) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := append(b.baseArgs(), "logs")
	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	args = append(args, opts.Services...)

	_, err := b.run(ctx, "Logs", args, w, w)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func (b *CLIBackend) baseArgs() []string {
	args := slices.Clone(b.command[1:])
	if b.cfg.ManifestPath != "" {
		args = append(args, "-f", b.cfg.ManifestPath)
	}
	if b.cfg.Project != "" {
		args = append(args, "-p", b.cfg.Project)
	}
	return args
}

func (b *CLIBackend) run(ctx context.Context, op string, args []string, stdout, stderr io.Writer) (execx.Result, error) {
	cmd := execx.Cmd{
		Name:   b.command[0],
		Args:   args,
		Dir:    b.cfg.WorkDir,
		Env:    b.cfg.Env,
		Stdout: stdout,
		Stderr: stderr,
	}
	b.logger.Debug("compose", "op", op, "cmd", cmd.String())

	res := b.runner.Run(ctx, cmd)
	if res.OK() {
		return res, nil
	}
	return res, NewBackendError(op, cmd.String(), res.Code, lastLines(res.Stderr, 20), ErrCommandFailed)
}

// lastLines keeps the final n lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
