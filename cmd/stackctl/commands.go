package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/shell/api"
	"github.com/artpar/stackctl/internal/shell/compose"
	"github.com/artpar/stackctl/internal/shell/orchestrator"
	"github.com/artpar/stackctl/internal/shell/reaper"
	"github.com/artpar/stackctl/internal/shell/workers"
	"github.com/spf13/cobra"
)

// =============================================================================
// Command Enum
// =============================================================================

// CommandKind is the closed set of operations the CLI dispatches.
type CommandKind int

const (
	CommandUp CommandKind = iota
	CommandDown
	CommandDownAll
	CommandStatus
	CommandLogs
)

func (k CommandKind) String() string {
	switch k {
	case CommandUp:
		return "up"
	case CommandDown:
		return "down"
	case CommandDownAll:
		return "down-all"
	case CommandStatus:
		return "status"
	case CommandLogs:
		return "logs"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is one parsed invocation.
type Command struct {
	Kind    CommandKind
	Profile string // Up, Down
	Target  string // Logs: a service name or "all"

	Up orchestrator.UpOptions

	Tail     int // Logs: 0 means the persisted setting
	Follow   bool
	SaveTail bool

	Serve string // Status: address to serve on; empty prints once
	Runs  int
}

// LogsAll selects every service for Logs.
const LogsAll = "all"

// ErrUnknownService is returned when Logs names a service not in the
// manifest.
var ErrUnknownService = errors.New("unknown service")

// Execute runs cmd against the app and writes its result to out.
func (a *App) Execute(ctx context.Context, cmd Command, out io.Writer, asJSON bool) error {
	switch cmd.Kind {
	case CommandUp:
		result, err := a.orchestrator.Up(ctx, cmd.Profile, cmd.Up)
		if err != nil {
			return err
		}
		return render(out, asJSON, result, func(w io.Writer) { printUp(w, result) })
	case CommandDown:
		report, err := a.reaper.TearDown(ctx, cmd.Profile)
		if err != nil {
			return err
		}
		return render(out, asJSON, report, func(w io.Writer) { printTearDown(w, report) })
	case CommandDownAll:
		report, err := a.reaper.TearDownAll(ctx)
		if err != nil {
			return err
		}
		return render(out, asJSON, report, func(w io.Writer) { printTearDown(w, report) })
	case CommandStatus:
		return a.status(ctx, cmd, out, asJSON)
	case CommandLogs:
		return a.logs(ctx, cmd, out)
	default:
		return fmt.Errorf("unsupported command %s", cmd.Kind)
	}
}

func (a *App) status(ctx context.Context, cmd Command, out io.Writer, asJSON bool) error {
	config := workers.StatusWatcherConfig{
		Interval: a.cfg.Status.Interval,
		Runs:     a.cfg.Status.Runs,
		KeepRuns: a.cfg.Journal.KeepRuns,
	}
	if cmd.Runs > 0 {
		config.Runs = cmd.Runs
	}
	watcher := workers.NewStatusWatcher(a.cfg.Project.Name, a.manifest, a.inventory, a.journal, config, a.logger)

	if cmd.Serve != "" {
		return a.serveStatus(ctx, cmd.Serve, watcher)
	}

	report, err := watcher.Refresh(ctx)
	if err != nil {
		return &CLIError{Op: "status", Err: err, ExitCode: ExitEngineError}
	}
	return render(out, asJSON, report, func(w io.Writer) { printStatus(w, report) })
}

// serveStatus runs the status watcher and the read-only HTTP API until ctx
// is cancelled.
func (a *App) serveStatus(ctx context.Context, addr string, watcher *workers.StatusWatcher) error {
	handler := api.NewHandler(a.cfg.Project.Name, watcher, a.journal, a.client, a.logger)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler.Routes(),
	}

	watcher.Start(ctx)
	defer watcher.Stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return &CLIError{Op: "serve status", Err: err, ExitCode: ExitHTTPServerError}
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Status.ShutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down status server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return &CLIError{Op: "shutdown status server", Err: err, ExitCode: ExitHTTPServerError}
	}
	return nil
}

func (a *App) logs(ctx context.Context, cmd Command, out io.Writer) error {
	opts := compose.LogsOptions{Follow: cmd.Follow, Tail: cmd.Tail}
	if opts.Tail <= 0 {
		opts.Tail = a.settings.TailSize()
	}
	target := cmd.Target
	if target == "" {
		target = LogsAll
	}
	if target != LogsAll {
		if !a.manifest.HasService(target) {
			return &CLIError{Op: "logs", Err: fmt.Errorf("%w: %s", ErrUnknownService, target), ExitCode: ExitUsageError}
		}
		opts.Services = []string{target}
	}

	if cmd.SaveTail && cmd.Tail > 0 {
		if err := a.settings.SetTailSize(cmd.Tail); err != nil {
			return &CLIError{Op: "save settings", Err: err, ExitCode: ExitConfigError}
		}
		a.logger.Debug("saved log tail size", "tail_size", cmd.Tail)
	}

	err := a.backend.Logs(ctx, opts, out)
	if cmd.Follow && ctx.Err() != nil {
		// An interrupt only ends the stream.
		return nil
	}
	return err
}

// =============================================================================
// Cobra Commands
// =============================================================================

// usageError marks invalid invocations.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// serveDefaultAddr is the value of a bare --serve.
const serveDefaultAddr = "config"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	manifest   string
	project    string
	logLevel   string
	output     string
}

type cli struct {
	flags   globalFlags
	factory appFactory
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCommand(factory appFactory, stdout, stderr io.Writer) *cobra.Command {
	c := &cli{factory: factory, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "stackctl",
		Short: "Bring compose profiles up and down",
		Long: `stackctl starts and stops named profiles of a compose-style manifest.

Profiles are brought up with one bulk call and fall back to an ordered,
readiness-gated phase sequence when that fails. Teardown removes exactly the
containers, pods, volumes and networks a profile owns and is safe to repeat.`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", "", "Path to config file")
	pf.StringVarP(&c.flags.manifest, "manifest", "f", "", "Path to the compose manifest")
	pf.StringVarP(&c.flags.project, "project", "p", "", "Compose project name")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&c.flags.output, "output", "o", "text", "Output format (text, json)")

	root.AddCommand(
		c.upCommand(),
		c.downCommand(),
		c.downAllCommand(),
		c.statusCommand(),
		c.logsCommand(),
		c.profilesCommand(),
		c.versionCommand(),
	)
	return root
}

func (c *cli) upCommand() *cobra.Command {
	var build, noCache, skipOptional bool
	cmd := &cobra.Command{
		Use:   "up <profile>",
		Short: "Start a profile and wait for its services to be ready",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, func(cfg *Config) Command {
				opts := orchestrator.UpOptions{
					Build:        cfg.Up.Build,
					NoCache:      noCache,
					SkipOptional: cfg.Up.SkipOptional,
				}
				if cmd.Flags().Changed("build") {
					opts.Build = build
				}
				if cmd.Flags().Changed("skip-optional") {
					opts.SkipOptional = skipOptional
				}
				if noCache {
					opts.Build = true
				}
				return Command{Kind: CommandUp, Profile: args[0], Up: opts}
			})
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "Build images before starting")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Build images without cache (implies --build)")
	cmd.Flags().BoolVar(&skipOptional, "skip-optional", false, "Skip services configured as optional")
	return cmd
}

func (c *cli) downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down <profile>",
		Short: "Remove a profile's containers, pods, volumes and networks",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, func(*Config) Command {
				return Command{Kind: CommandDown, Profile: args[0]}
			})
		},
	}
}

func (c *cli) downAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down-all",
		Short: "Remove every resource of the project",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, func(*Config) Command {
				return Command{Kind: CommandDownAll}
			})
		},
	}
}

func (c *cli) statusCommand() *cobra.Command {
	var serve string
	var runs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show container state grouped by profile",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, func(cfg *Config) Command {
				addr := serve
				if addr == serveDefaultAddr {
					addr = cfg.Status.Addr
				}
				return Command{Kind: CommandStatus, Serve: addr, Runs: runs}
			})
		},
	}
	cmd.Flags().StringVar(&serve, "serve", "", "Serve the status API instead of printing (default address from config)")
	cmd.Flags().Lookup("serve").NoOptDefVal = serveDefaultAddr
	cmd.Flags().IntVar(&runs, "runs", 0, "Number of recent runs to include")
	return cmd
}

func (c *cli) logsCommand() *cobra.Command {
	var tail int
	var follow, saveTail bool
	cmd := &cobra.Command{
		Use:   "logs [service|all]",
		Short: "Print service logs",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if saveTail && tail <= 0 {
				return &usageError{err: errors.New("--save-tail requires --tail")}
			}
			target := LogsAll
			if len(args) == 1 {
				target = args[0]
			}
			return c.execute(cmd, func(*Config) Command {
				return Command{Kind: CommandLogs, Target: target, Tail: tail, Follow: follow, SaveTail: saveTail}
			})
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "Number of lines to show (default: saved setting)")
	cmd.Flags().BoolVarP(&follow, "follow", "F", false, "Follow log output until interrupted")
	cmd.Flags().BoolVar(&saveTail, "save-tail", false, "Persist --tail as the default")
	return cmd
}

func (c *cli) profilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles declared in the manifest",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.load()
			if err != nil {
				return err
			}
			m, err := loadManifest(cfg)
			if err != nil {
				return err
			}
			profiles := make(map[string][]string)
			for _, p := range m.Profiles() {
				profiles[p] = m.ProfileServiceNames(p)
			}
			return render(c.stdout, c.flags.output == "json", profiles, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PROFILE\tSERVICES")
				for _, p := range m.Profiles() {
					fmt.Fprintf(tw, "%s\t%s\n", p, strings.Join(profiles[p], ", "))
				}
				tw.Flush()
			})
		},
	}
}

func (c *cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "stackctl %s (built %s)\n", Version, BuildTime)
		},
	}
}

// load reads the configuration and applies the global flags.
func (c *cli) load() (*Config, *slog.Logger, error) {
	switch c.flags.output {
	case "text", "json":
	default:
		return nil, nil, &usageError{err: fmt.Errorf("unknown output format %q", c.flags.output)}
	}
	cfg, err := LoadConfig(c.flags.configPath)
	if err != nil {
		return nil, nil, &CLIError{Op: "load config", Err: err, ExitCode: ExitConfigError}
	}
	cfg.ApplyOverrides(c.flags.manifest, c.flags.project, c.flags.logLevel)
	return cfg, SetupLogger(cfg), nil
}

// execute loads configuration, builds the app and dispatches the command
// produced by build.
func (c *cli) execute(cmd *cobra.Command, build func(*Config) Command) error {
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	app, err := c.factory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Debug("close failed", "error", err)
		}
	}()

	command := build(cfg)
	logger.Debug("dispatching command", "command", command.Kind.String(), "project", cfg.Project.Name)
	return app.Execute(ctx, command, c.stdout, c.flags.output == "json")
}

// =============================================================================
// Output
// =============================================================================

func render(w io.Writer, asJSON bool, v any, text func(io.Writer)) error {
	if !asJSON {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUp(w io.Writer, r *orchestrator.UpResult) {
	if r.Status == orchestrator.StatusNothingToStart {
		fmt.Fprintf(w, "profile %s: nothing to start\n", r.Profile)
		return
	}
	fmt.Fprintf(w, "profile %s started (%s)\n", r.Profile, r.Mode)
	for _, s := range r.Services {
		fmt.Fprintf(w, "  %-24s %s\n", s.Service, s.Kind)
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "skipped: %s\n", strings.Join(r.Skipped, ", "))
	}
}

func printTearDown(w io.Writer, r *reaper.Report) {
	name := r.Profile
	if name == "" {
		name = "project " + r.Project
	} else {
		name = "profile " + name
	}
	if r.NothingToDo {
		fmt.Fprintf(w, "%s: nothing to do\n", name)
		return
	}
	fmt.Fprintf(w, "%s removed: %d containers, %d pods, %d volumes, %d networks\n",
		name, len(r.Containers), len(r.Pods), len(r.Volumes), len(r.Networks))
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func printStatus(w io.Writer, r domain.StatusReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tSERVICE\tCONTAINER\tSTATE\tHEALTH\tPORTS")
	row := func(profile string, s domain.ServiceStatus) {
		if len(s.Containers) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t%s\t\n", profile, s.Service, s.Health)
			return
		}
		for _, ctr := range s.Containers {
			state := string(ctr.State)
			if ctr.ExitCode != nil && ctr.State == domain.StateExited {
				state = fmt.Sprintf("%s (%d)", state, *ctr.ExitCode)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", profile, s.Service, ctr.ShortID(), state, s.Health, strings.Join(ctr.Ports, ","))
		}
	}
	for _, p := range r.Profiles {
		for _, s := range p.Services {
			row(p.Profile, s)
		}
	}
	for _, s := range r.Unprofiled {
		row("-", s)
	}
	for _, ctr := range r.Orphans {
		fmt.Fprintf(tw, "?\t%s\t%s\t%s\t-\t\n", ctr.Service, ctr.ShortID(), ctr.State)
	}
	tw.Flush()

	if len(r.Profiles) > 0 {
		fmt.Fprintln(w)
		for _, p := range r.Profiles {
			fmt.Fprintf(w, "%s: %s\n", p.Profile, p.Health)
		}
	}
	if len(r.Runs) > 0 {
		fmt.Fprintln(w, "\nrecent runs:")
		for _, run := range r.Runs {
			fmt.Fprintf(w, "  %s  %-8s %-12s %s\n", run.StartedAt.Format("2006-01-02 15:04:05"), run.Operation, run.Profile, run.Status)
		}
	}
}
