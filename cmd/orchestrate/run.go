package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloudstep/orchestrate/internal/events"
	"github.com/cloudstep/orchestrate/internal/executor"
	"github.com/cloudstep/orchestrate/internal/provider"
	"github.com/cloudstep/orchestrate/internal/state"
	"github.com/cloudstep/orchestrate/internal/target"
	"github.com/cloudstep/orchestrate/internal/telemetry"

	// Register providers
	_ "github.com/cloudstep/orchestrate/internal/provider/gcloud"
)

type runSettings struct {
	resume        bool
	parallelism   int
	dryRun        bool
	providerName  string
	grace         time.Duration
	output        string
	eventsFile    string
	metricsListen string
}

func newRunCmd() *cobra.Command {
	var (
		s        runSettings
		watch    bool
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "run <target.yaml>",
		Short: "Execute a deployment target",
		Long: `Run executes the target's steps in dependency order. Results are
persisted per step, so an interrupted or failed run picks up where it
stopped; steps whose action and parameters are unchanged are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && schedule != "" {
				return fmt.Errorf("--watch and --schedule are mutually exclusive")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			metrics := telemetry.NewMetrics()
			if s.metricsListen != "" {
				stop := startMetricsServer(s.metricsListen, metrics)
				defer stop()
			}

			switch {
			case watch:
				return watchLoop(ctx, args[0], s, metrics)
			case schedule != "":
				return scheduleLoop(ctx, args[0], schedule, s, metrics)
			}

			code, err := runTarget(ctx, args[0], s, metrics)
			if err != nil {
				return err
			}
			if code != executor.ExitOK {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&s.resume, "resume", true, "Reuse recorded results; --resume=false purges prior state first")
	cmd.Flags().IntVar(&s.parallelism, "parallelism", 1, "Maximum number of steps in flight at once")
	cmd.Flags().BoolVar(&s.dryRun, "dry-run", false, "Use the fake provider with in-memory state")
	cmd.Flags().StringVar(&s.providerName, "provider", "", "Provider override (available: "+strings.Join(provider.List(), ", ")+")")
	cmd.Flags().DurationVar(&s.grace, "grace", executor.DefaultGrace, "How long in-flight steps may finish after cancellation")
	cmd.Flags().BoolVar(&watch, "watch", false, "Rerun whenever the target file changes")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Rerun on a cron schedule (standard 5-field spec)")
	cmd.Flags().StringVar(&s.metricsListen, "metrics-listen", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&s.eventsFile, "events-file", "", "Append lifecycle events as JSON lines to this file")
	cmd.Flags().StringVar(&s.output, "output", "text", "Result format: text, json, or yaml")

	return cmd
}

// runTarget executes one run end to end and returns the process exit code.
// The error return is for configuration problems only; execution failures
// are reflected in the code.
func runTarget(ctx context.Context, path string, s runSettings, metrics *telemetry.Metrics) (int, error) {
	f, err := target.Load(path)
	if err != nil {
		return executor.ExitConfig, err
	}
	p, err := f.Plan()
	if err != nil {
		return executor.ExitConfig, err
	}

	providerName := f.ProviderName()
	if s.providerName != "" {
		providerName = s.providerName
	}

	var store state.Store
	if s.dryRun {
		providerName = "fake"
		store = state.NewMemory()
	} else {
		store, err = state.Open(ctx, stateURL)
		if err != nil {
			return executor.ExitConfig, err
		}
	}
	defer store.Close()

	factory, err := provider.Get(providerName)
	if err != nil {
		return executor.ExitConfig, err
	}
	client, err := factory()
	if err != nil {
		return executor.ExitConfig, fmt.Errorf("provider %q: %w", providerName, err)
	}

	if !s.resume {
		if err := store.Purge(ctx, f.Target); err != nil {
			return executor.ExitConfig, err
		}
		logger.Info("prior state purged", "target", f.Target)
	}

	emitter, closeEvents, err := buildEmitter(s.eventsFile)
	if err != nil {
		return executor.ExitConfig, err
	}
	defer closeEvents()

	exec := executor.New(client, store, executor.Options{
		Parallelism: s.parallelism,
		Grace:       s.grace,
		Logger:      logger,
		Metrics:     metrics,
		Emitter:     emitter,
	})
	res, runErr := exec.Run(ctx, p)

	if s.output != "text" {
		data, merr := marshalOutput(res, s.output)
		if merr != nil {
			return executor.ExitConfig, merr
		}
		fmt.Println(string(data))
	} else {
		printRunTable(res, p.Names())
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
	}
	return executor.ExitCode(res, runErr), nil
}

func buildEmitter(path string) (events.Emitter, func(), error) {
	if path == "" {
		return events.NoopEmitter{}, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open events file: %w", err)
	}
	return events.NewStreamEmitter(f), func() { _ = f.Close() }, nil
}

// startMetricsServer serves /metrics until the returned stop function runs.
func startMetricsServer(addr string, metrics *telemetry.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	var g errgroup.Group
	g.Go(func() error {
		logger.Info("metrics listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "addr", addr, "error", err)
			return err
		}
		return nil
	})
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = g.Wait()
	}
}

// watchLoop reruns the target whenever its file changes, until interrupted.
func watchLoop(ctx context.Context, path string, s runSettings, metrics *telemetry.Metrics) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors typically replace files on save, which
	// would drop a watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	run := func() {
		code, err := runTarget(ctx, path, s, metrics)
		switch {
		case err != nil:
			logger.Error("run failed", "error", err)
		case code != executor.ExitOK:
			logger.Warn("run finished with failures", "exit_code", code)
		}
	}

	logger.Info("watching for changes", "file", path)
	run()

	watched := filepath.Clean(path)
	var debounce *time.Timer
	var debounceC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != watched {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(500 * time.Millisecond)
				debounceC = debounce.C
			} else {
				debounce.Reset(500 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		case <-debounceC:
			logger.Info("target file changed, rerunning", "file", path)
			run()
		}
	}
}

// scheduleLoop reruns the target on a cron schedule, until interrupted.
func scheduleLoop(ctx context.Context, path, spec string, s runSettings, metrics *telemetry.Metrics) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	logger.Info("running on schedule", "schedule", spec, "file", path)
	for {
		next := sched.Next(time.Now())
		logger.Info("next run scheduled", "at", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		code, err := runTarget(ctx, path, s, metrics)
		switch {
		case err != nil:
			logger.Error("scheduled run failed", "error", err)
		case code != executor.ExitOK:
			logger.Warn("scheduled run finished with failures", "exit_code", code)
		}
	}
}

func printRunTable(res *executor.PlanResult, order []string) {
	fmt.Printf("\n%-20s %-10s %-9s %-10s %s\n", "STEP", "STATUS", "ATTEMPTS", "DURATION", "DETAIL")
	fmt.Println(strings.Repeat("-", 76))
	for _, name := range order {
		sr, ok := res.Steps[name]
		if !ok {
			continue
		}
		detail := sr.Reason
		if sr.Error != "" {
			detail = sr.Error
		}
		if detail == "" {
			detail = "-"
		}
		attempts := "-"
		if sr.Attempts > 0 {
			attempts = strconv.Itoa(sr.Attempts)
		}
		fmt.Printf("%-20s %-10s %-9s %-10s %s\n",
			name, sr.Status, attempts, formatDuration(sr.Duration()), truncate(detail, 48))
	}
	fmt.Printf("\nTarget %s: %s (%s)\n", res.Target, res.Status, formatDuration(res.Duration))
}
