// Package main is the entry point for the runbox orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"runbox/internal/artifact"
	"runbox/internal/config"
	"runbox/internal/logger"
	"runbox/internal/logstream"
	"runbox/internal/observability"
	"runbox/internal/runner"
	"runbox/internal/runner/runtime"
	"runbox/internal/scheduler"
	"runbox/internal/server"
	"runbox/internal/store"
	"runbox/internal/store/postgres"
	"runbox/internal/store/sqlite"
	"runbox/internal/worker"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	st, err := openStore(ctx, cfg, *migrateFlag, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	shutdownTracer, err := observability.InitTracer(ctx, "runbox-orchestrator", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics("runbox-orchestrator")
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	// Active jobs gauge, read from the store only when scraped.
	meter := otel.Meter("runbox-orchestrator")
	_, err = meter.Int64ObservableGauge("runbox.jobs.active",
		metric.WithDescription("Jobs currently queued or running"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := st.CountActive(ctx)
			if err != nil {
				log.Error("failed to count active jobs", "error", err)
				return nil
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Error("failed to register active jobs metric", "error", err)
	}

	runtimes, caps := probeRuntimes(ctx, cfg, log)
	if !caps.Shell && !caps.Docker && !caps.VM {
		log.Error("no runner available; check enabled_runners and host tooling")
		os.Exit(1)
	}

	streamer := logstream.New(st, log)
	supervisor := worker.New(runtimes, streamer, cfg.KillGraceWindow, log)

	sched := scheduler.New(scheduler.Options{
		Store:                   st,
		Runner:                  supervisor,
		Collector:               artifact.New(log),
		Logs:                    streamer,
		Caps:                    cfg.Caps,
		DefaultTimeLimitSeconds: cfg.DefaultTimeLimitSeconds,
		RunnerCaps:              caps,
		MaxConcurrentAttempts:   cfg.MaxConcurrentAttempts,
		AdmissionRatePerMin:     cfg.AdmissionRatePerMin,
		AdmissionBurst:          cfg.AdmissionBurst,
		DataDir:                 cfg.DataDir,
		Log:                     log,
	})
	schedCtx, cancelSched := context.WithCancel(ctx)
	sched.Start(schedCtx)

	handlers := server.NewHandlers(st, sched, streamer, cfg.DataDir, log)
	srv := server.New(server.Options{
		Port:       cfg.HTTPPort,
		Handlers:   handlers,
		Metrics:    metricsHandler,
		RatePerMin: cfg.AdmissionRatePerMin,
		RateBurst:  cfg.AdmissionBurst,
		Log:        log,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	// Stop accepting work, let in-flight attempts finish.
	sched.Close()
	cancelSched()
	log.Info("orchestrator exited")
}

// openStore selects the backend by connection-string scheme: sqlite://
// uses the embedded engine, anything else is a PostgreSQL DSN.
func openStore(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (store.Store, error) {
	if strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
		log.Info("using sqlite store", "path", sqlite.Path(cfg.DatabaseURL))
		return sqlite.New(ctx, cfg.DatabaseURL)
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		log.Info("running database migrations")
		if err := postgres.Migrate(pg.DB()); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return pg, nil
}

// probeRuntimes builds the runtime set from configuration and what the
// host actually provides. A configured backend that fails its probe is
// dropped from the capability set instead of failing startup.
func probeRuntimes(ctx context.Context, cfg *config.Config, log *slog.Logger) (map[runner.Runner]runtime.Runtime, runner.Capabilities) {
	enabled := make(map[string]bool, len(cfg.EnabledRunners))
	for _, r := range cfg.EnabledRunners {
		enabled[r] = true
	}

	runtimes := make(map[runner.Runner]runtime.Runtime)
	var caps runner.Capabilities

	if enabled["shell"] {
		runtimes[runner.RunnerShell] = runtime.NewShellRuntime()
		caps.Shell = true
	}

	if enabled["docker"] {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		docker, err := runtime.NewDockerRuntime(cfg.DockerImage)
		if err == nil {
			err = docker.Ping(probeCtx)
		}
		cancel()
		if err != nil {
			log.Warn("docker runner unavailable", "error", err)
		} else {
			runtimes[runner.RunnerDocker] = docker
			caps.Docker = true
		}
	}

	if enabled["vm"] {
		vm, err := runtime.NewVMRuntime(runtime.VMConfig{
			Namespace:    cfg.KubeNamespace,
			RuntimeClass: cfg.KubeRuntimeClass,
			Image:        cfg.DockerImage,
		})
		if err == nil {
			err = vm.Ping(ctx)
		}
		if err != nil {
			log.Warn("vm runner unavailable", "error", err)
		} else {
			runtimes[runner.RunnerVM] = vm
			caps.VM = true
		}
	}

	log.Info("runner capabilities", "shell", caps.Shell, "docker", caps.Docker, "vm", caps.VM)
	return runtimes, caps
}
