package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GanaRepository/mintoons-sub000/internal/adapter/inbound/admin"
	"github.com/GanaRepository/mintoons-sub000/internal/adapter/inbound/http"
	"github.com/GanaRepository/mintoons-sub000/internal/adapter/outbound/memory"
	"github.com/GanaRepository/mintoons-sub000/internal/adapter/outbound/sqlite"
	"github.com/GanaRepository/mintoons-sub000/internal/adapter/outbound/state"
	"github.com/GanaRepository/mintoons-sub000/internal/config"
	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
	"github.com/GanaRepository/mintoons-sub000/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quota service",
	Long: `Start the quota service.

The service exposes:
  POST /v1/evaluate    Admission decision for a throttled action
  GET  /health         Store health (503 while the store is degraded)
  GET  /metrics        Prometheus metrics
  /admin/...           Bypass allow-list management and usage inspection

Examples:
  # Start with config file settings
  mintoons-quota serve

  # Start with a specific config file
  mintoons-quota --config /path/to/config.yaml serve

  # Inspect the effective configuration without starting
  mintoons-quota serve --print-config`,
	RunE: runServe,
}

var (
	devMode     bool
	printConfig bool
)

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, in-memory store default)")
	serveCmd.Flags().BoolVar(&printConfig, "print-config", false, "Print the effective configuration as YAML and exit")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	// Dev mode runs self-contained: a process-local counter store needs no
	// shared database, at the price of limits not being shared.
	if cfg.DevMode && cfg.Store.DSN == "" {
		cfg.Store.Backend = "memory"
	}
	cfg.SetDevDefaults()

	if printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := slog.LevelInfo
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	return run(ctx, cfg, logger)
}

// run wires the store, policy table, bypass registry, service, and transport
// together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := buildCounterStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bypass, err := buildBypassRegistry(cfg, logger)
	if err != nil {
		return err
	}

	table, err := cfg.PolicyTable()
	if err != nil {
		return fmt.Errorf("failed to build policy table: %w", err)
	}
	selector, err := quota.NewPolicySelector(table, cfg.KeyScopes(), logger)
	if err != nil {
		return fmt.Errorf("failed to build policy selector: %w", err)
	}
	logger.Info("policy table loaded",
		"roles", len(table),
		"actions", len(selector.Actions()),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)
	if sized, ok := store.(interface{ Size() int }); ok {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mintoons",
			Subsystem: "quota",
			Name:      "active_keys",
			Help:      "Number of counter keys with a live window",
		}, func() float64 { return float64(sized.Size()) }))
	}

	svc := service.NewAdmissionService(store, selector, bypass,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
		service.WithStoreTimeout(cfg.StoreTimeout()),
	)

	adminHandler := admin.NewHandler(bypass, svc,
		cfg.Admin.KeyHash, cfg.Admin.MaxRequests, cfg.AdminWindow(), logger)

	transport := http.NewTransport(svc,
		http.WithAddr(cfg.Server.ListenAddr),
		http.WithLogger(logger),
		http.WithRegistry(registry),
		http.WithAdminHandler(adminHandler),
		http.WithVersion(Version),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := transport.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown incomplete", "error", err)
		}
		logger.Info("mintoons-quota stopped")
		return nil
	}
}

// buildCounterStore creates the configured counter store and starts its
// background sweep of expired windows.
func buildCounterStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (quota.CounterStore, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := sqlite.NewCounterStore(cfg.Store.DSN,
			sqlite.WithLogger(logger),
			sqlite.WithSweepInterval(cfg.StoreSweepInterval()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open counter store: %w", err)
		}
		store.StartSweep(ctx)
		logger.Info("counter store ready", "backend", "sqlite", "dsn", cfg.Store.DSN)
		return store, nil

	case "memory":
		store := memory.NewCounterStoreWithSweep(cfg.StoreSweepInterval())
		store.StartSweep(ctx)
		logger.Warn("counter store is in-memory: limits are per-process and lost on restart")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildBypassRegistry creates the bypass allow-list, file-backed when a
// state path is configured.
func buildBypassRegistry(cfg *config.Config, logger *slog.Logger) (quota.BypassRegistry, error) {
	if cfg.Bypass.StatePath == "" {
		logger.Info("bypass allow-list is in-memory (set bypass.state_path to persist)")
		return memory.NewBypassRegistry(), nil
	}
	registry, err := state.NewFileBypassRegistry(cfg.Bypass.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load bypass state: %w", err)
	}
	logger.Info("bypass allow-list loaded", "path", cfg.Bypass.StatePath, "keys", len(registry.List()))
	return registry, nil
}
