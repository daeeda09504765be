// PagePulse Collector - Main entry point
//
// The collector ingests error reports and Web Vitals beacons from page
// clients, persists reports, evaluates performance budgets, and serves
// query and streaming interfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/pagepulse/collector/pkg/config"
	"github.com/pagepulse/collector/pkg/handler"
	"github.com/pagepulse/collector/pkg/logger"
	"github.com/pagepulse/collector/pkg/report"
	"github.com/pagepulse/collector/pkg/repository"
	"github.com/pagepulse/collector/pkg/server"
	"github.com/pagepulse/collector/pkg/vitals"
)

var (
	version   = "0.3.0"
	buildTime = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to collector.toml")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pagepulse-collector %s (built %s)\n", version, buildTime)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "collector: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if cfg.DevMode && level == "info" {
		level = "debug"
	}
	if err := logger.Initialize(level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	log := logger.Global()

	log.Info("starting collector",
		"version", version,
		"backend", cfg.Storage.Backend,
		"dev_mode", cfg.DevMode)

	repo, err := buildRepository(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	defer repo.Close()

	monitor := vitals.NewMonitor(vitals.MonitorConfig{
		Budgets:          cfg.Vitals.Budgets,
		BudgetCheckDelay: cfg.Vitals.BudgetCheckDelay(),
	})
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	capture := handler.New(repo, handler.Config{
		Component: "collector",
		DevMode:   cfg.DevMode,
	})
	defer capture.Close()

	srv := server.New(cfg.Server, repo, capture, monitor, reg)

	// Every captured report and metric update goes out on the live
	// stream; the handler callback and monitor subscription are wired
	// here so neither package depends on the server.
	hub := srv.Hub()
	capture.SetOnReport(func(r report.ErrorReport) {
		hub.Broadcast(server.StreamEvent{Type: "report", Payload: r})
	})
	monitor.Subscribe(func(u vitals.Update) {
		hub.Broadcast(server.StreamEvent{Type: "vitals", Payload: u})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := startRetention(ctx, cfg.Storage, repo, log)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	return srv.Run(ctx)
}

// buildRepository selects the configured backend.
func buildRepository(cfg config.StorageConfig) (repository.Repository, error) {
	switch cfg.Backend {
	case "sqlite":
		return repository.NewSQLStore(repository.SQLStoreConfig{
			Path:     cfg.Path,
			Capacity: cfg.Capacity,
		})
	default:
		return repository.NewFileStore(repository.FileStoreConfig{
			Path:     cfg.Path,
			Capacity: cfg.Capacity,
		})
	}
}

// startRetention schedules age-based pruning for the sqlite backend.
// The blob backend is capacity-bounded already and needs no schedule.
func startRetention(ctx context.Context, cfg config.StorageConfig, repo repository.Repository, log *logger.Logger) *cron.Cron {
	store, ok := repo.(*repository.SQLStore)
	if !ok || cfg.RetentionDays <= 0 {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.CleanupSchedule, func() {
		pruned, err := store.Prune(ctx, time.Duration(cfg.RetentionDays)*24*time.Hour)
		if err != nil {
			log.Warn("retention prune failed", "error", err)
			return
		}
		if pruned > 0 {
			log.Info("retention prune completed", "removed", pruned)
		}
	})
	if err != nil {
		log.Warn("invalid cleanup schedule, retention disabled",
			"schedule", cfg.CleanupSchedule, "error", err)
		return nil
	}

	c.Start()
	log.Info("retention job scheduled",
		"schedule", cfg.CleanupSchedule,
		"retention_days", cfg.RetentionDays)
	return c
}
