// Package main wires together the audit dispatch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/api"
	"github.com/beaconaudit/beacon/internal/audit"
	chromedpauditor "github.com/beaconaudit/beacon/internal/auditor/chromedp"
	"github.com/beaconaudit/beacon/internal/clock/system"
	"github.com/beaconaudit/beacon/internal/config"
	"github.com/beaconaudit/beacon/internal/fanout"
	"github.com/beaconaudit/beacon/internal/gate"
	"github.com/beaconaudit/beacon/internal/handler"
	"github.com/beaconaudit/beacon/internal/id/uuid"
	"github.com/beaconaudit/beacon/internal/logging"
	"github.com/beaconaudit/beacon/internal/metrics"
	"github.com/beaconaudit/beacon/internal/ratelimit"
	gcsreports "github.com/beaconaudit/beacon/internal/reports/gcs"
	localreports "github.com/beaconaudit/beacon/internal/reports/local"
	memoryreports "github.com/beaconaudit/beacon/internal/reports/memory"
	noopresults "github.com/beaconaudit/beacon/internal/results/noop"
	postgresresults "github.com/beaconaudit/beacon/internal/results/postgres"
	"github.com/beaconaudit/beacon/internal/runner"
	memorysink "github.com/beaconaudit/beacon/internal/sink/memory"
	pubsubsink "github.com/beaconaudit/beacon/internal/sink/pubsub"
	gcsstate "github.com/beaconaudit/beacon/internal/statestore/gcs"
	localstate "github.com/beaconaudit/beacon/internal/statestore/local"
	memorystate "github.com/beaconaudit/beacon/internal/statestore/memory"
	"github.com/beaconaudit/beacon/internal/subscriber"
	"github.com/beaconaudit/beacon/internal/targets"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	stateStore, closeState, err := buildStateStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build state store: %w", err)
	}
	defer closeState()

	reportStore, closeReports, err := buildReportStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build report store: %w", err)
	}
	defer closeReports()

	resultStore, closeResults, err := buildResultStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build result store: %w", err)
	}
	defer closeResults()

	snk, closeSink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build dispatch sink: %w", err)
	}
	defer closeSink()

	targetSource, err := buildTargetSource(cfg)
	if err != nil {
		return fmt.Errorf("build target source: %w", err)
	}

	blocklist := audit.NewBlocklist(cfg.Blocklist.Patterns)
	auditor, err := chromedpauditor.New(chromedpauditor.Config{
		MaxParallel:       cfg.Audit.MaxParallel,
		UserAgent:         cfg.Audit.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
	}, blocklist)
	if err != nil {
		return fmt.Errorf("build auditor: %w", err)
	}
	defer auditor.Close()

	clock := system.New()
	idGen := uuid.New()
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Audit.PerHostRPS})
	retry := audit.NewExponentialRetryPolicy(cfg.Audit.MaxAttempts)

	debounce := gate.New(stateStore, cfg.Cooldown(), logger.Named("gate"))
	dispatcher := fanout.New(snk, idGen, len(cfg.Blocklist.Patterns) > 0, logger.Named("fanout"))
	runs := runner.New(
		auditor,
		reportStore,
		resultStore,
		limiter,
		retry,
		clock,
		idGen,
		runner.Config{
			ContentType:     cfg.Storage.ContentType,
			ArtifactPrefix:  cfg.Storage.Prefix,
			DefaultDevice:   cfg.DefaultDevice(),
			AuditTimeout:    cfg.AuditTimeout(),
			BlockedPatterns: cfg.Blocklist.Patterns,
		},
		logger.Named("runner"),
	)
	trigger := handler.New(debounce, dispatcher, runs, targetSource, clock, logger.Named("handler"))

	if cfg.PubSub.SubscriptionID != "" {
		sub, err := subscriber.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.SubscriptionID, trigger, logger.Named("subscriber"))
		if err != nil {
			return fmt.Errorf("build subscriber: %w", err)
		}
		defer func() {
			if err := sub.Close(); err != nil {
				logger.Warn("subscriber close failed", zap.Error(err))
			}
		}()
		go func() {
			logger.Info("subscriber started", zap.String("subscription", cfg.PubSub.SubscriptionID))
			if err := sub.Run(ctx); err != nil {
				logger.Error("subscriber stopped", zap.Error(err))
			}
		}()
	}

	apiServer := api.NewServer(trigger, snk, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildStateStore(ctx context.Context, cfg config.Config) (audit.StateStore, func(), error) {
	switch cfg.State.Provider {
	case "memory":
		return memorystate.New(), func() {}, nil
	case "local":
		store, err := localstate.New(cfg.State.LocalPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "gcs":
		store, err := gcsstate.New(ctx, cfg.Storage.GCSBucket, cfg.State.Object)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown state provider %q", cfg.State.Provider)
	}
}

func buildReportStore(ctx context.Context, cfg config.Config) (audit.ReportStore, func(), error) {
	switch cfg.Storage.Provider {
	case "memory":
		return memoryreports.New(), func() {}, nil
	case "local":
		store, err := localreports.New(localreports.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "gcs":
		store, err := gcsreports.New(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildResultStore(ctx context.Context, cfg config.Config) (audit.ResultStore, func(), error) {
	if cfg.DB.DSN == "" {
		return noopresults.New(), func() {}, nil
	}
	store, err := postgresresults.New(ctx, postgresresults.Config{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func buildSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (audit.Sink, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicID == "" {
		logger.Warn("pubsub not configured, using in-memory dispatch sink")
		return memorysink.New(), func() {}, nil
	}
	snk, err := pubsubsink.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
	if err != nil {
		return nil, nil, err
	}
	return snk, func() { _ = snk.Close() }, nil
}

func buildTargetSource(cfg config.Config) (audit.TargetSource, error) {
	switch cfg.Targets.Source {
	case "static":
		return targets.NewStatic(cfg.Targets.Static)
	case "remote":
		return targets.NewRemote(targets.RemoteConfig{
			IndexURL:  cfg.Targets.IndexURL,
			UserAgent: cfg.Audit.UserAgent,
			Timeout:   cfg.NavTimeout(),
			MaxPages:  cfg.Targets.MaxPages,
		})
	default:
		return nil, fmt.Errorf("unknown target source %q", cfg.Targets.Source)
	}
}
