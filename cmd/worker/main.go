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

	"github.com/ignite/audience-crm/internal/app"
	"github.com/ignite/audience-crm/internal/config"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	metricsAddr := flag.String("metrics-addr", ":9091", "address for the /metrics endpoint, empty to disable")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Redact()); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *metricsAddr); err != nil {
		logger.Error("worker: fatal", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string) error {
	if cfg.Storage.Driver == "memory" {
		return errors.New("the standalone worker needs shared storage; use worker.embedded with the memory driver")
	}
	if !cfg.Redis.Enabled() {
		return errors.New("the delivery worker requires redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	redisClient, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	vendor, err := app.NewVendor(ctx, cfg)
	if err != nil {
		return err
	}

	queue := worker.NewDeliveryQueue(redisClient)

	deliveryWorker := worker.NewDeliveryWorker(queue, stores.Campaigns, vendor, cfg.Worker.Concurrency, m)
	deliveryWorker.SetSendTimeout(cfg.Campaign.SendTimeout())
	if limit := (worker.RateLimit{PerSecond: cfg.Worker.RatePerSecond, PerMinute: cfg.Worker.RatePerMinute}); limit.Enabled() {
		deliveryWorker.SetLimiter(worker.NewRateLimiter(redisClient, limit))
	}
	deliveryWorker.Start(ctx)

	// Reclaims jobs whose worker died between claim and ack.
	queueRecovery := worker.NewQueueRecoveryWorker(queue, stores.Campaigns,
		app.Locks(redisClient, stores.DB), cfg.Worker.RecoveryInterval(), cfg.Worker.StaleAge(), m)
	go queueRecovery.Start(ctx)

	var metricsSrv *http.Server
	if metricsAddr != "" {
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker: metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := queue.Depth(ctx)
				if err != nil {
					logger.Warn("worker: queue depth check failed", "error", err)
					continue
				}
				m.SetQueueDepth(depth)
				st := deliveryWorker.Stats()
				logger.Info("worker: heartbeat", "queue_depth", depth,
					"sent", st["total_sent"], "failed", st["total_failed"], "skipped", st["total_skipped"])
			}
		}
	}()

	logger.Info("worker: running", "concurrency", cfg.Worker.Concurrency, "vendor", vendor.Name())

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker: shutting down")
	cancel()
	deliveryWorker.Stop()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("worker: stopped")
	return nil
}
