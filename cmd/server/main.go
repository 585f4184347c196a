package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/audience-crm/internal/api"
	"github.com/ignite/audience-crm/internal/app"
	"github.com/ignite/audience-crm/internal/auth"
	"github.com/ignite/audience-crm/internal/config"
	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/llm"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/segmentation"
	"github.com/ignite/audience-crm/internal/service/campaign"
	"github.com/ignite/audience-crm/internal/service/customer"
	"github.com/ignite/audience-crm/internal/service/segment"
	"github.com/ignite/audience-crm/internal/service/sending"
	"github.com/ignite/audience-crm/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
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

	if err := run(cfg); err != nil {
		logger.Error("server: fatal", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
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
	if redisClient != nil {
		defer redisClient.Close()
	}

	gen, err := llm.New(ctx, cfg.LLM, m)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	vendor, err := app.NewVendor(ctx, cfg)
	if err != nil {
		return err
	}
	locks := app.Locks(redisClient, stores.DB)

	// Auth
	authOpts := []auth.Option{auth.WithBcryptCost(cfg.Auth.BcryptCost), auth.WithMetrics(m)}
	if redisClient != nil {
		authOpts = append(authOpts, auth.WithRevoker(auth.NewRedisBlacklist(redisClient)))
	}
	if cfg.Auth.GoogleEnabled() {
		authOpts = append(authOpts, auth.WithGoogle(auth.NewGoogleOAuth(cfg.Auth)))
		logger.Info("server: google sign-in enabled")
	}
	authSvc := auth.NewService(stores.Users, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL()), authOpts...)

	// Customers and segments
	customerSvc := customer.NewService(stores.Customers)
	segmentSvc := segment.NewService(stores.Segments, stores.Customers,
		segmentation.NewTranslator(gen), segment.WithMetrics(m))

	// Campaigns
	mode := domain.DeliveryMode(cfg.Campaign.DeliveryMode)
	campaignOpts := []campaign.Option{
		campaign.WithMode(mode),
		campaign.WithMetrics(m),
		campaign.WithSendTimeout(cfg.Campaign.SendTimeout()),
		campaign.WithLockTTL(cfg.Campaign.LockTTL()),
	}
	var queue *worker.DeliveryQueue
	if redisClient != nil {
		queue = worker.NewDeliveryQueue(redisClient)
		campaignOpts = append(campaignOpts, campaign.WithQueue(queue))
	}
	campaignSvc := campaign.NewService(stores.Campaigns, stores.Segments, stores.Customers, vendor,
		sending.NewPersonalizer(), locks, campaignOpts...)
	logger.Info("server: campaign delivery configured", "mode", string(mode), "vendor", cfg.Campaign.Vendor)

	// Embedded worker
	var deliveryWorker *worker.DeliveryWorker
	if mode == domain.DeliveryAsync && cfg.Worker.Embedded && queue != nil {
		deliveryWorker = worker.NewDeliveryWorker(queue, stores.Campaigns, vendor, cfg.Worker.Concurrency, m)
		deliveryWorker.SetSendTimeout(cfg.Campaign.SendTimeout())
		if limit := (worker.RateLimit{PerSecond: cfg.Worker.RatePerSecond, PerMinute: cfg.Worker.RatePerMinute}); limit.Enabled() {
			deliveryWorker.SetLimiter(worker.NewRateLimiter(redisClient, limit))
		}
		deliveryWorker.Start(ctx)

		recovery := worker.NewQueueRecoveryWorker(queue, stores.Campaigns, locks,
			cfg.Worker.RecoveryInterval(), cfg.Worker.StaleAge(), m)
		go recovery.Start(ctx)
		logger.Info("server: embedded delivery worker started", "concurrency", cfg.Worker.Concurrency)
	}

	var depth api.QueueDepth
	if queue != nil {
		depth = queue
	}
	server := api.NewServer(cfg.Server, api.Deps{
		Customers: customerSvc,
		Segments:  segmentSvc,
		Campaigns: campaignSvc,
		Auth:      authSvc,
		Health:    api.NewHealthChecker(stores.DB, redisClient, depth),
		Metrics:   m,
	})

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
		logger.Info("server: shutting down")
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server: shutdown error", "error", err)
	}
	cancel()
	if deliveryWorker != nil {
		deliveryWorker.Stop()
	}

	logger.Info("server: stopped")
	return nil
}
