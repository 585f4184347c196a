package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/audience-crm/internal/app"
	"github.com/ignite/audience-crm/internal/config"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/seed"
	"github.com/ignite/audience-crm/internal/service/customer"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	count := flag.Int("n", 200, "number of customers to create")
	maxOrders := flag.Int("max-orders", 8, "maximum orders per customer")
	rngSeed := flag.Int64("seed", 0, "random seed, 0 for a random run")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, "console", cfg.Log.Redact()); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Storage.Driver == "memory" {
		logger.Error("seed: the memory driver keeps nothing after exit, configure postgres")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		logger.Error("seed: open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	gen := seed.NewGenerator(seed.Config{Count: *count, MaxOrders: *maxOrders, Seed: *rngSeed})
	res, err := seed.Run(ctx, customer.NewService(stores.Customers), gen)
	logger.Info("seed: finished", "created", res.Created, "duplicates", res.Duplicates)
	if err != nil {
		logger.Error("seed: stopped early", "error", err)
		os.Exit(1)
	}
}
