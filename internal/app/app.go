// Package app wires configuration into stores, Redis, locks and the delivery
// vendor. The binaries under cmd/ share it so the server, the worker and the
// seed tool agree on how each backend is opened.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-crm/internal/auth"
	"github.com/ignite/audience-crm/internal/config"
	"github.com/ignite/audience-crm/internal/pkg/distlock"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/repository/memory"
	"github.com/ignite/audience-crm/internal/repository/postgres"
	"github.com/ignite/audience-crm/internal/service/campaign"
	"github.com/ignite/audience-crm/internal/service/customer"
	"github.com/ignite/audience-crm/internal/service/segment"
	"github.com/ignite/audience-crm/internal/service/sending"
)

// SegmentStore is what the segment and campaign services need from segments.
type SegmentStore interface {
	segment.Repository
	campaign.SegmentReader
}

// CustomerStore is what the customer and campaign services need from customers.
type CustomerStore interface {
	customer.Repository
	campaign.CustomerReader
}

// Stores holds one repository per aggregate. DB is nil for the memory driver.
type Stores struct {
	DB        *sql.DB
	Users     auth.Repository
	Customers CustomerStore
	Segments  SegmentStore
	Campaigns campaign.Repository
}

// Close releases the database pool, if any.
func (s *Stores) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// OpenStores builds repositories for cfg.Storage.Driver.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		users := memory.NewUserRepo()
		logger.Warn("app: using in-memory storage, data is lost on restart")
		return &Stores{
			Users:     users,
			Customers: memory.NewCustomerRepo(),
			Segments:  memory.NewSegmentRepo(),
			Campaigns: memory.NewCampaignRepo(users),
		}, nil
	case "postgres", "":
		db, err := postgres.Open(ctx, cfg.Database.URL,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime())
		if err != nil {
			return nil, err
		}
		logger.Info("app: connected to postgres")
		return &Stores{
			DB:        db,
			Users:     postgres.NewUserRepo(db),
			Customers: postgres.NewCustomerRepo(db),
			Segments:  postgres.NewSegmentRepo(db),
			Campaigns: postgres.NewCampaignRepo(db),
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// OpenRedis connects to Redis. It returns nil, nil when Redis is not configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	logger.Info("app: connected to redis", "addr", cfg.Addr)
	return client, nil
}

// Locks picks the lock backend: Redis, then Postgres advisory locks, then an
// in-process registry when neither is available.
func Locks(redisClient *redis.Client, db *sql.DB) distlock.Factory {
	if redisClient == nil && db == nil {
		return distlock.NewLocalFactory()
	}
	return distlock.NewFactory(redisClient, db)
}

// NewVendor builds the delivery vendor named by cfg.Campaign.Vendor.
func NewVendor(ctx context.Context, cfg *config.Config) (sending.Vendor, error) {
	switch cfg.Campaign.Vendor {
	case "ses":
		v, err := sending.NewSESVendor(ctx, sending.SESOptions{
			AccessKey: cfg.SES.AccessKey,
			SecretKey: cfg.SES.SecretKey,
			Region:    cfg.SES.Region,
			FromEmail: cfg.SES.FromEmail,
			FromName:  cfg.SES.FromName,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("app: delivering through SES", "region", cfg.SES.Region)
		return v, nil
	case "simulated", "":
		logger.Info("app: delivering through the simulated vendor", "success_rate", cfg.Campaign.SuccessRate)
		return sending.NewSimulated(cfg.Campaign.SuccessRate, 0), nil
	}
	return nil, fmt.Errorf("unknown delivery vendor %q", cfg.Campaign.Vendor)
}
