package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/distlock"
	"github.com/ignite/audience-crm/internal/pkg/logger"
)

// =============================================================================
// QUEUE RECOVERY WORKER: reclaims stuck jobs and enforces max retries
// =============================================================================
// If a delivery worker crashes mid-job, the job stays in the processing list
// indefinitely. This worker periodically scans for such jobs and either
// requeues them (if under the retry limit) or dead-letters them and resolves
// their log FAILED so the campaign counters still converge.

const (
	// DefaultRecoveryInterval is how often we scan for stuck jobs.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a job can be claimed before we consider
	// it stuck (worker likely crashed).
	DefaultStaleAge = 5 * time.Minute

	// MaxRetryCount is the maximum number of times a job can be retried
	// before it is moved to the dead-letter list.
	MaxRetryCount = 5

	recoveryLockKey = "delivery-queue-recovery"
)

// RecoveryQueue is the part of the delivery queue the sweep needs.
type RecoveryQueue interface {
	Stale(ctx context.Context, olderThan time.Duration) ([]Claimed, error)
	Requeue(ctx context.Context, c Claimed) error
	DeadLetter(ctx context.Context, c Claimed) error
	Depth(ctx context.Context) (int64, error)
}

// RecoveryResult counts what one sweep did.
type RecoveryResult struct {
	Requeued     int
	DeadLettered int
}

// QueueRecoveryWorker periodically reclaims stuck jobs. Only one instance
// sweeps at a time across processes.
type QueueRecoveryWorker struct {
	queue    RecoveryQueue
	resolver Resolver
	locks    distlock.Factory
	metrics  *metrics.Metrics
	interval time.Duration
	staleAge time.Duration
}

// NewQueueRecoveryWorker creates a recovery worker. Zero durations use the
// defaults.
func NewQueueRecoveryWorker(queue RecoveryQueue, resolver Resolver, locks distlock.Factory,
	interval, staleAge time.Duration, m *metrics.Metrics) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &QueueRecoveryWorker{
		queue:    queue,
		resolver: resolver,
		locks:    locks,
		metrics:  m,
		interval: interval,
		staleAge: staleAge,
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	logger.Info("queue recovery: starting",
		"interval", qr.interval.String(), "stale_age", qr.staleAge.String(), "max_retries", MaxRetryCount)

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue recovery: stopping")
			return
		case <-ticker.C:
			if _, err := qr.RunOnce(ctx); err != nil && !errors.Is(err, distlock.ErrNotAcquired) {
				logger.Error("queue recovery: sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep under the recovery lock.
func (qr *QueueRecoveryWorker) RunOnce(ctx context.Context) (RecoveryResult, error) {
	var res RecoveryResult
	lock := qr.locks(recoveryLockKey, qr.interval)
	err := distlock.Do(ctx, lock, func(ctx context.Context) error {
		var err error
		res, err = qr.sweep(ctx)
		return err
	})
	return res, err
}

func (qr *QueueRecoveryWorker) sweep(ctx context.Context) (RecoveryResult, error) {
	var res RecoveryResult
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stale, err := qr.queue.Stale(ctx, qr.staleAge)
	if err != nil {
		return res, err
	}

	for _, c := range stale {
		if c.Job.Attempts+1 < MaxRetryCount {
			if err := qr.queue.Requeue(ctx, c); err != nil {
				logger.Error("queue recovery: requeue failed", "log_id", c.Job.LogID, "error", err)
				continue
			}
			res.Requeued++
			continue
		}

		if err := qr.queue.DeadLetter(ctx, c); err != nil {
			logger.Error("queue recovery: dead-letter failed", "log_id", c.Job.LogID, "error", err)
			continue
		}
		res.DeadLettered++
		if _, err := qr.resolver.Resolve(ctx, c.Job.LogID, domain.DeliveryFailed); err != nil {
			logger.Error("queue recovery: could not fail dead-lettered log",
				"log_id", c.Job.LogID, "campaign_id", c.Job.CampaignID, "error", err)
		}
	}

	if res.Requeued > 0 {
		logger.Info("queue recovery: requeued stuck jobs", "count", res.Requeued)
		qr.metrics.RecordRecovery("requeued", res.Requeued)
	}
	if res.DeadLettered > 0 {
		logger.Warn("queue recovery: moved jobs to dead letter", "count", res.DeadLettered)
		qr.metrics.RecordRecovery("dead_lettered", res.DeadLettered)
	}
	if depth, err := qr.queue.Depth(ctx); err == nil {
		qr.metrics.SetQueueDepth(depth)
	}
	return res, nil
}
