package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/service/sending"
)

const (
	DefaultDeliveryConcurrency = 4
	DefaultPollTimeout         = 2 * time.Second
	DefaultSendTimeout         = 10 * time.Second
)

// Resolver settles one delivery log. campaign.Repository implements it.
type Resolver interface {
	Resolve(ctx context.Context, logID string, status domain.DeliveryStatus) (bool, error)
}

// JobSource is the consumer side of the delivery queue.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Claimed, error)
	Ack(ctx context.Context, c *Claimed) error
}

// SendLimiter throttles vendor calls. *RateLimiter implements it.
type SendLimiter interface {
	Wait(ctx context.Context, vendor string) error
}

// DeliveryWorker drains the delivery queue: each goroutine takes one job,
// asks the vendor to send it, resolves its log and acknowledges it.
type DeliveryWorker struct {
	queue       JobSource
	resolver    Resolver
	vendor      sending.Vendor
	limiter     SendLimiter
	metrics     *metrics.Metrics
	concurrency int
	pollTimeout time.Duration
	sendTimeout time.Duration

	sent    int64
	failed  int64
	skipped int64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewDeliveryWorker creates a worker pool with concurrency goroutines.
func NewDeliveryWorker(queue JobSource, resolver Resolver, vendor sending.Vendor, concurrency int, m *metrics.Metrics) *DeliveryWorker {
	if concurrency <= 0 {
		concurrency = DefaultDeliveryConcurrency
	}
	return &DeliveryWorker{
		queue:       queue,
		resolver:    resolver,
		vendor:      vendor,
		metrics:     m,
		concurrency: concurrency,
		pollTimeout: DefaultPollTimeout,
		sendTimeout: DefaultSendTimeout,
	}
}

// SetSendTimeout bounds each vendor call.
func (w *DeliveryWorker) SetSendTimeout(d time.Duration) {
	if d > 0 {
		w.sendTimeout = d
	}
}

// SetLimiter throttles vendor calls through l.
func (w *DeliveryWorker) SetLimiter(l SendLimiter) {
	w.limiter = l
}

// Start launches the pool. It returns immediately; Stop waits for in-flight
// jobs to finish.
func (w *DeliveryWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)

	logger.Info("delivery worker: starting", "workers", w.concurrency, "vendor", w.vendor.Name())
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
}

// Stop cancels the pool and waits for it to drain.
func (w *DeliveryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	st := w.Stats()
	logger.Info("delivery worker: stopped",
		"sent", st["total_sent"], "failed", st["total_failed"], "skipped", st["total_skipped"])
}

// Stats returns current counters.
func (w *DeliveryWorker) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":    atomic.LoadInt64(&w.sent),
		"total_failed":  atomic.LoadInt64(&w.failed),
		"total_skipped": atomic.LoadInt64(&w.skipped),
	}
}

func (w *DeliveryWorker) loop(ctx context.Context, n int) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("delivery worker: dequeue failed", "worker", n, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if claimed == nil {
			continue
		}
		w.Process(ctx, claimed)
	}
}

// Process handles one claimed job. A job whose resolve fails is left in the
// processing list for the recovery sweep.
func (w *DeliveryWorker) Process(ctx context.Context, c *Claimed) {
	// Once claimed, finish the job even if shutdown starts.
	ctx = context.WithoutCancel(ctx)
	job := c.Job

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, w.vendor.Name()); err != nil {
			logger.Warn("delivery worker: rate limiter wait failed", "log_id", job.LogID, "error", err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	out := w.vendor.Send(sendCtx, sending.Recipient{
		CustomerID: job.CustomerID,
		Name:       job.Name,
		Email:      job.Email,
		Phone:      job.Phone,
		Channel:    job.Channel,
	}, job.Message)
	cancel()

	status := domain.DeliverySent
	if out.Status != domain.DeliverySent {
		status = domain.DeliveryFailed
	}

	ok, err := w.resolver.Resolve(ctx, job.LogID, status)
	if err != nil {
		logger.Error("delivery worker: resolve failed",
			"log_id", job.LogID, "campaign_id", job.CampaignID, "error", err)
		return
	}

	switch {
	case !ok:
		atomic.AddInt64(&w.skipped, 1)
		logger.Debug("delivery worker: log already resolved", "log_id", job.LogID)
	case status == domain.DeliverySent:
		atomic.AddInt64(&w.sent, 1)
		w.metrics.RecordDelivery(string(domain.DeliveryAsync), string(status))
	default:
		atomic.AddInt64(&w.failed, 1)
		w.metrics.RecordDelivery(string(domain.DeliveryAsync), string(status))
		logger.Debug("delivery worker: delivery failed",
			"log_id", job.LogID, "customer_id", job.CustomerID, "error", out.Err)
	}

	if err := w.queue.Ack(ctx, c); err != nil {
		logger.Warn("delivery worker: ack failed", "log_id", job.LogID, "error", err)
	}
}
