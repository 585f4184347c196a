package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/distlock"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/service/sending"
)

const (
	defaultSendConcurrency = 16
	defaultSendTimeout     = 2 * time.Minute
	defaultLockTTL         = 5 * time.Minute
)

// CreateInput holds the fields for creating a campaign.
type CreateInput struct {
	Name        string   `json:"name"`
	Message     string   `json:"message"`
	Description string   `json:"description"`
	Segments    []string `json:"segments"`
	CreatedBy   string   `json:"-"`
}

// Service implements campaign business logic.
type Service struct {
	repo         Repository
	segments     SegmentReader
	customers    CustomerReader
	vendor       sending.Vendor
	personalizer *sending.Personalizer
	locks        distlock.Factory
	queue        Enqueuer
	metrics      *metrics.Metrics

	mode        domain.DeliveryMode
	concurrency int
	sendTimeout time.Duration
	lockTTL     time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMode sets the delivery mode for new campaigns. Defaults to sync.
func WithMode(m domain.DeliveryMode) Option {
	return func(s *Service) {
		if m.Valid() {
			s.mode = m
		}
	}
}

// WithQueue sets the job queue used in async mode.
func WithQueue(q Enqueuer) Option {
	return func(s *Service) { s.queue = q }
}

// WithMetrics records campaign and delivery counts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSendTimeout bounds the whole sync fan-out, including the write.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithConcurrency caps in-flight vendor calls in sync mode.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLockTTL sets how long a create lock is held at most.
func WithLockTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// NewService creates a campaign service.
func NewService(repo Repository, segments SegmentReader, customers CustomerReader, vendor sending.Vendor,
	personalizer *sending.Personalizer, locks distlock.Factory, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		segments:     segments,
		customers:    customers,
		vendor:       vendor,
		personalizer: personalizer,
		locks:        locks,
		mode:         domain.DeliverySync,
		concurrency:  defaultSendConcurrency,
		sendTimeout:  defaultSendTimeout,
		lockTTL:      defaultLockTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the delivery mode new campaigns are created with.
func (s *Service) Mode() domain.DeliveryMode { return s.mode }

// Create fans a message out to the union of the given segments.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: campaign name is required", ErrInvalidCampaignDefinition)
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidCampaignDefinition)
	}
	if len(in.Segments) == 0 {
		return nil, fmt.Errorf("%w: at least one segment is required", ErrInvalidCampaignDefinition)
	}
	if s.mode == domain.DeliveryAsync && s.queue == nil {
		return nil, ErrAsyncUnavailable
	}

	var out *domain.Campaign
	lock := s.locks(fmt.Sprintf("campaign-create:%s:%s", in.CreatedBy, in.Name), s.lockTTL)
	err := distlock.Do(ctx, lock, func(ctx context.Context) error {
		var err error
		out, err = s.create(ctx, in)
		return err
	})
	if errors.Is(err, distlock.ErrNotAcquired) {
		return nil, ErrCreateInProgress
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCampaign(string(out.Mode))
	logger.Info("campaign: created",
		"campaign_id", out.ID,
		"name", out.Name,
		"mode", string(out.Mode),
		"audience", out.AudienceSize,
		"sent", out.TotalSent,
		"failed", out.TotalFailed,
		"pending", out.PendingCount)
	return out, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	segs, err := s.segments.GetMany(ctx, in.Segments)
	if err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}
	if len(segs) == 0 {
		return nil, ErrNoSuchSegments
	}

	segmentIDs := make([]string, 0, len(segs))
	for _, seg := range segs {
		segmentIDs = append(segmentIDs, seg.ID)
	}
	recipients, err := s.customers.GetMany(ctx, audience(segs))
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Description:  in.Description,
		Message:      in.Message,
		Mode:         s.mode,
		CreatedBy:    in.CreatedBy,
		SegmentIDs:   segmentIDs,
		AudienceSize: len(recipients),
		CreatedAt:    now,
	}

	logs := make([]domain.DeliveryLog, len(recipients))
	for i := range recipients {
		cust := &recipients[i]
		logs[i] = domain.DeliveryLog{
			ID:           uuid.New().String(),
			CampaignID:   c.ID,
			CampaignName: c.Name,
			CustomerID:   cust.ID,
			CustomerName: cust.FullName(),
			Message:      s.render(in.Message, cust),
			Status:       domain.DeliveryPending,
			CreatedBy:    in.CreatedBy,
			CreatedAt:    now,
		}
	}

	if s.mode == domain.DeliveryAsync {
		return c, s.createAsync(ctx, c, recipients, logs)
	}
	return c, s.createSync(ctx, c, recipients, logs)
}

func (s *Service) render(message string, c *domain.Customer) string {
	if s.personalizer == nil {
		return message
	}
	out, err := s.personalizer.Render(message, c)
	if err != nil {
		logger.Warn("campaign: message template failed, sending raw message",
			"customer_id", c.ID, "error", err)
	}
	return out
}

// createSync resolves every recipient through the vendor and writes the
// campaign with its logs in one transaction. The caller's cancellation does
// not abort a fan-out in progress.
func (s *Service) createSync(ctx context.Context, c *domain.Campaign, recipients []domain.Customer, logs []domain.DeliveryLog) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range logs {
		g.Go(func() error {
			out := s.vendor.Send(gctx, sending.RecipientFromCustomer(&recipients[i]), logs[i].Message)
			if out.Status != domain.DeliverySent {
				out.Status = domain.DeliveryFailed
				logger.Debug("campaign: delivery failed",
					"campaign_id", c.ID, "customer_id", logs[i].CustomerID, "error", out.Err)
			}
			resolved := s.now().UTC()
			logs[i].Status = out.Status
			logs[i].ResolvedAt = &resolved
			return nil
		})
	}
	_ = g.Wait()

	for i := range logs {
		if logs[i].Status == domain.DeliverySent {
			c.TotalSent++
		} else {
			c.TotalFailed++
		}
		s.metrics.RecordDelivery(string(domain.DeliverySync), string(logs[i].Status))
	}
	c.PendingCount = 0

	if err := s.repo.CreateWithLogs(ctx, c, logs); err != nil {
		logger.Error("campaign: persist failed", "campaign_id", c.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrCampaignCreationFailed, err)
	}
	return nil
}

// createAsync writes the campaign with PENDING logs, then hands one job per
// log to the queue. Jobs the queue did not accept are resolved FAILED so the
// counters still converge.
func (s *Service) createAsync(ctx context.Context, c *domain.Campaign, recipients []domain.Customer, logs []domain.DeliveryLog) error {
	c.PendingCount = len(logs)
	if err := s.repo.CreateWithLogs(ctx, c, logs); err != nil {
		logger.Error("campaign: persist failed", "campaign_id", c.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrCampaignCreationFailed, err)
	}
	if len(logs) == 0 {
		return nil
	}

	jobs := make([]domain.DeliveryJob, len(logs))
	for i := range logs {
		r := &recipients[i]
		jobs[i] = domain.DeliveryJob{
			LogID:      logs[i].ID,
			CampaignID: c.ID,
			CustomerID: r.ID,
			Name:       r.FullName(),
			Email:      r.Email,
			Phone:      r.Phone,
			Channel:    r.PreferredChannel,
			Message:    logs[i].Message,
		}
	}

	n, err := s.queue.Enqueue(ctx, jobs...)
	if err == nil {
		return nil
	}
	if n < 0 {
		n = 0
	}
	logger.Error("campaign: enqueue failed, failing remaining deliveries",
		"campaign_id", c.ID, "enqueued", n, "remaining", len(jobs)-n, "error", err)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
	defer cancel()
	for _, job := range jobs[n:] {
		ok, rerr := s.repo.Resolve(rctx, job.LogID, domain.DeliveryFailed)
		if rerr != nil {
			logger.Error("campaign: could not fail undelivered log",
				"campaign_id", c.ID, "log_id", job.LogID, "error", rerr)
			continue
		}
		if ok {
			c.PendingCount--
			c.TotalFailed++
			s.metrics.RecordDelivery(string(domain.DeliveryAsync), string(domain.DeliveryFailed))
		}
	}
	return nil
}

// audience returns the distinct customer ids across segs in first-seen order.
func audience(segs []domain.Segment) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, seg := range segs {
		for _, id := range seg.Customers {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// List returns every campaign, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Campaign, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	if out == nil {
		out = []domain.Campaign{}
	}
	return out, nil
}

// Get returns one campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Logs returns the delivery logs of one campaign.
func (s *Service) Logs(ctx context.Context, id string) ([]domain.DeliveryLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	out, err := s.repo.ListLogs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	if out == nil {
		out = []domain.DeliveryLog{}
	}
	return out, nil
}
