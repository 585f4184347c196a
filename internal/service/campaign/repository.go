package campaign

import (
	"context"

	"github.com/ignite/audience-crm/internal/domain"
)

// Repository defines the data access contract for campaigns and their
// delivery logs. Implementations must be safe for concurrent use.
type Repository interface {
	// CreateWithLogs stores a campaign and all of its delivery logs in one
	// transaction. Either everything is written or nothing is.
	CreateWithLogs(ctx context.Context, c *domain.Campaign, logs []domain.DeliveryLog) error

	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns every campaign, newest first, with CreatedByName filled.
	List(ctx context.Context) ([]domain.Campaign, error)

	// ListLogs returns a campaign's delivery logs in creation order.
	ListLogs(ctx context.Context, campaignID string) ([]domain.DeliveryLog, error)

	// Resolve flips a PENDING log to status and moves the campaign counters
	// (pending -1, sent or failed +1) in a single atomic step. It returns
	// false without changing anything if the log is not PENDING.
	Resolve(ctx context.Context, logID string, status domain.DeliveryStatus) (bool, error)
}

// SegmentReader loads segments by id.
type SegmentReader interface {
	GetMany(ctx context.Context, ids []string) ([]domain.Segment, error)
}

// CustomerReader loads customers by id, skipping unknown ids.
type CustomerReader interface {
	GetMany(ctx context.Context, ids []string) ([]domain.Customer, error)
}

// Enqueuer hands delivery jobs to the async worker. It returns how many of
// jobs were accepted, in order, before any error.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs ...domain.DeliveryJob) (int, error)
}
