package segment

import (
	"context"

	"github.com/ignite/audience-crm/internal/domain"
)

// Repository defines the data access contract for segments.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a segment.
	Create(ctx context.Context, s *domain.Segment) error

	// Get returns a single segment. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Segment, error)

	// GetMany returns the segments that exist among ids, in the order given.
	GetMany(ctx context.Context, ids []string) ([]domain.Segment, error)

	// List returns every segment, newest first.
	List(ctx context.Context) ([]domain.Segment, error)

	// Delete removes a segment. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// Summaries returns id, name and audience size of every segment, newest first.
	Summaries(ctx context.Context) ([]domain.SegmentSummary, error)
}
