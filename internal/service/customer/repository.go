package customer

import (
	"context"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/segmentation"
)

// Repository defines the data access contract for customers.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a customer. Returns ErrDuplicate if the email or phone
	// is already taken.
	Create(ctx context.Context, c *domain.Customer) error

	// Get returns a single customer. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Customer, error)

	// GetMany returns the customers with the given ids in the order the ids
	// are given. Unknown ids are skipped.
	GetMany(ctx context.Context, ids []string) ([]domain.Customer, error)

	// List returns every customer, newest first.
	List(ctx context.Context) ([]domain.Customer, error)

	// Delete removes a customer and returns it. Returns ErrNotFound if it
	// doesn't exist.
	Delete(ctx context.Context, id string) (*domain.Customer, error)

	// AddOrder appends an order and recomputes the aggregates atomically.
	AddOrder(ctx context.Context, id string, o domain.Order) (*domain.Customer, error)

	// Find returns customers matching f.
	Find(ctx context.Context, f segmentation.Filter, opts FindOptions) ([]domain.Customer, error)
}

// FindOptions controls ordering and size of a Find result.
type FindOptions struct {
	Sort  segmentation.SortOrder
	Limit int
}
