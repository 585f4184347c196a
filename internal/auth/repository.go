package auth

import (
	"context"

	"github.com/ignite/audience-crm/internal/domain"
)

// Repository defines the data access contract for users.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a user. Returns ErrUserExists if the email is taken.
	Create(ctx context.Context, u *domain.User) error

	// GetByID returns ErrUserNotFound if the user doesn't exist.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail matches case-insensitively. Returns ErrUserNotFound if
	// no user has the email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}
