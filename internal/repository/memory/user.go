package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/ignite/audience-crm/internal/auth"
	"github.com/ignite/audience-crm/internal/domain"
)

// UserRepo implements auth.Repository in memory.
type UserRepo struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewUserRepo creates an empty in-memory user store.
func NewUserRepo() *UserRepo {
	return &UserRepo{byID: make(map[string]domain.User), byEmail: make(map[string]string)}
}

func (r *UserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := r.byEmail[key]; ok {
		return auth.ErrUserExists
	}
	r.byID[u.ID] = *u
	r.byEmail[key] = u.ID
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	u := r.byID[id]
	return &u, nil
}
