package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/segmentation"
	"github.com/ignite/audience-crm/internal/service/customer"
)

// CustomerRepo implements customer.Repository in memory.
type CustomerRepo struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Customer
	order []string
}

// NewCustomerRepo creates an empty in-memory customer store.
func NewCustomerRepo() *CustomerRepo {
	return &CustomerRepo{byID: make(map[string]*domain.Customer)}
}

func (r *CustomerRepo) Create(_ context.Context, c *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, c.Email) {
			return customer.ErrDuplicate
		}
		if c.Phone != "" && existing.Phone == c.Phone {
			return customer.ErrDuplicate
		}
	}
	cp := cloneCustomer(c)
	r.byID[c.ID] = cp
	r.order = append(r.order, c.ID)
	return nil
}

func (r *CustomerRepo) Get(_ context.Context, id string) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return cloneCustomer(c), nil
}

func (r *CustomerRepo) GetMany(_ context.Context, ids []string) ([]domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Customer, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.byID[id]; ok {
			out = append(out, *cloneCustomer(c))
		}
	}
	return out, nil
}

func (r *CustomerRepo) List(_ context.Context) ([]domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.newestFirst(), nil
}

func (r *CustomerRepo) Delete(_ context.Context, id string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return c, nil
}

func (r *CustomerRepo) AddOrder(_ context.Context, id string, o domain.Order) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	c.Orders = append(c.Orders, o)
	c.Recompute()
	return cloneCustomer(c), nil
}

func (r *CustomerRepo) Find(_ context.Context, f segmentation.Filter, opts customer.FindOptions) ([]domain.Customer, error) {
	r.mu.RLock()
	all := r.newestFirst()
	r.mu.RUnlock()

	// Oldest first, then the requested order, matching the SQL builder.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	out := segmentation.FilterCustomers(f, all)
	if opts.Sort == segmentation.SortTotalSpentDesc {
		sort.SliceStable(out, func(i, j int) bool { return out[i].TotalSpent > out[j].TotalSpent })
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// newestFirst must be called with r.mu held.
func (r *CustomerRepo) newestFirst() []domain.Customer {
	out := make([]domain.Customer, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, *cloneCustomer(r.byID[r.order[i]]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneCustomer(c *domain.Customer) *domain.Customer {
	cp := *c
	cp.Orders = append([]domain.Order(nil), c.Orders...)
	if c.LastOrder != nil {
		t := *c.LastOrder
		cp.LastOrder = &t
	}
	return &cp
}
