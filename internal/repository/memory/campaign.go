package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository in memory. A single mutex
// stands in for the transaction boundary, so CreateWithLogs and Resolve are
// atomic with respect to each other.
type CampaignRepo struct {
	users *UserRepo

	mu        sync.RWMutex
	campaigns map[string]*domain.Campaign
	seq       map[string]int
	next      int
	logs      map[string]*domain.DeliveryLog
	byCamp    map[string][]string

	// FailCreate, when set, makes CreateWithLogs fail without writing.
	FailCreate error
}

// NewCampaignRepo creates an empty in-memory campaign store. users, when
// non-nil, is used to fill CreatedByName on List.
func NewCampaignRepo(users *UserRepo) *CampaignRepo {
	return &CampaignRepo{
		users:     users,
		campaigns: make(map[string]*domain.Campaign),
		seq:       make(map[string]int),
		logs:      make(map[string]*domain.DeliveryLog),
		byCamp:    make(map[string][]string),
	}
}

func (r *CampaignRepo) CreateWithLogs(_ context.Context, c *domain.Campaign, logs []domain.DeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate != nil {
		return r.FailCreate
	}
	if _, ok := r.campaigns[c.ID]; ok {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	for i := range logs {
		if _, ok := r.logs[logs[i].ID]; ok {
			return fmt.Errorf("delivery log %s already exists", logs[i].ID)
		}
	}

	cp := *c
	cp.SegmentIDs = append([]string(nil), c.SegmentIDs...)
	r.campaigns[c.ID] = &cp
	r.next++
	r.seq[c.ID] = r.next

	ids := make([]string, len(logs))
	for i := range logs {
		l := logs[i]
		r.logs[l.ID] = &l
		ids[i] = l.ID
	}
	r.byCamp[c.ID] = ids
	return nil
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	cp.CreatedByName = r.username(c.CreatedBy)
	return &cp, nil
}

func (r *CampaignRepo) List(_ context.Context) ([]domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		cp := *c
		cp.CreatedByName = r.username(c.CreatedBy)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.seq[out[i].ID] > r.seq[out[j].ID]
	})
	return out, nil
}

func (r *CampaignRepo) ListLogs(_ context.Context, campaignID string) ([]domain.DeliveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCamp[campaignID]
	out := make([]domain.DeliveryLog, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.logs[id])
	}
	return out, nil
}

func (r *CampaignRepo) Resolve(_ context.Context, logID string, status domain.DeliveryStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("resolve delivery log: invalid status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[logID]
	if !ok || l.Status != domain.DeliveryPending {
		return false, nil
	}
	now := time.Now().UTC()
	l.Status = status
	l.ResolvedAt = &now

	if c, ok := r.campaigns[l.CampaignID]; ok {
		c.PendingCount--
		if status == domain.DeliverySent {
			c.TotalSent++
		} else {
			c.TotalFailed++
		}
	}
	return true, nil
}

func (r *CampaignRepo) username(id string) string {
	if r.users == nil || id == "" {
		return ""
	}
	u, err := r.users.GetByID(context.Background(), id)
	if err != nil {
		return ""
	}
	return u.Username
}
