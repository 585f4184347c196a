package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/service/segment"
)

// SegmentRepo implements segment.Repository in memory.
type SegmentRepo struct {
	mu   sync.RWMutex
	byID map[string]domain.Segment
	seq  map[string]int
	next int
}

// NewSegmentRepo creates an empty in-memory segment store.
func NewSegmentRepo() *SegmentRepo {
	return &SegmentRepo{byID: make(map[string]domain.Segment), seq: make(map[string]int)}
}

func (r *SegmentRepo) Create(_ context.Context, s *domain.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Customers = append([]string(nil), s.Customers...)
	r.byID[s.ID] = cp
	r.next++
	r.seq[s.ID] = r.next
	return nil
}

func (r *SegmentRepo) Get(_ context.Context, id string) (*domain.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, segment.ErrNotFound
	}
	return &s, nil
}

func (r *SegmentRepo) GetMany(_ context.Context, ids []string) ([]domain.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	out := make([]domain.Segment, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if s, ok := r.byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *SegmentRepo) List(_ context.Context) ([]domain.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.newestFirst(), nil
}

func (r *SegmentRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return segment.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.seq, id)
	return nil
}

func (r *SegmentRepo) Summaries(_ context.Context) ([]domain.SegmentSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	segs := r.newestFirst()
	out := make([]domain.SegmentSummary, len(segs))
	for i, s := range segs {
		out[i] = domain.SegmentSummary{ID: s.ID, Name: s.Name, CustomerCount: len(s.Customers)}
	}
	return out, nil
}

func (r *SegmentRepo) newestFirst() []domain.Segment {
	out := make([]domain.Segment, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.seq[out[i].ID] > r.seq[out[j].ID]
	})
	return out
}
