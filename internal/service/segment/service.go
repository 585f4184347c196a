package segment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/segmentation"
	"github.com/ignite/audience-crm/internal/service/customer"
)

// Translator turns prompts into filters and describes rules.
// *segmentation.Translator implements it.
type Translator interface {
	Translate(ctx context.Context, prompt string) (*segmentation.Translation, error)
	Describe(ctx context.Context, rule json.RawMessage) (string, error)
}

// CustomerFinder runs a parsed filter against the customer store.
type CustomerFinder interface {
	Find(ctx context.Context, f segmentation.Filter, opts customer.FindOptions) ([]domain.Customer, error)
}

// QueryResult is the outcome of a prompt query.
type QueryResult struct {
	Filter    json.RawMessage   `json:"filter"`
	Prompt    string            `json:"prompt"`
	Count     int               `json:"count"`
	Customers []domain.Customer `json:"data"`
}

// SaveInput holds the fields for saving a segment.
type SaveInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Rule        json.RawMessage `json:"rule"`
	Customers   []string        `json:"customers"`
	CreatedBy   string          `json:"-"`
}

// Service implements segment business logic.
type Service struct {
	repo       Repository
	customers  CustomerFinder
	translator Translator
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records translations and saves on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a segment service.
func NewService(repo Repository, customers CustomerFinder, translator Translator, opts ...Option) *Service {
	s := &Service{repo: repo, customers: customers, translator: translator, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query translates prompt into a filter and returns the matching customers.
// Prompts that ask for the top N spenders are sorted by TotalSpent and capped.
func (s *Service) Query(ctx context.Context, prompt string) (*QueryResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrInvalidPrompt
	}

	tr, err := s.translator.Translate(ctx, prompt)
	if err != nil {
		s.logTranslationFailure(prompt, err)
		return nil, err
	}
	s.metrics.RecordTranslation("ok")

	opts := customer.FindOptions{}
	if n, ok := segmentation.TopN(prompt); ok {
		opts.Sort = segmentation.SortTotalSpentDesc
		opts.Limit = n
	}

	found, err := s.customers.Find(ctx, tr.Filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find customers: %w", err)
	}
	if found == nil {
		found = []domain.Customer{}
	}

	logger.Info("segment: query executed",
		"rule_hash", segmentation.HashRule(tr.Rule),
		"count", len(found),
		"top_n", opts.Limit)

	return &QueryResult{Filter: tr.Rule, Prompt: prompt, Count: len(found), Customers: found}, nil
}

// Preview runs a hand-written rule against the customers without calling
// the model. The result has the same shape as Query with an empty prompt.
func (s *Service) Preview(ctx context.Context, raw json.RawMessage) (*QueryResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidSegmentDefinition)
	}
	f, rule, err := segmentation.ParseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSegmentDefinition, err)
	}
	if segmentation.IsMatchAll(f) {
		return nil, fmt.Errorf("%w: rule must test at least one field", ErrInvalidSegmentDefinition)
	}

	found, err := s.customers.Find(ctx, f, customer.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("find customers: %w", err)
	}
	if found == nil {
		found = []domain.Customer{}
	}
	logger.Info("segment: preview executed", "rule_hash", segmentation.HashRule(rule), "count", len(found))
	return &QueryResult{Filter: rule, Count: len(found), Customers: found}, nil
}

func (s *Service) logTranslationFailure(prompt string, err error) {
	var mre *segmentation.ModelResponseError
	raw := ""
	if errors.As(err, &mre) {
		raw = mre.Raw
	}

	switch {
	case errors.Is(err, segmentation.ErrDisallowedFilterContent):
		key, _ := segmentation.RejectedKey(err)
		s.metrics.RecordTranslation("rejected")
		s.metrics.RecordRejection(key)
		logger.Warn("segment: model produced a disallowed filter",
			"key", key, "error", err, "raw", raw, "prompt", prompt)
	case errors.Is(err, segmentation.ErrUpstream):
		s.metrics.RecordTranslation("upstream_error")
		logger.Error("segment: text generation failed", "error", err)
	default:
		s.metrics.RecordTranslation("unusable")
		logger.Warn("segment: unusable model response", "error", err, "raw", raw)
	}
}

// Save validates and persists a frozen segment. Customer IDs are
// de-duplicated keeping first occurrence. A missing description is generated
// from the rule; if that fails the segment is saved without one.
func (s *Service) Save(ctx context.Context, in SaveInput) (*domain.Segment, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSegmentDefinition)
	}
	if len(in.Rule) == 0 || string(in.Rule) == "null" {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidSegmentDefinition)
	}
	ids := dedupe(in.Customers)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one customer is required", ErrInvalidSegmentDefinition)
	}

	f, rule, err := segmentation.ParseJSON(in.Rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSegmentDefinition, err)
	}
	if segmentation.IsMatchAll(f) {
		return nil, fmt.Errorf("%w: rule must test at least one field", ErrInvalidSegmentDefinition)
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		description, err = s.translator.Describe(ctx, rule)
		if err != nil {
			logger.Warn("segment: could not generate description", "error", err)
			description = ""
		}
	}

	seg := &domain.Segment{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Rule:        rule,
		Customers:   ids,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, seg); err != nil {
		return nil, fmt.Errorf("save segment: %w", err)
	}

	s.metrics.RecordSegmentSaved()
	logger.Info("segment: saved", "segment_id", seg.ID, "name", seg.Name, "customers", len(ids))
	return seg, nil
}

// List returns every segment, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Segment, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if out == nil {
		out = []domain.Segment{}
	}
	return out, nil
}

// Get returns one segment.
func (s *Service) Get(ctx context.Context, id string) (*domain.Segment, error) {
	return s.repo.Get(ctx, id)
}

// Delete removes a segment.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("segment: deleted", "segment_id", id)
	return nil
}

// Summaries returns id, name and audience size of every segment.
func (s *Service) Summaries(ctx context.Context) ([]domain.SegmentSummary, error) {
	out, err := s.repo.Summaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("segment summaries: %w", err)
	}
	if out == nil {
		out = []domain.SegmentSummary{}
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
