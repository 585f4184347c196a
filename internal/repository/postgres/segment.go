package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/service/segment"
)

const segmentColumns = `id, name, description, rule, customer_ids, created_by, created_at`

// SegmentRepo implements segment.Repository against PostgreSQL.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

func (r *SegmentRepo) Create(ctx context.Context, s *domain.Segment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO segments (id, name, description, rule, customer_ids, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.Name, s.Description, string(s.Rule), pq.StringArray(s.Customers), s.CreatedBy, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (r *SegmentRepo) Get(ctx context.Context, id string) (*domain.Segment, error) {
	s, err := scanSegment(r.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, segment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

func (r *SegmentRepo) GetMany(ctx context.Context, ids []string) ([]domain.Segment, error) {
	if len(ids) == 0 {
		return []domain.Segment{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.description, s.rule, s.customer_ids, s.created_by, s.created_at
		FROM segments s
		JOIN (
			SELECT id, MIN(pos) AS pos
			FROM unnest($1::text[]) WITH ORDINALITY AS wanted(id, pos)
			GROUP BY id
		) wanted ON wanted.id = s.id
		ORDER BY wanted.pos
	`, pq.StringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("get segments: %w", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

func (r *SegmentRepo) List(ctx context.Context) ([]domain.Segment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM segments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

func (r *SegmentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return segment.ErrNotFound
	}
	return nil
}

func (r *SegmentRepo) Summaries(ctx context.Context) ([]domain.SegmentSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(cardinality(customer_ids), 0)
		FROM segments
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("segment summaries: %w", err)
	}
	defer rows.Close()

	out := []domain.SegmentSummary{}
	for rows.Next() {
		var s domain.SegmentSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.CustomerCount); err != nil {
			return nil, fmt.Errorf("scan segment summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func collectSegments(rows *sql.Rows) ([]domain.Segment, error) {
	out := []domain.Segment{}
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSegment(row rowScanner) (*domain.Segment, error) {
	var (
		s         domain.Segment
		rule      []byte
		customers pq.StringArray
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &rule, &customers, &s.CreatedBy, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Rule = append([]byte(nil), rule...)
	s.Customers = []string(customers)
	if s.Customers == nil {
		s.Customers = []string{}
	}
	return &s, nil
}
