package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/service/campaign"
)

const campaignColumns = `c.id, c.name, c.description, c.message, c.mode, c.created_by,
		COALESCE(u.username, ''), c.segment_ids, c.audience_size, c.pending_count,
		c.total_sent, c.total_failed, c.created_at`

// resolveLog flips one PENDING log and moves its campaign's counters in a
// single statement. No row comes back when the log was already resolved.
const resolveLog = `
	WITH resolved AS (
		UPDATE delivery_logs
		SET status = $2::text, resolved_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING campaign_id
	)
	UPDATE campaigns c SET
		pending_count = c.pending_count - 1,
		total_sent    = c.total_sent + CASE WHEN $2::text = 'SENT' THEN 1 ELSE 0 END,
		total_failed  = c.total_failed + CASE WHEN $2::text = 'FAILED' THEN 1 ELSE 0 END
	FROM resolved
	WHERE c.id = resolved.campaign_id
	RETURNING c.id`

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

// CreateWithLogs writes the campaign row first so the logs' foreign key is
// satisfied, then bulk-copies the logs. Any error rolls back both.
func (r *CampaignRepo) CreateWithLogs(ctx context.Context, c *domain.Campaign, logs []domain.DeliveryLog) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, description, message, mode, created_by, segment_ids,
		                       audience_size, pending_count, total_sent, total_failed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.Name, c.Description, c.Message, string(c.Mode), c.CreatedBy, pq.StringArray(c.SegmentIDs),
		c.AudienceSize, c.PendingCount, c.TotalSent, c.TotalFailed, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	if len(logs) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("delivery_logs",
			"id", "campaign_id", "position", "campaign_name", "customer_id", "customer_name",
			"message", "status", "created_by", "created_at", "resolved_at"))
		if err != nil {
			return fmt.Errorf("prepare log copy: %w", err)
		}
		for i := range logs {
			l := &logs[i]
			var resolvedAt interface{}
			if l.ResolvedAt != nil {
				resolvedAt = *l.ResolvedAt
			}
			if _, err := stmt.ExecContext(ctx, l.ID, c.ID, i, l.CampaignName, l.CustomerID, l.CustomerName,
				l.Message, string(l.Status), l.CreatedBy, l.CreatedAt, resolvedAt); err != nil {
				stmt.Close()
				return fmt.Errorf("copy delivery log: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flush delivery logs: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("close log copy: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns c
		LEFT JOIN users u ON u.id = c.created_by
		WHERE c.id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns c
		LEFT JOIN users u ON u.id = c.created_by
		ORDER BY c.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ListLogs(ctx context.Context, campaignID string) ([]domain.DeliveryLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, campaign_name, customer_id, customer_name, message, status,
		       created_by, created_at, resolved_at
		FROM delivery_logs
		WHERE campaign_id = $1
		ORDER BY position
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	out := []domain.DeliveryLog{}
	for rows.Next() {
		var (
			l          domain.DeliveryLog
			status     string
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.CampaignName, &l.CustomerID, &l.CustomerName,
			&l.Message, &status, &l.CreatedBy, &l.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		l.Status = domain.DeliveryStatus(status)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			l.ResolvedAt = &t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Resolve(ctx context.Context, logID string, status domain.DeliveryStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("resolve delivery log: invalid status %q", status)
	}
	var campaignID string
	err := r.db.QueryRowContext(ctx, resolveLog, logID, string(status)).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve delivery log: %w", err)
	}
	return true, nil
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c        domain.Campaign
		mode     string
		segments pq.StringArray
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Message, &mode, &c.CreatedBy, &c.CreatedByName,
		&segments, &c.AudienceSize, &c.PendingCount, &c.TotalSent, &c.TotalFailed, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Mode = domain.DeliveryMode(mode)
	c.SegmentIDs = []string(segments)
	if c.SegmentIDs == nil {
		c.SegmentIDs = []string{}
	}
	return &c, nil
}
