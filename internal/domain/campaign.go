package domain

import (
	"time"
)

// DeliveryMode selects how a campaign's messages are resolved.
type DeliveryMode string

const (
	// DeliverySync resolves every recipient before the campaign is stored.
	DeliverySync DeliveryMode = "sync"
	// DeliveryAsync stores PENDING logs and lets the worker resolve them.
	DeliveryAsync DeliveryMode = "async"
)

// Valid reports whether m is a known delivery mode.
func (m DeliveryMode) Valid() bool {
	return m == DeliverySync || m == DeliveryAsync
}

// DeliveryStatus enumerates the lifecycle of a single recipient's message.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// IsTerminal returns true for SENT and FAILED.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// Campaign is a message broadcast to the union of one or more segments.
//
// Invariant: PendingCount + TotalSent + TotalFailed == AudienceSize.
type Campaign struct {
	ID            string       `json:"_id" db:"id"`
	Name          string       `json:"campaignName" db:"name"`
	Description   string       `json:"description" db:"description"`
	Message       string       `json:"message" db:"message"`
	Mode          DeliveryMode `json:"mode" db:"mode"`
	CreatedBy     string       `json:"createdBy" db:"created_by"`
	CreatedByName string       `json:"createdByName,omitempty" db:"-"`
	SegmentIDs    []string     `json:"segments" db:"segment_ids"`
	AudienceSize  int          `json:"audienceSize" db:"audience_size"`
	PendingCount  int          `json:"pendingCount" db:"pending_count"`
	TotalSent     int          `json:"totalSent" db:"total_sent"`
	TotalFailed   int          `json:"totalFailed" db:"total_failed"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}

// Consistent reports whether the counters add up to the audience size.
func (c *Campaign) Consistent() bool {
	return c.PendingCount >= 0 && c.PendingCount+c.TotalSent+c.TotalFailed == c.AudienceSize
}

// DeliveryLog is the per-recipient record of a campaign message.
// It is resolved exactly once, from PENDING to SENT or FAILED.
type DeliveryLog struct {
	ID           string         `json:"_id" db:"id"`
	CampaignID   string         `json:"campaignId" db:"campaign_id"`
	CampaignName string         `json:"campaignName" db:"campaign_name"`
	CustomerID   string         `json:"customerId" db:"customer_id"`
	CustomerName string         `json:"customerName" db:"customer_name"`
	Message      string         `json:"message" db:"message"`
	Status       DeliveryStatus `json:"status" db:"status"`
	CreatedBy    string         `json:"createdBy" db:"created_by"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	ResolvedAt   *time.Time     `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// DeliveryJob is the unit of work handed to the async delivery worker. The
// log ID doubles as the idempotency key: resolving it twice is a no-op.
type DeliveryJob struct {
	LogID      string `json:"logId"`
	CampaignID string `json:"campaignId"`
	CustomerID string `json:"customerId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Channel    string `json:"channel,omitempty"`
	Message    string `json:"message"`
	Attempts   int    `json:"attempts"`
}
