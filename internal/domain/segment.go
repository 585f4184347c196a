package domain

import (
	"encoding/json"
	"time"
)

// Segment is a named, frozen audience. Customers is captured once at save
// time and never recomputed from Rule.
type Segment struct {
	ID          string          `json:"_id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Rule        json.RawMessage `json:"rule" db:"rule"`
	Customers   []string        `json:"customers" db:"customer_ids"`
	CreatedBy   string          `json:"createdBy,omitempty" db:"created_by"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// SegmentSummary is the lightweight view used when picking campaign audiences.
type SegmentSummary struct {
	ID            string `json:"_id"`
	Name          string `json:"name"`
	CustomerCount int    `json:"customers"`
}
