package domain

import (
	"strings"
	"time"
)

// Order is a single purchase recorded against a customer.
type Order struct {
	Amount  float64   `json:"amount" validate:"gte=0"`
	Items   []string  `json:"items"`
	Date    time.Time `json:"date"`
	Channel string    `json:"channel,omitempty"`
}

// Customer is a person the CRM can segment and message.
// TotalSpent and LastOrder are derived from Orders and must only be changed
// through Recompute.
type Customer struct {
	ID                string     `json:"_id" db:"id"`
	FirstName         string     `json:"firstName" db:"first_name"`
	LastName          string     `json:"lastName" db:"last_name"`
	Email             string     `json:"email" db:"email"`
	Phone             string     `json:"phone" db:"phone"`
	TotalSpent        float64    `json:"totalSpent" db:"total_spent"`
	LastOrder         *time.Time `json:"lastOrder,omitempty" db:"last_order"`
	Orders            []Order    `json:"orders" db:"orders"`
	PreferredCategory string     `json:"preferredCategory,omitempty" db:"preferred_category"`
	PreferredDay      string     `json:"preferredDay,omitempty" db:"preferred_day"`
	PreferredChannel  string     `json:"preferredChannel,omitempty" db:"preferred_channel"`
	CreatedBy         string     `json:"createdBy,omitempty" db:"created_by"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
}

// FullName is the display name used in delivery logs.
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Recompute derives TotalSpent and LastOrder from Orders.
func (c *Customer) Recompute() {
	var total float64
	var last *time.Time
	for i := range c.Orders {
		total += c.Orders[i].Amount
		d := c.Orders[i].Date
		if last == nil || d.After(*last) {
			last = &d
		}
	}
	c.TotalSpent = total
	c.LastOrder = last
}
