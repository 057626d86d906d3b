package model

import (
	"time"
)

// PlatformCustomer is keyed by email and carries the customer's
// monetary value in integer cents.
type PlatformCustomer struct {
	ID         int64          `json:"id"`
	Email      string         `json:"email"`
	Name       *string        `json:"name,omitempty"`
	ValueCents *int64         `json:"value_cents,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// IsVIP reports whether the customer's value meets the mailbox
// threshold. A missing value or threshold is never VIP.
func (c *PlatformCustomer) IsVIP(thresholdCents *int64) bool {
	if c == nil || c.ValueCents == nil || thresholdCents == nil {
		return false
	}
	return *c.ValueCents >= *thresholdCents
}
