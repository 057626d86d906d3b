package model

import (
	"time"
)

// AIUsageEvent is an append-only record of a single model invocation.
// Cost is a fixed-precision decimal string to avoid rounding drift in
// aggregation.
type AIUsageEvent struct {
	ID                int64     `json:"id"`
	MailboxID         int64     `json:"mailbox_id"`
	ModelName         string    `json:"model_name"`
	QueryType         string    `json:"query_type"`
	InputTokensCount  int       `json:"input_tokens_count"`
	OutputTokensCount int       `json:"output_tokens_count"`
	CachedTokensCount int       `json:"cached_tokens_count"`
	Cost              string    `json:"cost"`
	CreatedAt         time.Time `json:"created_at"`
}
