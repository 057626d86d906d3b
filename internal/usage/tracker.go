package usage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/pkg/logger"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

// EventStore persists usage events.
type EventStore interface {
	InsertUsageEvent(ctx context.Context, e *model.AIUsageEvent) error
}

// Tracker records model invocations. Writes are retried with
// exponential backoff; a write that still fails after retries is
// logged and dropped so billing problems never break responses.
type Tracker struct {
	store  EventStore
	logger *logger.Logger
}

// NewTracker creates a usage tracker.
func NewTracker(store EventStore, log *logger.Logger) *Tracker {
	return &Tracker{store: store, logger: log}
}

// Track records one model invocation for a mailbox.
func (t *Tracker) Track(ctx context.Context, mailboxID int64, modelName, queryType string, u llm.Usage) {
	event := &model.AIUsageEvent{
		MailboxID:         mailboxID,
		ModelName:         modelName,
		QueryType:         queryType,
		InputTokensCount:  u.InputTokens,
		OutputTokensCount: u.OutputTokens,
		CachedTokensCount: u.CachedInputTokens,
		Cost:              CalculateCost(modelName, u.InputTokens, u.OutputTokens, u.CachedInputTokens),
	}

	metrics.LLMTokensTotal.WithLabelValues(modelName, "in").Add(float64(u.InputTokens))
	metrics.LLMTokensTotal.WithLabelValues(modelName, "out").Add(float64(u.OutputTokens))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second

	// Three attempts total.
	err := backoff.Retry(func() error {
		return t.store.InsertUsageEvent(ctx, event)
	}, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
	if err != nil {
		t.logger.Errorw("failed to record usage event",
			"mailbox_id", mailboxID, "model", modelName, "query_type", queryType, "error", err)
	}
}
