package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// InsertUsageEvent records one model invocation's token counts and
// computed cost.
func (s *Store) InsertUsageEvent(ctx context.Context, e *model.AIUsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_usage_events (
			mailbox_id, model_name, query_type, input_tokens_count,
			output_tokens_count, cached_tokens_count, cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.MailboxID, e.ModelName, e.QueryType, e.InputTokensCount,
		e.OutputTokensCount, e.CachedTokensCount, e.Cost,
	)
	return errors.Wrap(err, "failed to insert usage event")
}
