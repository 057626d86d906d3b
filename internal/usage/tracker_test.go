package usage

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

type fakeEventStore struct {
	events   []*model.AIUsageEvent
	failures int
}

func (s *fakeEventStore) InsertUsageEvent(ctx context.Context, e *model.AIUsageEvent) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("insert failed")
	}
	s.events = append(s.events, e)
	return nil
}

func TestTrackRecordsEventWithCost(t *testing.T) {
	store := &fakeEventStore{}
	tracker := NewTracker(store, logger.NewNop())

	tracker.Track(context.Background(), 7, "o4-mini-2025-04-16", "chat_completion", llm.Usage{
		InputTokens:       100,
		OutputTokens:      50,
		CachedInputTokens: 60,
	})

	require.Len(t, store.events, 1)
	event := store.events[0]
	assert.Equal(t, int64(7), event.MailboxID)
	assert.Equal(t, "o4-mini-2025-04-16", event.ModelName)
	assert.Equal(t, "chat_completion", event.QueryType)
	assert.Equal(t, 100, event.InputTokensCount)
	assert.Equal(t, 50, event.OutputTokensCount)
	assert.Equal(t, 60, event.CachedTokensCount)
	assert.Equal(t, "0.0002805", event.Cost)
}

func TestTrackDropsEventWhenStoreKeepsFailing(t *testing.T) {
	// A cancelled context stops the retry loop; the event is logged and
	// dropped, never surfaced to the caller.
	store := &fakeEventStore{failures: 100}
	tracker := NewTracker(store, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tracker.Track(ctx, 7, "gpt-4o", "chat_completion", llm.Usage{InputTokens: 10})

	assert.Empty(t, store.events)
}
