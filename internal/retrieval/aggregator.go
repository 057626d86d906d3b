package retrieval

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

const (
	// SimilarityThreshold is the minimum cosine similarity a page or
	// past conversation must reach to be included in the prompt.
	SimilarityThreshold = 0.4

	maxWebsitePages      = 5
	maxPastConversations = 3
)

// Store is the persistence surface the aggregator reads from.
type Store interface {
	EnabledKnowledgeBankEntries(ctx context.Context, mailboxID int64) ([]model.KnowledgeBankEntry, error)
	SimilarWebsitePages(ctx context.Context, mailboxID int64, embedding []float32, threshold float64, limit int) ([]model.WebsitePage, error)
	SimilarConversations(ctx context.Context, mailboxID int64, embedding []float32, threshold float64, limit int, excludeSlug string) ([]model.SimilarConversation, error)
	GetMessagesOnly(ctx context.Context, conversationID int64) ([]*model.Message, error)
}

// PastConversation is a similar past conversation with the message
// history needed to render it into the prompt.
type PastConversation struct {
	model.SimilarConversation
	Messages []*model.Message
}

// Result holds everything the prompt builder needs from retrieval.
type Result struct {
	KnowledgeBank     []model.KnowledgeBankEntry
	WebsitePages      []model.WebsitePage
	PastConversations []PastConversation
}

// Aggregator fans out to the retrieval sources and merges their
// results. A failing store source degrades to empty rather than
// failing the whole response; an embedding failure fails the fetch,
// since every similarity source depends on it.
type Aggregator struct {
	store    Store
	embedder llm.Embedder
	logger   *logger.Logger
}

// NewAggregator creates a retrieval aggregator.
func NewAggregator(store Store, embedder llm.Embedder, log *logger.Logger) *Aggregator {
	return &Aggregator{store: store, embedder: embedder, logger: log}
}

// Fetch gathers prompt retrieval data for the given query. The current
// conversation's slug is excluded from the past-conversation search so
// a thread never retrieves itself.
func (a *Aggregator) Fetch(ctx context.Context, mailboxID int64, excludeSlug, query string) (*Result, error) {
	result := &Result{}

	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed retrieval query")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		entries, err := a.store.EnabledKnowledgeBankEntries(ctx, mailboxID)
		if err != nil {
			a.logger.Warnw("knowledge bank retrieval failed", "error", err)
			return
		}
		result.KnowledgeBank = entries
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		pages, err := a.store.SimilarWebsitePages(ctx, mailboxID, embedding, SimilarityThreshold, maxWebsitePages)
		if err != nil {
			a.logger.Warnw("website page retrieval failed", "error", err)
			return
		}
		result.WebsitePages = pages
	}()
	go func() {
		defer wg.Done()
		conversations, err := a.store.SimilarConversations(ctx, mailboxID, embedding, SimilarityThreshold, maxPastConversations, excludeSlug)
		if err != nil {
			a.logger.Warnw("past conversation retrieval failed", "error", err)
			return
		}
		past := make([]PastConversation, 0, len(conversations))
		for _, c := range conversations {
			msgs, err := a.store.GetMessagesOnly(ctx, c.ID)
			if err != nil {
				a.logger.Warnw("past conversation messages failed", "conversation_id", c.ID, "error", err)
				continue
			}
			past = append(past, PastConversation{SimilarConversation: c, Messages: msgs})
		}
		result.PastConversations = past
	}()

	wg.Wait()
	return result, nil
}
