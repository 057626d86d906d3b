package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/jobs"
	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/prompt"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/internal/tools"
	"github.com/helpdeskhq/response-engine/internal/usage"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// Store is the persistence surface the engine depends on.
type Store interface {
	GetMessagesOnly(ctx context.Context, conversationID int64) ([]*model.Message, error)
	CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error)
	LastUserMessage(ctx context.Context, conversationID int64) (*model.Message, error)
	ReplaceAIDraft(ctx context.Context, draft *model.Message) (*model.Message, error)
	GetPlatformCustomer(ctx context.Context, email string) (*model.PlatformCustomer, error)
	UpdateOriginalConversation(ctx context.Context, id int64, upd model.ConversationUpdate, opts store.UpdateOptions) (*model.Conversation, []model.FieldChange, error)
}

// Options holds the engine's behavioral configuration.
type Options struct {
	// ReasoningEnabled turns the reasoning pass on for chat responses.
	ReasoningEnabled bool

	// CompletionTimeout bounds one full completion, including tool
	// round-trips.
	CompletionTimeout time.Duration

	// CheckResolutionDelay is how long after a successful assistant
	// turn the resolution check runs.
	CheckResolutionDelay time.Duration

	// SummaryModel is the model used for message summarization.
	SummaryModel string
}

// Engine orchestrates response generation end to end.
type Engine struct {
	store            Store
	completionClient llm.Client
	reasoningClient  llm.Client
	summaryClient    llm.Client
	promptBuilder    *prompt.Builder
	toolBuilder      *tools.Builder
	tracker          *usage.Tracker
	cache            *ResponseCache
	dispatcher       jobs.Dispatcher
	opts             Options
	logger           *logger.Logger
}

// New creates an engine. The reasoning client may be nil, which
// disables the reasoning pass regardless of Options. The summary
// client may be nil, which falls back to the completion client for
// summarization.
func New(
	st Store,
	completionClient llm.Client,
	reasoningClient llm.Client,
	summaryClient llm.Client,
	promptBuilder *prompt.Builder,
	toolBuilder *tools.Builder,
	tracker *usage.Tracker,
	cache *ResponseCache,
	dispatcher jobs.Dispatcher,
	opts Options,
	log *logger.Logger,
) *Engine {
	if reasoningClient == nil {
		opts.ReasoningEnabled = false
	}
	if summaryClient == nil {
		summaryClient = completionClient
	}
	if opts.CompletionTimeout == 0 {
		opts.CompletionTimeout = 110 * time.Second
	}
	if opts.SummaryModel == "" {
		opts.SummaryModel = llm.MiniModel
	}
	return &Engine{
		store:            st,
		completionClient: completionClient,
		reasoningClient:  reasoningClient,
		summaryClient:    summaryClient,
		promptBuilder:    promptBuilder,
		toolBuilder:      toolBuilder,
		tracker:          tracker,
		cache:            cache,
		dispatcher:       dispatcher,
		opts:             opts,
		logger:           log,
	}
}

// UpdateConversation applies an update to the root of the merge chain.
// When the update hands the conversation to the AI and there is an
// unanswered user message, an auto-response job is scheduled so the AI
// picks the thread up.
func (e *Engine) UpdateConversation(ctx context.Context, conversationID int64, upd model.ConversationUpdate, opts store.UpdateOptions) (*model.Conversation, []model.FieldChange, error) {
	updated, changes, err := e.store.UpdateOriginalConversation(ctx, conversationID, upd, opts)
	if err != nil {
		return nil, nil, err
	}

	for _, change := range changes {
		if change.Field != "assignedToAI" {
			continue
		}
		if assigned, ok := change.Value.(bool); !ok || !assigned {
			continue
		}
		lastMsg, err := e.store.LastUserMessage(ctx, updated.ID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				e.logger.Warnw("failed to look up last user message",
					"conversation_id", updated.ID, "error", err)
			}
			continue
		}
		if err := e.dispatcher.Dispatch(ctx, jobs.JobAutoResponseCreate, map[string]any{
			"conversationId": updated.ID,
			"messageId":      lastMsg.ID,
		}); err != nil {
			e.logger.Errorw("failed to dispatch auto-response job",
				"conversation_id", updated.ID, "error", err)
		}
	}

	return updated, changes, nil
}
