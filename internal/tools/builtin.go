package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/helpdeskhq/response-engine/internal/jobs"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/prompt"
	"github.com/helpdeskhq/response-engine/internal/retrieval"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/pkg/logger"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

// GuideUserToolName is the client-side guide tool.
const GuideUserToolName = "guide_user"

const requestHumanSupportDescription = "escalate the conversation to a human support agent"

// ConversationStore is the persistence surface the built-in tools act
// on.
type ConversationStore interface {
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id int64, upd model.ConversationUpdate, opts store.UpdateOptions) (*model.Conversation, []model.FieldChange, error)
	UpdateOriginalConversation(ctx context.Context, id int64, upd model.ConversationUpdate, opts store.UpdateOptions) (*model.Conversation, []model.FieldChange, error)
	UpsertPlatformCustomer(ctx context.Context, email string, metadata map[string]any) error
	ListEnabledTools(ctx context.Context, mailboxID int64) ([]*model.Tool, error)
}

// Builder assembles the tool registry for one response.
type Builder struct {
	store      ConversationStore
	aggregator *retrieval.Aggregator
	metadata   *MetadataClient
	executor   *Executor
	dispatcher jobs.Dispatcher
	logger     *logger.Logger
}

// NewBuilder creates a tool builder.
func NewBuilder(st ConversationStore, aggregator *retrieval.Aggregator, metadata *MetadataClient, executor *Executor, dispatcher jobs.Dispatcher, log *logger.Logger) *Builder {
	return &Builder{
		store:      st,
		aggregator: aggregator,
		metadata:   metadata,
		executor:   executor,
		dispatcher: dispatcher,
		logger:     log,
	}
}

// BuildOptions selects which tools are exposed for a response.
type BuildOptions struct {
	IncludeHumanSupport bool
	GuideEnabled        bool
	IncludeMailboxTools bool

	// ReadPageTool, when the client provides one, lets the model read
	// the page the widget is embedded on. Client-side.
	ReadPageTool *ClientTool

	// ClientTools are ad-hoc tools declared by the client for this
	// turn. Client-side.
	ClientTools []ClientTool
}

// Build assembles the registry of tools available to the model for
// this conversation turn.
func (b *Builder) Build(ctx context.Context, conversation *model.Conversation, mailbox *model.Mailbox, email *string, opts BuildOptions) (Registry, error) {
	registry := Registry{}

	registry["knowledge_base"] = &Descriptor{
		Name:        "knowledge_base",
		Description: "search the knowledge base",
		Parameters: mustObjectSchema(map[string]schemaProperty{
			"query": {Type: "string", Description: "query to search the knowledge base"},
		}, []string{"query"}),
		Execute: func(ctx context.Context, params map[string]any) (string, error) {
			query, _ := params["query"].(string)
			return b.searchKnowledgeBase(ctx, mailbox, conversation, query)
		},
	}

	if opts.GuideEnabled {
		registry[GuideUserToolName] = &Descriptor{
			Name:        GuideUserToolName,
			Description: "call this tool to guide the user in the interface instead of returning a text response",
			Parameters: mustObjectSchema(map[string]schemaProperty{
				"title":        {Type: "string", Description: "title of the guide that will be displayed to the user"},
				"instructions": {Type: "string", Description: "instructions for the guide based on the current page and knowledge base"},
			}, []string{"title", "instructions"}),
			// No Execute: the call is forwarded to the client.
		}
	}

	if opts.ReadPageTool != nil {
		registry[opts.ReadPageTool.Name] = clientToolDescriptor(*opts.ReadPageTool)
	}
	for _, clientTool := range opts.ClientTools {
		registry[clientTool.Name] = clientToolDescriptor(clientTool)
	}

	if email == nil || *email == "" {
		registry["set_user_email"] = &Descriptor{
			Name:        "set_user_email",
			Description: "Set the email address for the current anonymous user, so that the user can be contacted later",
			Parameters: mustObjectSchema(map[string]schemaProperty{
				"email": {Type: "string", Description: "email address to set for the user"},
			}, []string{"email"}),
			Execute: func(ctx context.Context, params map[string]any) (string, error) {
				newEmail, _ := params["email"].(string)
				return b.setUserEmail(ctx, conversation.ID, newEmail)
			},
		}
	}

	if opts.IncludeHumanSupport {
		emailRequired := []string{"reason"}
		emailDescription := "email address to contact you"
		if email == nil || *email == "" {
			emailRequired = append(emailRequired, "email")
			emailDescription = "email address to contact you (required for anonymous users)"
		}
		registry["request_human_support"] = &Descriptor{
			Name:        "request_human_support",
			Description: requestHumanSupportDescription,
			Parameters: mustObjectSchema(map[string]schemaProperty{
				"reason": {Type: "string", Description: "Escalation reasons must include specific details about the issue. Simply stating a human is needed without context is not acceptable, even if the user stated several times or said it's urgent."},
				"email":  {Type: "string", Description: emailDescription},
			}, emailRequired),
			Execute: func(ctx context.Context, params map[string]any) (string, error) {
				reason, _ := params["reason"].(string)
				newEmail, _ := params["email"].(string)
				return b.requestHumanSupport(ctx, conversation.ID, mailbox, email, reason, newEmail)
			},
		}
	}

	if mailbox.MetadataEndpoint != nil && email != nil && *email != "" {
		registry["fetch_user_information"] = &Descriptor{
			Name:        "fetch_user_information",
			Description: "fetch user related information",
			Parameters: mustObjectSchema(map[string]schemaProperty{
				"reason": {Type: "string", Description: "reason for fetching user information"},
			}, []string{"reason"}),
			Execute: func(ctx context.Context, params map[string]any) (string, error) {
				return b.fetchUserInformation(ctx, mailbox, *email), nil
			},
		}
	}

	if opts.IncludeMailboxTools {
		if err := b.addMailboxTools(ctx, registry, conversation, mailbox, email); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func (b *Builder) addMailboxTools(ctx context.Context, registry Registry, conversation *model.Conversation, mailbox *model.Mailbox, email *string) error {
	mailboxTools, err := b.store.ListEnabledTools(ctx, mailbox.ID)
	if err != nil {
		return err
	}

	for _, mailboxTool := range mailboxTools {
		tool := mailboxTool
		schema, err := BuildParameterSchema(tool, SchemaOptions{UseEmailParameter: true, Email: email})
		if err != nil {
			return err
		}

		registry[tool.Slug] = &Descriptor{
			Name:        tool.Slug,
			Description: fmt.Sprintf("%s - %s", tool.Name, tool.Description),
			Parameters:  schema,
			Execute: func(ctx context.Context, params map[string]any) (string, error) {
				if tool.CustomerEmailParameter != nil && email != nil && *email != "" {
					params[*tool.CustomerEmailParameter] = *email
				}
				current, err := b.store.GetConversation(ctx, conversation.ID)
				if err != nil {
					return "", err
				}
				result, err := b.executor.CallToolAPI(ctx, current, tool, params)
				if err != nil {
					return "", err
				}
				payload, err := json.Marshal(result)
				if err != nil {
					return "", err
				}
				return string(payload), nil
			},
		}
	}
	return nil
}

func (b *Builder) searchKnowledgeBase(ctx context.Context, mailbox *model.Mailbox, conversation *model.Conversation, query string) (string, error) {
	data, err := b.aggregator.Fetch(ctx, mailbox.ID, conversation.Slug, query)
	if err != nil {
		return "", err
	}
	rendered := prompt.PastConversationsPrompt(query, data.PastConversations)
	if rendered == "" {
		return "No past conversations found", nil
	}
	return rendered, nil
}

func (b *Builder) setUserEmail(ctx context.Context, conversationID int64, email string) (string, error) {
	reason := "Email set by user"
	_, _, err := b.store.UpdateConversation(ctx, conversationID, model.ConversationUpdate{
		EmailFrom: &email,
	}, store.UpdateOptions{Type: model.EventTypeUpdate, Reason: &reason})
	if err != nil {
		return "", err
	}
	return "Your email has been set. You can now request human support if needed.", nil
}

func (b *Builder) requestHumanSupport(ctx context.Context, conversationID int64, mailbox *model.Mailbox, email *string, reason, newEmail string) (string, error) {
	if newEmail != "" {
		escalationReason := "Email set for escalation"
		_, _, err := b.store.UpdateConversation(ctx, conversationID, model.ConversationUpdate{
			EmailFrom: &newEmail,
		}, store.UpdateOptions{Type: model.EventTypeUpdate, Reason: &escalationReason})
		if err != nil {
			return "", err
		}
		email = &newEmail
	}

	open := model.ConversationStatusOpen
	assignedToAI := false
	_, _, err := b.store.UpdateOriginalConversation(ctx, conversationID, model.ConversationUpdate{
		Status:       &open,
		AssignedToAI: &assignedToAI,
	}, store.UpdateOptions{Type: model.EventTypeRequestHumanSupport, Reason: &reason})
	if err != nil {
		return "", err
	}

	metrics.HumanHandoffsTotal.Inc()

	if email != nil && *email != "" {
		b.updateCustomerMetadata(ctx, mailbox, *email)
		if err := b.dispatcher.Dispatch(ctx, jobs.JobHumanSupportRequested, map[string]any{
			"conversationId": conversationID,
		}); err != nil {
			b.logger.Errorw("failed to dispatch human support job",
				"conversation_id", conversationID, "error", err)
		}
	}

	return "The conversation has been escalated to a human agent. You will be contacted soon by email.", nil
}

func (b *Builder) fetchUserInformation(ctx context.Context, mailbox *model.Mailbox, email string) string {
	info, err := b.metadata.Fetch(ctx, mailbox.MetadataEndpoint, email)
	if err != nil {
		b.logger.Warnw("metadata fetch failed", "email", email, "error", err)
		return "Error fetching metadata"
	}
	if info.Prompt == nil {
		return ""
	}
	return *info.Prompt
}

func (b *Builder) updateCustomerMetadata(ctx context.Context, mailbox *model.Mailbox, email string) {
	if mailbox.MetadataEndpoint == nil {
		return
	}
	info, err := b.metadata.Fetch(ctx, mailbox.MetadataEndpoint, email)
	if err != nil {
		b.logger.Warnw("metadata fetch for customer update failed", "email", email, "error", err)
		return
	}
	if len(info.Metadata) == 0 {
		return
	}
	if err := b.store.UpsertPlatformCustomer(ctx, email, info.Metadata); err != nil {
		b.logger.Errorw("failed to upsert platform customer", "email", email, "error", err)
	}
}

func mustObjectSchema(properties map[string]schemaProperty, required []string) json.RawMessage {
	raw, err := json.Marshal(schemaDocument{
		Type:       "object",
		Properties: properties,
		Required:   required,
	})
	if err != nil {
		panic(err)
	}
	return raw
}
