package engine

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/helpdeskhq/response-engine/internal/jobs"
	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/internal/tools"
)

const (
	// handoffText is the canned acknowledgment sent when the thread is
	// owned by humans and this is the user's first touch.
	handoffText = "Our support team will respond to your message shortly. Thank you for your patience."

	// escalationText replaces the model's own words whenever it called
	// request_human_support during the turn.
	escalationText = "_Escalated to a human! You will be contacted soon here and by email._"

	sensitiveToolMarker = "fetch_user_information"
	humanSupportTool    = "request_human_support"
)

var citationRe = regexp.MustCompile(`\[\((\d+)\)\]\((https?://[^\s)]+)\)`)

// OnResponseEvent describes a finished (or handed-off) response for
// post-processing hooks such as notification fan-out.
type OnResponseEvent struct {
	Messages              []*model.Message
	PlatformCustomer      *model.PlatformCustomer
	IsPromptConversation  bool
	IsFirstMessage        bool
	HumanSupportRequested bool
}

// RespondParams carries one user turn into the engine.
type RespondParams struct {
	Conversation *model.Conversation
	Mailbox      *model.Mailbox
	UserEmail    *string

	// Message is the already-persisted user message being answered.
	Message *model.Message

	// SendEmail queues the assistant message for email delivery
	// instead of marking it sent immediately.
	SendEmail bool

	GuideEnabled     bool
	ReasoningEnabled bool

	// ReadPageTool and ClientTools are client-side tools supplied on
	// the chat request.
	ReadPageTool *tools.ClientTool
	ClientTools  []tools.ClientTool

	// IsStaff attaches the prompt audit annotation to the stream.
	IsStaff bool

	OnResponse func(event OnResponseEvent)
}

// Respond drives the conversation state machine for one user turn:
// human-handoff short-circuit, cached replay for first prompt
// messages, or full generation with persistence and citation
// post-processing.
func (e *Engine) Respond(ctx context.Context, w DataWriter, p RespondParams) error {
	conversation := p.Conversation
	mailbox := p.Mailbox

	messages, err := e.store.GetMessagesOnly(ctx, conversation.ID)
	if err != nil {
		return err
	}

	var platformCustomer *model.PlatformCustomer
	if p.UserEmail != nil && *p.UserEmail != "" {
		platformCustomer, err = e.store.GetPlatformCustomer(ctx, *p.UserEmail)
		if err != nil {
			e.logger.Warnw("platform customer lookup failed", "error", err)
		}
	}

	isPromptConversation := conversation.IsPrompt
	isFirstMessage := len(messages) == 1

	notify := func(humanSupportRequested bool) {
		if p.OnResponse == nil {
			return
		}
		p.OnResponse(OnResponseEvent{
			Messages:              messages,
			PlatformCustomer:      platformCustomer,
			IsPromptConversation:  isPromptConversation,
			IsFirstMessage:        isFirstMessage,
			HumanSupportRequested: humanSupportRequested,
		})
	}

	handleAssistantMessage := func(text string, humanSupport bool, traceID, reasoning string) (*model.Message, error) {
		if !humanSupport {
			assignedToAI := true
			_, _, err := e.store.UpdateOriginalConversation(ctx, conversation.ID, model.ConversationUpdate{
				AssignedToAI: &assignedToAI,
			}, store.UpdateOptions{Type: model.EventTypeUpdate})
			if err != nil {
				return nil, err
			}
		}

		status := model.StatusSent
		if p.SendEmail {
			status = model.StatusQueueing
		}
		metadata := &model.MessageMetadata{HumanHandoff: humanSupport}
		if traceID != "" {
			metadata.TraceID = &traceID
		}
		if reasoning != "" {
			metadata.Reasoning = &reasoning
		}

		assistantMessage, err := e.store.CreateMessage(ctx, &model.Message{
			ConversationID: conversation.ID,
			Role:           model.RoleAIAssistant,
			Status:         status,
			Body:           text,
			CleanedUpText:  text,
			ResponseToID:   &p.Message.ID,
			Metadata:       metadata,
		})
		if err != nil {
			return nil, err
		}
		notify(humanSupport)
		return assistantMessage, nil
	}

	// A thread owned by humans stays with humans, except for the very
	// first touch of a prompt conversation.
	if !conversation.AssignedToAI && (!isPromptConversation || !isFirstMessage) {
		open := model.ConversationStatusOpen
		if _, _, err := e.store.UpdateOriginalConversation(ctx, conversation.ID, model.ConversationUpdate{
			Status: &open,
		}, store.UpdateOptions{Type: model.EventTypeUpdate}); err != nil {
			return err
		}

		userMessages := 0
		for _, m := range messages {
			if m.Role == model.RoleUser {
				userMessages++
			}
		}

		if len(messages) == 1 || (isPromptConversation && userMessages == 2) {
			assistantMessage, err := handleAssistantMessage(handoffText, true, "", "")
			if err != nil {
				return err
			}
			_ = w.WriteText(handoffText)
			_ = w.WriteMessageAnnotation(map[string]any{"id": strconv.FormatInt(assistantMessage.ID, 10)})
			return nil
		}

		notify(true)
		_ = w.WriteMessageAnnotation(map[string]any{
			"id": strconv.FormatInt(time.Now().UnixMilli(), 10),
		})
		return nil
	}

	cacheKey := e.cache.Key(mailbox.ID, p.Message.Body)
	if isFirstMessage && isPromptConversation {
		if cached, found := e.cache.Get(ctx, cacheKey); found {
			assistantMessage, err := handleAssistantMessage(cached, false, "", "")
			if err != nil {
				return err
			}
			_ = w.WriteText(cached)
			_ = w.WriteMessageAnnotation(map[string]any{"id": strconv.FormatInt(assistantMessage.ID, 10)})
			return nil
		}
	}

	// After this point a client disconnect must not abort the finish
	// work, so writes become best-effort.
	rw := newResilientWriter(w, e.logger)

	result, err := e.GenerateResponse(ctx, conversation, mailbox, p.UserEmail, messages, rw, GenerateOptions{
		AddReasoning: p.ReasoningEnabled && e.opts.ReasoningEnabled,
		GuideEnabled: p.GuideEnabled,
		ReadPageTool: p.ReadPageTool,
		ClientTools:  p.ClientTools,
	})
	if err != nil {
		return err
	}

	hasSensitiveToolCall := false
	hasHumanSupportCall := false
	for _, name := range result.ToolsCalled {
		if strings.Contains(name, sensitiveToolMarker) {
			hasSensitiveToolCall = true
		}
		if name == humanSupportTool {
			hasHumanSupportCall = true
		}
	}

	// Truncated or failed generations are never persisted.
	if result.FinishReason != llm.FinishStop && result.FinishReason != llm.FinishToolCalls {
		return nil
	}

	responseText := result.Text
	if hasHumanSupportCall {
		responseText = escalationText
	}

	assistantMessage, err := handleAssistantMessage(responseText, hasHumanSupportCall, result.TraceID, result.Reasoning)
	if err != nil {
		return err
	}

	if err := e.dispatcher.DispatchAfter(ctx, jobs.JobCheckResolution, map[string]any{
		"conversationId": conversation.ID,
		"messageId":      assistantMessage.ID,
	}, e.opts.CheckResolutionDelay); err != nil {
		e.logger.Errorw("failed to schedule resolution check",
			"conversation_id", conversation.ID, "error", err)
	}

	for _, source := range extractCitations(result.Text, result.Sources) {
		_ = rw.WriteSource(source)
	}

	if p.IsStaff {
		_ = rw.WriteMessageAnnotation(map[string]any{"promptInfo": result.PromptInfo})
	}
	_ = rw.WriteMessageAnnotation(map[string]any{
		"id":      strconv.FormatInt(assistantMessage.ID, 10),
		"traceId": result.TraceID,
	})

	if result.FinishReason == llm.FinishStop && isFirstMessage && !hasSensitiveToolCall && !hasHumanSupportCall {
		e.cache.Set(ctx, cacheKey, responseText)
	}

	return nil
}

// extractCitations parses [(n)](url) links out of the response text,
// resolves titles against the retrieved pages, dedupes by citation id
// (last occurrence wins), and orders them numerically.
func extractCitations(text string, pages []model.WebsitePage) []Source {
	byID := map[string]Source{}
	for _, match := range citationRe.FindAllStringSubmatch(text, -1) {
		id, url := match[1], match[2]
		title := url
		for _, page := range pages {
			if page.URL == url {
				title = page.PageTitle
				break
			}
		}
		byID[id] = Source{SourceType: "url", ID: id, URL: url, Title: title}
	}

	sources := make([]Source, 0, len(byID))
	for _, source := range byID {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool {
		a, _ := strconv.Atoi(sources[i].ID)
		b, _ := strconv.Atoi(sources[j].ID)
		return a < b
	})
	return sources
}
