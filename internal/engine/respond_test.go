package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/response-engine/internal/jobs"
	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/internal/tools"
)

func respondParams(env *testEnv, message *model.Message) RespondParams {
	return RespondParams{
		Conversation: env.store.conversation,
		Mailbox:      testMailbox(),
		Message:      message,
	}
}

func TestRespondGeneratesPersistsAndCaches(t *testing.T) {
	conversation := &model.Conversation{ID: 10, Slug: "conv-10", MailboxID: 1, AssignedToAI: true}
	message := userMessage(1, 10, "Where is my order?")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{script: []scriptedResponse{
		{resp: &llm.CompletionResponse{
			Content:      "It ships tomorrow.",
			FinishReason: llm.FinishStop,
			Usage:        llm.Usage{InputTokens: 100, OutputTokens: 20},
		}},
	}}
	env := newTestEnv(st, completion, nil)

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, respondParams(env, message))
	require.NoError(t, err)

	assert.Equal(t, "It ships tomorrow.", w.text)

	created := st.assistantMessages()
	require.Len(t, created, 1)
	assert.Equal(t, model.StatusSent, created[0].Status)
	assert.Equal(t, "It ships tomorrow.", created[0].Body)
	require.NotNil(t, created[0].ResponseToID)
	assert.Equal(t, message.ID, *created[0].ResponseToID)
	require.NotNil(t, created[0].Metadata)
	assert.False(t, created[0].Metadata.HumanHandoff)
	assert.NotNil(t, created[0].Metadata.TraceID)

	// First-message responses are cached for replay.
	key := env.engine.cache.Key(1, message.Body)
	cached, found := env.engine.cache.Get(context.Background(), key)
	require.True(t, found)
	assert.Equal(t, "It ships tomorrow.", cached)

	// A resolution check is scheduled after the configured delay.
	checks := env.dispatcher.byName(jobs.JobCheckResolution)
	require.Len(t, checks, 1)
	assert.Equal(t, env.engine.opts.CheckResolutionDelay, checks[0].delay)
	assert.Equal(t, created[0].ID, checks[0].data["messageId"])

	// Token usage was tracked for the completion call.
	require.Len(t, st.usageEvents, 1)
	assert.Equal(t, llm.CompletionModel, st.usageEvents[0].ModelName)
	assert.Equal(t, 100, st.usageEvents[0].InputTokensCount)
}

func TestRespondCachedReplaySkipsModel(t *testing.T) {
	conversation := &model.Conversation{ID: 11, Slug: "conv-11", MailboxID: 1, AssignedToAI: true, IsPrompt: true}
	message := userMessage(1, 11, "What plans do you offer?")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{}
	env := newTestEnv(st, completion, nil)

	key := env.engine.cache.Key(1, message.Body)
	env.engine.cache.Set(context.Background(), key, "We offer three plans.")

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, respondParams(env, message))
	require.NoError(t, err)

	assert.Zero(t, completion.calls)
	assert.Equal(t, "We offer three plans.", w.text)

	created := st.assistantMessages()
	require.Len(t, created, 1)
	assert.Equal(t, "We offer three plans.", created[0].Body)
	require.Len(t, w.annotations, 1)
}

func TestRespondHumanOwnedFirstTouchGetsCannedReply(t *testing.T) {
	conversation := &model.Conversation{ID: 12, Slug: "conv-12", MailboxID: 1, AssignedToAI: false}
	message := userMessage(1, 12, "I need help")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{}
	env := newTestEnv(st, completion, nil)

	var notified *OnResponseEvent
	params := respondParams(env, message)
	params.OnResponse = func(event OnResponseEvent) { notified = &event }

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, params)
	require.NoError(t, err)

	assert.Zero(t, completion.calls)
	assert.Equal(t, handoffText, w.text)

	created := st.assistantMessages()
	require.Len(t, created, 1)
	assert.Equal(t, handoffText, created[0].Body)
	assert.True(t, created[0].Metadata.HumanHandoff)

	require.NotNil(t, notified)
	assert.True(t, notified.HumanSupportRequested)

	// The thread is re-opened for the human team.
	assert.Equal(t, model.ConversationStatusOpen, conversation.Status)
	assert.False(t, conversation.AssignedToAI)
}

func TestRespondHumanOwnedLaterTouchIsSilent(t *testing.T) {
	conversation := &model.Conversation{ID: 13, Slug: "conv-13", MailboxID: 1, AssignedToAI: false}
	messages := []*model.Message{
		userMessage(1, 13, "first question"),
		{ID: 2, ConversationID: 13, Role: model.RoleAIAssistant, Status: model.StatusSent, Body: "answer"},
		userMessage(3, 13, "still waiting"),
	}
	st := newFakeStore(conversation, messages...)

	completion := &fakeClient{}
	env := newTestEnv(st, completion, nil)

	var notified *OnResponseEvent
	params := respondParams(env, messages[2])
	params.OnResponse = func(event OnResponseEvent) { notified = &event }

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, params)
	require.NoError(t, err)

	assert.Zero(t, completion.calls)
	assert.Empty(t, w.text)
	assert.Empty(t, st.assistantMessages())

	// The hook still fires so notifications go out, and the stream is
	// closed with a synthetic annotation id.
	require.NotNil(t, notified)
	assert.True(t, notified.HumanSupportRequested)
	require.Len(t, w.annotations, 1)
}

func TestRespondEscalationOverridesResponseText(t *testing.T) {
	conversation := &model.Conversation{ID: 14, Slug: "conv-14", MailboxID: 1, AssignedToAI: true}
	message := userMessage(1, 14, "Let me talk to a human!")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{script: []scriptedResponse{
		{resp: &llm.CompletionResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      "request_human_support",
				Arguments: `{"reason":"Customer explicitly asked for a human about a billing dispute"}`,
			}},
		}},
		{resp: &llm.CompletionResponse{
			Content:      "A human will pick this up.",
			FinishReason: llm.FinishStop,
		}},
	}}
	env := newTestEnv(st, completion, nil)

	email := "user@example.com"
	params := respondParams(env, message)
	params.UserEmail = &email

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, params)
	require.NoError(t, err)

	// The model's own words are replaced by the canned escalation text.
	created := st.assistantMessages()
	require.Len(t, created, 1)
	assert.Equal(t, escalationText, created[0].Body)
	assert.True(t, created[0].Metadata.HumanHandoff)

	// The tool flipped the conversation back to humans; the escalation
	// persistence path must not hand it back to the AI.
	assert.False(t, conversation.AssignedToAI)
	assert.Equal(t, model.ConversationStatusOpen, conversation.Status)

	// The tool result was fed back to the model on the next step.
	require.Len(t, completion.requests, 2)
	last := completion.requests[1].Messages
	toolMsg := last[len(last)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "escalated to a human agent")

	// Escalated responses are never cached.
	assert.Empty(t, env.kv.setKeys)

	// The runner is told about the escalation.
	require.Len(t, env.dispatcher.byName(jobs.JobHumanSupportRequested), 1)
}

func TestRespondTruncatedGenerationIsNotPersisted(t *testing.T) {
	conversation := &model.Conversation{ID: 15, Slug: "conv-15", MailboxID: 1, AssignedToAI: true}
	message := userMessage(1, 15, "tell me everything")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{script: []scriptedResponse{
		{resp: &llm.CompletionResponse{
			Content:      "this answer was cut of",
			FinishReason: llm.FinishLength,
		}},
	}}
	env := newTestEnv(st, completion, nil)

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, respondParams(env, message))
	require.NoError(t, err)

	assert.Empty(t, st.assistantMessages())
	assert.Empty(t, env.kv.setKeys)
	assert.Empty(t, env.dispatcher.byName(jobs.JobCheckResolution))
}

func TestRespondSensitiveToolCallSkipsCache(t *testing.T) {
	conversation := &model.Conversation{ID: 16, Slug: "conv-16", MailboxID: 1, AssignedToAI: true}
	message := userMessage(1, 16, "what do you know about me?")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{script: []scriptedResponse{
		{resp: &llm.CompletionResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      "fetch_user_information",
				Arguments: `{"reason":"personalize the answer"}`,
			}},
		}},
		{resp: &llm.CompletionResponse{
			Content:      "Here is what I found.",
			FinishReason: llm.FinishStop,
		}},
	}}
	env := newTestEnv(st, completion, nil)

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, respondParams(env, message))
	require.NoError(t, err)

	// The response is persisted, but user-specific answers never enter
	// the shared cache.
	require.Len(t, st.assistantMessages(), 1)
	assert.Empty(t, env.kv.setKeys)
}

func TestRespondClientSideToolEndsTurn(t *testing.T) {
	conversation := &model.Conversation{ID: 17, Slug: "conv-17", MailboxID: 1, AssignedToAI: true}
	message := userMessage(1, 17, "how do I enable weekly emails?")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{script: []scriptedResponse{
		{resp: &llm.CompletionResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      "guide_user",
				Arguments: `{"title":"Enable weekly emails","instructions":"Open settings and pick weekly"}`,
			}},
		}},
	}}
	env := newTestEnv(st, completion, nil)

	params := respondParams(env, message)
	params.GuideEnabled = true

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, params)
	require.NoError(t, err)

	// The guide call is forwarded to the client and the turn ends there:
	// no further model steps.
	assert.Equal(t, 1, completion.calls)
	toolCalls := w.eventsNamed("toolCall")
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "guide_user", toolCalls[0].data["name"])
	params2 := toolCalls[0].data["parameters"].(map[string]any)
	assert.Equal(t, "Enable weekly emails", params2["title"])
}

func TestRespondClientProvidedToolsForwardedToClient(t *testing.T) {
	conversation := &model.Conversation{ID: 19, Slug: "conv-19", MailboxID: 1, AssignedToAI: true}
	message := userMessage(1, 19, "what does this page say?")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{script: []scriptedResponse{
		{resp: &llm.CompletionResponse{
			FinishReason: llm.FinishToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "call-1", Name: "read_page", Arguments: "{}"}},
		}},
	}}
	env := newTestEnv(st, completion, nil)

	params := respondParams(env, message)
	params.ReadPageTool = &tools.ClientTool{
		Name:        "read_page",
		Description: "Read the current page the user is looking at",
	}
	params.ClientTools = []tools.ClientTool{{
		Name:        "open_billing_settings",
		Description: "Open the billing settings screen",
		Parameters: map[string]tools.ClientToolParameter{
			"section": {Type: "string"},
		},
	}}

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, params)
	require.NoError(t, err)

	// Both client tools were offered to the model.
	require.NotEmpty(t, completion.requests)
	var offered []string
	for _, def := range completion.requests[0].Tools {
		offered = append(offered, def.Name)
	}
	assert.Contains(t, offered, "read_page")
	assert.Contains(t, offered, "open_billing_settings")

	// The read_page call is forwarded to the client and ends the turn.
	assert.Equal(t, 1, completion.calls)
	toolCalls := w.eventsNamed("toolCall")
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "read_page", toolCalls[0].data["name"])
}

func TestRespondStaffAnnotationCarriesPromptInfo(t *testing.T) {
	conversation := &model.Conversation{ID: 18, Slug: "conv-18", MailboxID: 1, AssignedToAI: true}
	message := userMessage(1, 18, "hello")
	st := newFakeStore(conversation, message)

	completion := &fakeClient{script: []scriptedResponse{
		{resp: &llm.CompletionResponse{Content: "Hi!", FinishReason: llm.FinishStop}},
	}}
	env := newTestEnv(st, completion, nil)

	params := respondParams(env, message)
	params.IsStaff = true

	w := &memWriter{}
	err := env.engine.Respond(context.Background(), w, params)
	require.NoError(t, err)

	var found bool
	for _, annotation := range w.annotations {
		if _, ok := annotation["promptInfo"]; ok {
			found = true
		}
	}
	assert.True(t, found, "staff responses carry the prompt audit annotation")
}

func TestUpdateConversationAssignToAISchedulesAutoResponse(t *testing.T) {
	conversation := &model.Conversation{ID: 19, Slug: "conv-19", MailboxID: 1, AssignedToAI: false, Status: model.ConversationStatusOpen}
	message := userMessage(1, 19, "unanswered question")
	st := newFakeStore(conversation, message)

	env := newTestEnv(st, &fakeClient{}, nil)

	assigned := true
	_, changes, err := env.engine.UpdateConversation(context.Background(), 19, model.ConversationUpdate{
		AssignedToAI: &assigned,
	}, store.UpdateOptions{Type: model.EventTypeUpdate})
	require.NoError(t, err)
	require.NotEmpty(t, changes)

	autoJobs := env.dispatcher.byName(jobs.JobAutoResponseCreate)
	require.Len(t, autoJobs, 1)
	assert.Equal(t, int64(19), autoJobs[0].data["conversationId"])
	assert.Equal(t, message.ID, autoJobs[0].data["messageId"])
}

func TestUpdateConversationNoUserMessageNoJob(t *testing.T) {
	conversation := &model.Conversation{ID: 20, Slug: "conv-20", MailboxID: 1, AssignedToAI: false, Status: model.ConversationStatusOpen}
	st := newFakeStore(conversation)

	env := newTestEnv(st, &fakeClient{}, nil)

	assigned := true
	_, _, err := env.engine.UpdateConversation(context.Background(), 20, model.ConversationUpdate{
		AssignedToAI: &assigned,
	}, store.UpdateOptions{Type: model.EventTypeUpdate})
	require.NoError(t, err)

	assert.Empty(t, env.dispatcher.byName(jobs.JobAutoResponseCreate))
}

func TestExtractCitations(t *testing.T) {
	pages := []model.WebsitePage{
		{URL: "https://example.com/pricing", PageTitle: "Pricing"},
	}
	text := "See [(2)](https://example.com/faq) and [(1)](https://example.com/pricing). " +
		"Also [(2)](https://example.com/faq-v2)."

	sources := extractCitations(text, pages)

	// Deduped by id with the last occurrence winning, ordered
	// numerically.
	require.Len(t, sources, 2)
	assert.Equal(t, "1", sources[0].ID)
	assert.Equal(t, "https://example.com/pricing", sources[0].URL)
	assert.Equal(t, "Pricing", sources[0].Title)
	assert.Equal(t, "2", sources[1].ID)
	assert.Equal(t, "https://example.com/faq-v2", sources[1].URL)
	// Unknown URLs fall back to the URL as title.
	assert.Equal(t, "https://example.com/faq-v2", sources[1].Title)
}

func TestExtractCitationsNoMatches(t *testing.T) {
	assert.Empty(t, extractCitations("plain text, no links", nil))
	assert.Empty(t, extractCitations("a normal [link](https://example.com)", nil))
}
