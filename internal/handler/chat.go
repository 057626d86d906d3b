package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/helpdeskhq/response-engine/internal/engine"
	"github.com/helpdeskhq/response-engine/internal/jobs"
	"github.com/helpdeskhq/response-engine/internal/middleware"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/internal/tools"
	"github.com/helpdeskhq/response-engine/pkg/logger"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

// ChatHandler streams AI responses over SSE.
type ChatHandler struct {
	store      *store.Store
	engine     *engine.Engine
	dispatcher jobs.Dispatcher
	logger     *logger.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(st *store.Store, eng *engine.Engine, dispatcher jobs.Dispatcher, log *logger.Logger) *ChatHandler {
	return &ChatHandler{store: st, engine: eng, dispatcher: dispatcher, logger: log}
}

type chatAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type readPageToolConfig struct {
	ToolName        string `json:"toolName"`
	ToolDescription string `json:"toolDescription"`
}

type clientToolRequest struct {
	Description string                               `json:"description"`
	Parameters  map[string]tools.ClientToolParameter `json:"parameters,omitempty"`
}

type chatRequest struct {
	ConversationSlug string                       `json:"conversationSlug"`
	Content          string                       `json:"content"`
	Attachments      []chatAttachment             `json:"attachments,omitempty"`
	GuideEnabled     bool                         `json:"guideEnabled,omitempty"`
	ReadPageTool     *readPageToolConfig          `json:"readPageTool,omitempty"`
	Tools            map[string]clientToolRequest `json:"tools,omitempty"`
}

func (req *chatRequest) clientSideTools() (*tools.ClientTool, []tools.ClientTool) {
	var readPage *tools.ClientTool
	if req.ReadPageTool != nil && req.ReadPageTool.ToolName != "" {
		readPage = &tools.ClientTool{
			Name:        req.ReadPageTool.ToolName,
			Description: req.ReadPageTool.ToolDescription,
		}
	}

	var clientTools []tools.ClientTool
	for name, tool := range req.Tools {
		clientTools = append(clientTools, tools.ClientTool{
			Name:        name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return readPage, clientTools
}

// widget responses are consumed cross-origin from embedded widgets, so
// the stream carries its own permissive CORS headers.
func setWidgetHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

// Chat handles POST /api/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	if r.Method == http.MethodOptions {
		setWidgetHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mailbox, err := h.store.GetMailboxBySlug(ctx, session.MailboxSlug)
	if err != nil {
		writeError(w, http.StatusNotFound, "mailbox not found")
		return
	}
	conversation, err := h.store.GetConversationBySlug(ctx, req.ConversationSlug)
	if err != nil || conversation.MailboxID != mailbox.ID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	email := session.EmailPtr()
	userMessage, err := h.createUserMessage(r, conversation, email, &req)
	if err != nil {
		h.logger.Errorw("failed to create user message", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	setWidgetHeaders(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementStreamConnections()
	defer metrics.DecrementStreamConnections()

	writer := &sseWriter{w: w, flusher: flusher}

	readPageTool, clientTools := req.clientSideTools()
	err = h.engine.Respond(ctx, writer, engine.RespondParams{
		Conversation:     conversation,
		Mailbox:          mailbox,
		UserEmail:        email,
		Message:          userMessage,
		SendEmail:        false,
		GuideEnabled:     req.GuideEnabled && mailbox.GuideEnabled,
		ReasoningEnabled: true,
		ReadPageTool:     readPageTool,
		ClientTools:      clientTools,
		IsStaff:          session.IsStaff,
		OnResponse: func(event engine.OnResponseEvent) {
			h.notifyMessageCreated(conversation, mailbox, userMessage, event)
		},
	})
	if err != nil {
		h.logger.Errorw("response generation failed",
			"conversation_id", conversation.ID, "error", err)
		sendSSEEvent(w, flusher, "error", map[string]string{
			"message": "Error generating AI response",
		})
		return
	}

	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func (h *ChatHandler) createUserMessage(r *http.Request, conversation *model.Conversation, email *string, req *chatRequest) (*model.Message, error) {
	ctx := r.Context()

	message, err := h.store.CreateMessage(ctx, &model.Message{
		ConversationID: conversation.ID,
		Role:           model.RoleUser,
		Status:         model.StatusSent,
		Body:           req.Content,
		CleanedUpText:  req.Content,
		EmailFrom:      email,
		Metadata:       &model.MessageMetadata{HasAttachments: len(req.Attachments) > 0},
	})
	if err != nil {
		return nil, err
	}

	for _, attachment := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(attachment.Data)
		if err != nil {
			h.logger.Warnw("skipping undecodable attachment", "name", attachment.Name)
			continue
		}
		attachmentID, err := h.store.CreateAttachment(ctx, message.ID, &model.Attachment{
			Name:        attachment.Name,
			ContentType: attachment.ContentType,
			Data:        data,
		})
		if err != nil {
			h.logger.Errorw("failed to store attachment", "name", attachment.Name, "error", err)
			continue
		}
		if err := h.dispatcher.Dispatch(ctx, jobs.JobFilePreviewGenerate, map[string]any{
			"fileId": attachmentID,
		}); err != nil {
			h.logger.Errorw("failed to dispatch preview job", "file_id", attachmentID, "error", err)
		}
	}

	return message, nil
}

func (h *ChatHandler) notifyMessageCreated(conversation *model.Conversation, mailbox *model.Mailbox, userMessage *model.Message, event engine.OnResponseEvent) {
	// Fan-out must not inherit the request's cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	isVIP := event.PlatformCustomer.IsVIP(mailbox.VIPThresholdCents)
	if err := h.dispatcher.Dispatch(ctx, jobs.JobMessageCreated, map[string]any{
		"conversationId":        conversation.ID,
		"messageId":             userMessage.ID,
		"isVip":                 isVIP,
		"isFirstMessage":        event.IsFirstMessage,
		"humanSupportRequested": event.HumanSupportRequested,
	}); err != nil {
		h.logger.Errorw("failed to dispatch message created job",
			"conversation_id", conversation.ID, "error", err)
	}
}

// sseWriter adapts the SSE response to the engine's stream interface.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) WriteText(text string) error {
	return sendSSEEvent(s.w, s.flusher, "text", map[string]string{"text": text})
}

func (s *sseWriter) WriteData(event string, data map[string]any) error {
	return sendSSEEvent(s.w, s.flusher, "data", map[string]any{"event": event, "data": data})
}

func (s *sseWriter) WriteReasoning(token string) error {
	return sendSSEEvent(s.w, s.flusher, "reasoning", map[string]string{"reasoning": token})
}

func (s *sseWriter) WriteMessageAnnotation(annotation map[string]any) error {
	return sendSSEEvent(s.w, s.flusher, "message_annotation", annotation)
}

func (s *sseWriter) WriteSource(source engine.Source) error {
	return sendSSEEvent(s.w, s.flusher, "source", source)
}
