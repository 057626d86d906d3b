package handler

import (
	"net/http"

	"github.com/helpdeskhq/response-engine/internal/engine"
	"github.com/helpdeskhq/response-engine/internal/middleware"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// draftView is an AI draft decorated with whether it predates the
// mailbox's current prompt configuration.
type draftView struct {
	*model.Message
	IsStale bool `json:"isStale"`
}

// MessageHandler serves message history and draft generation.
type MessageHandler struct {
	store  *store.Store
	engine *engine.Engine
	logger *logger.Logger
}

// NewMessageHandler creates a message handler.
func NewMessageHandler(st *store.Store, eng *engine.Engine, log *logger.Logger) *MessageHandler {
	return &MessageHandler{store: st, engine: eng, logger: log}
}

// List handles GET /api/conversations/{slug}/messages.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	conversationHandler := ConversationHandler{store: h.store, logger: h.logger}
	conversation, ok := conversationHandler.loadConversation(w, r)
	if !ok {
		return
	}

	var err error
	messages := []any{}
	if session.IsStaff {
		mailbox, mbErr := h.store.GetMailboxBySlug(ctx, session.MailboxSlug)
		if mbErr != nil {
			writeError(w, http.StatusNotFound, "mailbox not found")
			return
		}
		// Staff see everything, including drafts and tool events. Drafts
		// carry a staleness flag so the UI can prompt a regeneration.
		all, listErr := h.store.ConversationMessages(ctx, conversation.ID)
		err = listErr
		for _, m := range all {
			if m.IsLiveDraft() {
				messages = append(messages, draftView{Message: m, IsStale: m.IsStaleDraft(mailbox)})
				continue
			}
			messages = append(messages, m)
		}
	} else {
		visible, listErr := h.store.GetMessagesOnly(ctx, conversation.ID)
		err = listErr
		for _, m := range visible {
			messages = append(messages, m)
		}
	}
	if err != nil {
		h.logger.Errorw("failed to list messages", "conversation_id", conversation.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// GenerateDraft handles POST /api/conversations/{slug}/draft. Staff
// only: generates a suggested reply, replacing any previous live
// draft.
func (h *MessageHandler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	conversationHandler := ConversationHandler{store: h.store, logger: h.logger}
	conversation, ok := conversationHandler.loadConversation(w, r)
	if !ok {
		return
	}

	mailbox, err := h.store.GetMailboxBySlug(ctx, session.MailboxSlug)
	if err != nil {
		writeError(w, http.StatusNotFound, "mailbox not found")
		return
	}

	draft, err := h.engine.GenerateDraft(ctx, conversation, mailbox)
	if err != nil {
		h.logger.Errorw("draft generation failed",
			"conversation_id", conversation.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate draft")
		return
	}

	writeJSON(w, http.StatusCreated, draft)
}
