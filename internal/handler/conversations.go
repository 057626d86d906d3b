package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/engine"
	"github.com/helpdeskhq/response-engine/internal/middleware"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// ConversationHandler manages conversation lifecycle endpoints.
type ConversationHandler struct {
	store  *store.Store
	engine *engine.Engine
	logger *logger.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(st *store.Store, eng *engine.Engine, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{store: st, engine: eng, logger: log}
}

type createConversationRequest struct {
	Subject  string `json:"subject"`
	IsPrompt bool   `json:"isPrompt,omitempty"`
}

// Create handles POST /api/conversations.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mailbox, err := h.store.GetMailboxBySlug(ctx, session.MailboxSlug)
	if err != nil {
		writeError(w, http.StatusNotFound, "mailbox not found")
		return
	}

	conversation, err := h.store.CreateConversation(ctx, &model.Conversation{
		Slug:         uuid.NewString(),
		MailboxID:    mailbox.ID,
		Subject:      req.Subject,
		Status:       model.ConversationStatusOpen,
		AssignedToAI: true,
		IsPrompt:     req.IsPrompt,
		IsVisitor:    session.Email == "",
		EmailFrom:    session.EmailPtr(),
	})
	if err != nil {
		h.logger.Errorw("failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conversation)
}

// Get handles GET /api/conversations/{slug}.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversation, ok := h.loadConversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

type updateConversationRequest struct {
	Status       *string `json:"status,omitempty"`
	AssignedToID *string `json:"assignedToId,omitempty"`
	AssignedToAI *bool   `json:"assignedToAI,omitempty"`
	Reason       *string `json:"reason,omitempty"`
}

// Update handles PATCH /api/conversations/{slug}. Staff only.
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	conversation, ok := h.loadConversation(w, r)
	if !ok {
		return
	}

	var req updateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := model.ConversationUpdate{
		AssignedToID: req.AssignedToID,
		AssignedToAI: req.AssignedToAI,
	}
	if req.Status != nil {
		status := model.ConversationStatus(*req.Status)
		switch status {
		case model.ConversationStatusOpen, model.ConversationStatusClosed, model.ConversationStatusSpam:
			upd.Status = &status
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	byUserID := session.UserID
	updated, changes, err := h.engine.UpdateConversation(ctx, conversation.ID, upd, store.UpdateOptions{
		Type:     model.EventTypeUpdate,
		ByUserID: &byUserID,
		Reason:   req.Reason,
	})
	if err != nil {
		h.logger.Errorw("failed to update conversation",
			"conversation_id", conversation.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": updated,
		"changes":      changes,
	})
}

func (h *ConversationHandler) loadConversation(w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)
	slug := chi.URLParam(r, "slug")

	if err := middleware.ValidateSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	mailbox, err := h.store.GetMailboxBySlug(ctx, session.MailboxSlug)
	if err != nil {
		writeError(w, http.StatusNotFound, "mailbox not found")
		return nil, false
	}

	conversation, err := h.store.GetConversationBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
		} else {
			h.logger.Errorw("failed to load conversation", "slug", slug, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load conversation")
		}
		return nil, false
	}
	if conversation.MailboxID != mailbox.ID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}

	return conversation, true
}
