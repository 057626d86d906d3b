package model

import (
	"time"
)

// ConversationEventType represents the type of a conversation event.
type ConversationEventType string

const (
	EventTypeUpdate                ConversationEventType = "update"
	EventTypeRequestHumanSupport   ConversationEventType = "request_human_support"
	EventTypeResolvedByAI          ConversationEventType = "resolved_by_ai"
	EventTypeHumanSupportRequested ConversationEventType = "human_support_requested"
)

// ConversationEvent is an audit record of a conversation state change.
// Changes holds only the audited fields that actually changed.
type ConversationEvent struct {
	ID             int64                 `json:"id"`
	ConversationID int64                 `json:"conversation_id"`
	Type           ConversationEventType `json:"type"`
	Changes        []FieldChange         `json:"changes,omitempty"`
	ByUserID       *string               `json:"by_user_id,omitempty"`
	Reason         *string               `json:"reason,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// KnowledgeBankEntry is an enabled knowledge-bank snippet included in
// every prompt.
type KnowledgeBankEntry struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// WebsitePage is a crawled page with its embedding similarity to the
// current query.
type WebsitePage struct {
	URL        string  `json:"url"`
	PageTitle  string  `json:"page_title"`
	Markdown   string  `json:"markdown"`
	Similarity float64 `json:"similarity"`
}
