package model

import (
	"time"
)

// MessageRole represents the author of a conversation message.
type MessageRole string

const (
	RoleUser        MessageRole = "user"
	RoleStaff       MessageRole = "staff"
	RoleAIAssistant MessageRole = "ai_assistant"
	RoleTool        MessageRole = "tool"
)

// MessageStatus represents the delivery state of a message.
type MessageStatus string

const (
	StatusDraft     MessageStatus = "draft"
	StatusQueueing  MessageStatus = "queueing"
	StatusSent      MessageStatus = "sent"
	StatusDiscarded MessageStatus = "discarded"
	StatusFailed    MessageStatus = "failed"
)

// ToolSnapshot is a self-contained copy of the tool identity stored on
// a tool event, so the audit record survives later edits to the Tool.
type ToolSnapshot struct {
	ID            int64  `json:"id"`
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	RequestMethod string `json:"request_method"`
}

// MessageMetadata carries role-specific message details.
type MessageMetadata struct {
	// Tool invocation record (tool role).
	Tool       *ToolSnapshot  `json:"tool,omitempty"`
	Result     any            `json:"result,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Assistant details (ai_assistant role).
	TraceID      *string `json:"trace_id,omitempty"`
	Reasoning    *string `json:"reasoning,omitempty"`
	HumanHandoff bool    `json:"human_handoff,omitempty"`

	// User details.
	HasAttachments bool `json:"has_attachments,omitempty"`
}

// Message represents a single conversation turn.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	Role           MessageRole   `json:"role"`
	Status         MessageStatus `json:"status"`

	Body          string  `json:"body"`
	CleanedUpText string  `json:"cleaned_up_text"`
	EmailFrom     *string `json:"email_from,omitempty"`

	// ResponseToID references the message this one answers.
	ResponseToID *int64 `json:"response_to_id,omitempty"`

	Metadata *MessageMetadata `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsLiveDraft reports whether the message is an undiscarded AI draft.
func (m *Message) IsLiveDraft() bool {
	return m.Role == RoleAIAssistant && m.Status == StatusDraft
}

// IsStaleDraft reports whether this draft should no longer be offered
// to staff: it was discarded or sent, or it predates the mailbox's
// last prompt configuration change.
func (m *Message) IsStaleDraft(mailbox *Mailbox) bool {
	return m.Status != StatusDraft || m.CreatedAt.Before(mailbox.PromptUpdatedAt)
}

// Attachment is a file uploaded alongside a user message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	IsInline    bool   `json:"is_inline"`
}
