// Package model defines data structures for the response engine.
package model

import (
	"time"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
	ConversationStatusSpam   ConversationStatus = "spam"
)

// Conversation represents a support conversation thread.
type Conversation struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	MailboxID int64  `json:"mailbox_id"`
	Subject   string `json:"subject"`

	Status       ConversationStatus `json:"status"`
	AssignedToID *string            `json:"assigned_to_id,omitempty"`
	AssignedToAI bool               `json:"assigned_to_ai"`

	// IsPrompt marks a canned first-touch conversation eligible for
	// response caching.
	IsPrompt  bool `json:"is_prompt"`
	IsVisitor bool `json:"is_visitor"`

	// MergedIntoID points at the conversation this one was merged into.
	// A merged conversation is never shown as current; writes redirect
	// to the root of the merge chain.
	MergedIntoID *int64 `json:"merged_into_id,omitempty"`

	EmailFrom     *string `json:"email_from,omitempty"`
	EmbeddingText *string `json:"embedding_text,omitempty"`
	Summary       *string `json:"summary,omitempty"`

	LastUserMessageAt *time.Time `json:"last_user_message_at,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SimilarConversation is a conversation returned from a vector
// similarity search, annotated with its similarity score.
type SimilarConversation struct {
	Conversation
	Similarity float64 `json:"similarity"`
}

// ConversationUpdate describes a partial update to a conversation. Nil
// fields are left untouched.
type ConversationUpdate struct {
	Status            *ConversationStatus
	AssignedToID      *string
	AssignedToAI      *bool
	EmailFrom         *string
	Summary           *string
	LastUserMessageAt *time.Time
}

// FieldChange records a single audited field transition.
type FieldChange struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// ApplyUpdate applies an update to a conversation, enforcing the
// ownership escalation rules, and reports which of the audited fields
// (status, assignedToId, assignedToAI) actually changed.
//
// Assigning the conversation to the AI closes it and clears any human
// assignee; assigning a human clears the AI assignment. The first
// transition into closed stamps ClosedAt.
func ApplyUpdate(current Conversation, update ConversationUpdate, now time.Time) (Conversation, []FieldChange) {
	next := current

	if update.AssignedToAI != nil && *update.AssignedToAI {
		next.AssignedToAI = true
		next.Status = ConversationStatusClosed
		next.AssignedToID = nil
	} else {
		if update.AssignedToAI != nil {
			next.AssignedToAI = *update.AssignedToAI
		}
		if update.AssignedToID != nil {
			next.AssignedToID = update.AssignedToID
			next.AssignedToAI = false
		}
		if update.Status != nil {
			next.Status = *update.Status
		}
	}

	if update.EmailFrom != nil {
		next.EmailFrom = update.EmailFrom
	}
	if update.Summary != nil {
		next.Summary = update.Summary
	}
	if update.LastUserMessageAt != nil {
		next.LastUserMessageAt = update.LastUserMessageAt
	}

	if current.Status != ConversationStatusClosed && next.Status == ConversationStatusClosed {
		closedAt := now
		next.ClosedAt = &closedAt
	}
	next.UpdatedAt = now

	var changes []FieldChange
	if current.Status != next.Status {
		changes = append(changes, FieldChange{Field: "status", Value: string(next.Status)})
	}
	if !equalStringPtr(current.AssignedToID, next.AssignedToID) {
		changes = append(changes, FieldChange{Field: "assignedToId", Value: stringPtrValue(next.AssignedToID)})
	}
	if current.AssignedToAI != next.AssignedToAI {
		changes = append(changes, FieldChange{Field: "assignedToAI", Value: next.AssignedToAI})
	}

	return next, changes
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func stringPtrValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
