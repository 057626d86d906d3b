package model

import (
	"time"
)

// MetadataEndpoint is an optional customer-metadata API configured on a
// mailbox, used by the fetch_user_information tool.
type MetadataEndpoint struct {
	URL        string `json:"url"`
	HMACSecret string `json:"-"`
}

// Mailbox is the tenant container for conversations, tools, and the
// knowledge bank.
type Mailbox struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`

	// VIPThresholdCents is compared against a platform customer's value
	// to derive VIP status. Nil disables VIP derivation.
	VIPThresholdCents *int64 `json:"vip_threshold_cents,omitempty"`

	// PromptUpdatedAt invalidates AI drafts generated before the
	// mailbox's prompt configuration last changed.
	PromptUpdatedAt time.Time `json:"prompt_updated_at"`

	GuideEnabled     bool              `json:"guide_enabled"`
	MetadataEndpoint *MetadataEndpoint `json:"metadata_endpoint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
