package prompt

import (
	"context"
	"time"

	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/retrieval"
)

// PageRef is a compact reference to a retrieved page, kept on the
// prompt audit record.
type PageRef struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// Info is the audit record of what went into a prompt. It is attached
// to staff-visible responses so agents can inspect what the model saw.
type Info struct {
	SystemPrompt   string    `json:"system_prompt"`
	KnowledgeBank  string    `json:"knowledge_bank,omitempty"`
	WebsitePages   []PageRef `json:"website_pages,omitempty"`
	UserPrompt     string    `json:"user_prompt"`
	AvailableTools []string  `json:"available_tools,omitempty"`
}

// Builder assembles the system prompt from retrieval data.
type Builder struct {
	aggregator *retrieval.Aggregator
}

// NewBuilder creates a prompt builder.
func NewBuilder(aggregator *retrieval.Aggregator) *Builder {
	return &Builder{aggregator: aggregator}
}

// Build fetches retrieval data and assembles the system message. The
// user identity line is always present, either the customer's email or
// the anonymous marker, so downstream tools can rely on it.
func (b *Builder) Build(ctx context.Context, mailbox *model.Mailbox, email *string, excludeSlug, query string, guideEnabled bool) ([]llm.ChatMessage, []model.WebsitePage, *Info, error) {
	data, err := b.aggregator.Fetch(ctx, mailbox.ID, excludeSlug, query)
	if err != nil {
		return nil, nil, nil, err
	}

	systemPrompt := ChatSystemPrompt(mailbox.Name, time.Now())
	if guideEnabled {
		systemPrompt += "\n" + GuideInstructions
	}

	full := systemPrompt
	knowledgeBank := KnowledgeBankPrompt(data.KnowledgeBank)
	if knowledgeBank != "" {
		full += "\n" + knowledgeBank
	}
	pagesPrompt := WebsitePagesPrompt(data.WebsitePages)
	if pagesPrompt != "" {
		full += "\n" + pagesPrompt
	}
	pastPrompt := PastConversationsPrompt(query, data.PastConversations)
	if pastPrompt != "" {
		full += "\n" + pastPrompt
	}

	userPrompt := "Anonymous user"
	if email != nil && *email != "" {
		userPrompt = "\nCurrent user email: " + *email
	}
	full += userPrompt

	pageRefs := make([]PageRef, len(data.WebsitePages))
	for i, page := range data.WebsitePages {
		pageRefs[i] = PageRef{URL: page.URL, Title: page.PageTitle, Similarity: page.Similarity}
	}

	info := &Info{
		SystemPrompt:  systemPrompt,
		KnowledgeBank: knowledgeBank,
		WebsitePages:  pageRefs,
		UserPrompt:    userPrompt,
	}

	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: full}}
	return messages, data.WebsitePages, info, nil
}
