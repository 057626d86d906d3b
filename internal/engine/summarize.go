package engine

import (
	"context"

	"github.com/helpdeskhq/response-engine/internal/llm"
)

// Roughly four characters per token; the summarizer kicks in well
// before the context window does.
const summarizeCharLimit = 40_000

const summaryMaxTokens = 1_000

const summaryPrompt = `Summarize the following conversation text. Preserve every fact, identifier, and request the support agent needs to act on. Drop greetings, signatures, and repetition. Respond with the summary only.`

// SummarizeIfNeeded compresses text too long to send as model context.
// Short text is returned unchanged.
func (e *Engine) SummarizeIfNeeded(ctx context.Context, mailboxID int64, text string) (string, error) {
	if len(text) <= summarizeCharLimit {
		return text, nil
	}

	resp, err := e.summaryClient.Complete(ctx, &llm.CompletionRequest{
		Model: e.opts.SummaryModel,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: text},
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}

	e.tracker.Track(ctx, mailboxID, e.opts.SummaryModel, "conversation_summary", resp.Usage)
	return resp.Content, nil
}
