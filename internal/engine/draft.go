package engine

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// GenerateDraft produces a suggested reply for staff review. The
// response is generated without reasoning or streaming, converted to
// HTML, and replaces any previous live draft atomically.
func (e *Engine) GenerateDraft(ctx context.Context, conversation *model.Conversation, mailbox *model.Mailbox) (*model.Message, error) {
	lastUserMessage, err := e.store.LastUserMessage(ctx, conversation.ID)
	if err != nil {
		return nil, errors.Wrap(err, "no user message to draft a reply for")
	}

	messages, err := e.store.GetMessagesOnly(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	result, err := e.GenerateResponse(ctx, conversation, mailbox, lastUserMessage.EmailFrom, messages, DiscardWriter(), GenerateOptions{
		AddReasoning: false,
		GuideEnabled: false,
	})
	if err != nil {
		return nil, err
	}

	html, err := markdownToHTML(result.Text)
	if err != nil {
		return nil, err
	}

	return e.store.ReplaceAIDraft(ctx, &model.Message{
		ConversationID: conversation.ID,
		Body:           html,
		CleanedUpText:  result.Text,
		ResponseToID:   &lastUserMessage.ID,
		Metadata:       &model.MessageMetadata{TraceID: &result.TraceID},
	})
}

func markdownToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", errors.Wrap(err, "failed to render draft HTML")
	}
	return buf.String(), nil
}
