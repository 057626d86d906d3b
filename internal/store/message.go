package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

const messageColumns = `
	id, conversation_id, role, status, body, cleaned_up_text, email_from,
	response_to_id, metadata, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var metadata []byte
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Role, &m.Status, &m.Body,
		&m.CleanedUpText, &m.EmailFrom, &m.ResponseToID, &metadata,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to scan message")
	}
	if len(metadata) > 0 {
		m.Metadata = &model.MessageMetadata{}
		if err := json.Unmarshal(metadata, m.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal message metadata")
		}
	}
	return &m, nil
}

func marshalMetadata(m *model.MessageMetadata) (any, error) {
	if m == nil {
		return nil, nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message metadata")
	}
	return payload, nil
}

// CreateMessage inserts a message and returns it with its assigned id
// and creation time.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error) {
	return createMessage(ctx, s.db, m)
}

func createMessage(ctx context.Context, q querier, m *model.Message) (*model.Message, error) {
	metadata, err := marshalMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO conversation_messages (
			conversation_id, role, status, body, cleaned_up_text,
			email_from, response_to_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+messageColumns,
		m.ConversationID, m.Role, m.Status, m.Body, m.CleanedUpText,
		m.EmailFrom, m.ResponseToID, metadata,
	)
	created, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(created.Role), string(created.Status)).Inc()
	return created, nil
}

// ConversationMessages returns every message of a conversation in
// chronological order, including drafts and tool events.
func (s *Store) ConversationMessages(ctx context.Context, conversationID int64) ([]*model.Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
}

// GetMessagesOnly returns the delivered user/staff/assistant turns of a
// conversation, excluding drafts, discarded messages, and tool events.
// This is the history fed back into the model.
func (s *Store) GetMessagesOnly(ctx context.Context, conversationID int64) ([]*model.Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM conversation_messages
		WHERE conversation_id = $1
		  AND role <> 'tool'
		  AND status NOT IN ('draft', 'discarded', 'failed')
		ORDER BY created_at ASC, id ASC`, conversationID)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query messages")
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, errors.Wrap(rows.Err(), "failed to iterate messages")
}

// LastUserMessage returns the newest user message of a conversation.
func (s *Store) LastUserMessage(ctx context.Context, conversationID int64) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM conversation_messages
		WHERE conversation_id = $1 AND role = 'user'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID)
	return scanMessage(row)
}

// LastAIDraft returns the live AI draft of a conversation, if any.
func (s *Store) LastAIDraft(ctx context.Context, conversationID int64) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM conversation_messages
		WHERE conversation_id = $1 AND role = 'ai_assistant' AND status = 'draft'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID)
	return scanMessage(row)
}

// DiscardAIDrafts marks every live AI draft of a conversation as
// discarded and returns how many were affected.
func (s *Store) DiscardAIDrafts(ctx context.Context, conversationID int64) (int64, error) {
	return discardAIDrafts(ctx, s.db, conversationID)
}

func discardAIDrafts(ctx context.Context, q querier, conversationID int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE conversation_messages
		SET status = 'discarded'
		WHERE conversation_id = $1 AND role = 'ai_assistant' AND status = 'draft'`,
		conversationID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to discard drafts")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "failed to count discarded drafts")
}

// ReplaceAIDraft discards any live AI drafts and inserts the new draft
// in a single transaction, so a conversation never exposes more than
// one live draft.
func (s *Store) ReplaceAIDraft(ctx context.Context, draft *model.Message) (*model.Message, error) {
	var created *model.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := discardAIDrafts(ctx, tx, draft.ConversationID); err != nil {
			return err
		}
		draft.Role = model.RoleAIAssistant
		draft.Status = model.StatusDraft
		m, err := createMessage(ctx, tx, draft)
		if err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateToolEvent persists a tool invocation audit message carrying the
// tool snapshot, the parameters used, and the outcome.
func (s *Store) CreateToolEvent(ctx context.Context, conversationID int64, tool *model.Tool, parameters map[string]any, result any, success bool) (*model.Message, error) {
	body := "tool call: " + tool.Name
	return s.CreateMessage(ctx, &model.Message{
		ConversationID: conversationID,
		Role:           model.RoleTool,
		Status:         model.StatusSent,
		Body:           body,
		CleanedUpText:  body,
		Metadata: &model.MessageMetadata{
			Tool:       tool.Snapshot(),
			Result:     result,
			Success:    &success,
			Parameters: parameters,
		},
	})
}

// CountUserMessages returns the number of user messages in a
// conversation.
func (s *Store) CountUserMessages(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_messages
		WHERE conversation_id = $1 AND role = 'user'`, conversationID).Scan(&n)
	return n, errors.Wrap(err, "failed to count user messages")
}

// CreateAttachment stores an attachment record for a message.
func (s *Store) CreateAttachment(ctx context.Context, messageID int64, a *model.Attachment) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message_attachments (message_id, name, content_type, data, is_inline)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		messageID, a.Name, a.ContentType, a.Data, a.IsInline).Scan(&id)
	return id, errors.Wrap(err, "failed to insert attachment")
}
