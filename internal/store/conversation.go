package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrMergeChainTooDeep is returned when following merged_into_id links
// exceeds the depth guard, which indicates a cycle or corrupted data.
var ErrMergeChainTooDeep = errors.New("merge chain too deep")

const maxMergeDepth = 10

const conversationColumns = `
	id, slug, mailbox_id, subject, status, assigned_to_id, assigned_to_ai,
	is_prompt, is_visitor, merged_into_id, email_from, embedding_text,
	summary, last_user_message_at, closed_at, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(
		&c.ID, &c.Slug, &c.MailboxID, &c.Subject, &c.Status, &c.AssignedToID,
		&c.AssignedToAI, &c.IsPrompt, &c.IsVisitor, &c.MergedIntoID,
		&c.EmailFrom, &c.EmbeddingText, &c.Summary, &c.LastUserMessageAt,
		&c.ClosedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to scan conversation")
	}
	return &c, nil
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// GetConversationBySlug loads a conversation by its public slug.
func (s *Store) GetConversationBySlug(ctx context.Context, slug string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE slug = $1`, slug)
	return scanConversation(row)
}

// CreateConversation inserts a new conversation and returns it with its
// assigned id and timestamps.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (
			slug, mailbox_id, subject, status, assigned_to_ai, is_prompt,
			is_visitor, email_from
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+conversationColumns,
		c.Slug, c.MailboxID, c.Subject, c.Status, c.AssignedToAI,
		c.IsPrompt, c.IsVisitor, c.EmailFrom,
	)
	return scanConversation(row)
}

// ResolveOriginalID follows merged_into_id links to the root of the
// merge chain. Writes against a merged conversation must target the
// root so that merged threads stay read-only.
func (s *Store) ResolveOriginalID(ctx context.Context, id int64) (int64, error) {
	return resolveOriginalID(ctx, s.db, id)
}

func resolveOriginalID(ctx context.Context, q querier, id int64) (int64, error) {
	current := id
	for i := 0; i < maxMergeDepth; i++ {
		var mergedInto *int64
		err := q.QueryRowContext(ctx,
			`SELECT merged_into_id FROM conversations WHERE id = $1`, current,
		).Scan(&mergedInto)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, ErrNotFound
			}
			return 0, errors.Wrap(err, "failed to resolve merge chain")
		}
		if mergedInto == nil {
			return current, nil
		}
		current = *mergedInto
	}
	return 0, ErrMergeChainTooDeep
}

// UpdateOptions attributes a conversation update for the audit trail.
type UpdateOptions struct {
	Type     model.ConversationEventType
	ByUserID *string
	Reason   *string
}

// UpdateConversation applies a partial update inside a transaction,
// records the changed audited fields as a conversation event, and
// returns the updated row together with the changes.
func (s *Store) UpdateConversation(ctx context.Context, id int64, upd model.ConversationUpdate, opts UpdateOptions) (*model.Conversation, []model.FieldChange, error) {
	var updated *model.Conversation
	var changes []model.FieldChange

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id)
		current, err := scanConversation(row)
		if err != nil {
			return err
		}

		next, fieldChanges := model.ApplyUpdate(*current, upd, time.Now().UTC())

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET
				status = $2, assigned_to_id = $3, assigned_to_ai = $4,
				email_from = $5, summary = $6, last_user_message_at = $7,
				closed_at = $8, updated_at = $9
			WHERE id = $1`,
			next.ID, next.Status, next.AssignedToID, next.AssignedToAI,
			next.EmailFrom, next.Summary, next.LastUserMessageAt,
			next.ClosedAt, next.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to update conversation")
		}

		if len(fieldChanges) > 0 {
			if err := insertConversationEvent(ctx, tx, next.ID, fieldChanges, opts); err != nil {
				return err
			}
		}

		updated = &next
		changes = fieldChanges
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, changes, nil
}

// UpdateOriginalConversation resolves the merge chain first so the
// update lands on the root conversation.
func (s *Store) UpdateOriginalConversation(ctx context.Context, id int64, upd model.ConversationUpdate, opts UpdateOptions) (*model.Conversation, []model.FieldChange, error) {
	originalID, err := s.ResolveOriginalID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s.UpdateConversation(ctx, originalID, upd, opts)
}

func insertConversationEvent(ctx context.Context, q querier, conversationID int64, changes []model.FieldChange, opts UpdateOptions) error {
	eventType := opts.Type
	if eventType == "" {
		eventType = model.EventTypeUpdate
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return errors.Wrap(err, "failed to marshal changes")
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO conversation_events (conversation_id, type, changes, by_user_id, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		conversationID, eventType, payload, opts.ByUserID, opts.Reason,
	)
	return errors.Wrap(err, "failed to insert conversation event")
}

// CreateConversationEvent records a standalone audit event without a
// field update, such as request_human_support.
func (s *Store) CreateConversationEvent(ctx context.Context, conversationID int64, eventType model.ConversationEventType, opts UpdateOptions) error {
	opts.Type = eventType
	return insertConversationEvent(ctx, s.db, conversationID, nil, opts)
}
