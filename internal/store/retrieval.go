package store

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// EnabledKnowledgeBankEntries returns every enabled knowledge-bank
// snippet for a mailbox. These are not similarity-filtered; all of
// them ride along in every prompt.
func (s *Store) EnabledKnowledgeBankEntries(ctx context.Context, mailboxID int64) ([]model.KnowledgeBankEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content FROM knowledge_bank_entries
		WHERE mailbox_id = $1 AND enabled
		ORDER BY id ASC`, mailboxID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query knowledge bank")
	}
	defer rows.Close()

	var entries []model.KnowledgeBankEntry
	for rows.Next() {
		var e model.KnowledgeBankEntry
		if err := rows.Scan(&e.ID, &e.Content); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge bank entry")
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "failed to iterate knowledge bank")
}

// SimilarWebsitePages returns crawled pages whose embedding cosine
// similarity to the query exceeds the threshold, best first.
func (s *Store) SimilarWebsitePages(ctx context.Context, mailboxID int64, embedding []float32, threshold float64, limit int) ([]model.WebsitePage, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, page_title, markdown, 1 - (embedding <=> $2) AS similarity
		FROM website_pages
		WHERE mailbox_id = $1
		  AND deleted_at IS NULL
		  AND 1 - (embedding <=> $2) > $3
		ORDER BY similarity DESC
		LIMIT $4`,
		mailboxID, vec, threshold, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query website pages")
	}
	defer rows.Close()

	var pages []model.WebsitePage
	for rows.Next() {
		var p model.WebsitePage
		if err := rows.Scan(&p.URL, &p.PageTitle, &p.Markdown, &p.Similarity); err != nil {
			return nil, errors.Wrap(err, "failed to scan website page")
		}
		pages = append(pages, p)
	}
	return pages, errors.Wrap(rows.Err(), "failed to iterate website pages")
}

// SimilarConversations returns past conversations whose embedding
// similarity exceeds the threshold. Prompt templates, merged threads,
// and the conversation identified by excludeSlug are never returned.
func (s *Store) SimilarConversations(ctx context.Context, mailboxID int64, embedding []float32, threshold float64, limit int, excludeSlug string) ([]model.SimilarConversation, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`, 1 - (embedding <=> $2) AS similarity
		FROM conversations
		WHERE mailbox_id = $1
		  AND embedding IS NOT NULL
		  AND is_prompt = FALSE
		  AND merged_into_id IS NULL
		  AND slug <> $3
		  AND 1 - (embedding <=> $2) > $4
		ORDER BY similarity DESC
		LIMIT $5`,
		mailboxID, vec, excludeSlug, threshold, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query similar conversations")
	}
	defer rows.Close()

	var results []model.SimilarConversation
	for rows.Next() {
		var sc model.SimilarConversation
		err := rows.Scan(
			&sc.ID, &sc.Slug, &sc.MailboxID, &sc.Subject, &sc.Status,
			&sc.AssignedToID, &sc.AssignedToAI, &sc.IsPrompt, &sc.IsVisitor,
			&sc.MergedIntoID, &sc.EmailFrom, &sc.EmbeddingText, &sc.Summary,
			&sc.LastUserMessageAt, &sc.ClosedAt, &sc.CreatedAt, &sc.UpdatedAt,
			&sc.Similarity,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan similar conversation")
		}
		results = append(results, sc)
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate similar conversations")
}
