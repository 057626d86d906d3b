package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
)

const mailboxColumns = `
	id, slug, name, vip_threshold_cents, prompt_updated_at, guide_enabled,
	metadata_endpoint_url, metadata_endpoint_hmac_secret`

func scanMailbox(row interface{ Scan(...any) error }) (*model.Mailbox, error) {
	var m model.Mailbox
	var endpointURL, endpointSecret *string
	err := row.Scan(
		&m.ID, &m.Slug, &m.Name, &m.VIPThresholdCents, &m.PromptUpdatedAt,
		&m.GuideEnabled, &endpointURL, &endpointSecret,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to scan mailbox")
	}
	if endpointURL != nil && *endpointURL != "" {
		m.MetadataEndpoint = &model.MetadataEndpoint{URL: *endpointURL}
		if endpointSecret != nil {
			m.MetadataEndpoint.HMACSecret = *endpointSecret
		}
	}
	return &m, nil
}

// GetMailbox loads a mailbox by id.
func (s *Store) GetMailbox(ctx context.Context, id int64) (*model.Mailbox, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mailboxColumns+` FROM mailboxes WHERE id = $1`, id)
	return scanMailbox(row)
}

// GetMailboxBySlug loads a mailbox by its public slug.
func (s *Store) GetMailboxBySlug(ctx context.Context, slug string) (*model.Mailbox, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mailboxColumns+` FROM mailboxes WHERE slug = $1`, slug)
	return scanMailbox(row)
}
