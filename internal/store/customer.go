package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// GetPlatformCustomer loads the customer record for an email address.
// Returns (nil, nil) when no record exists; a missing customer is an
// ordinary case, not an error.
func (s *Store) GetPlatformCustomer(ctx context.Context, email string) (*model.PlatformCustomer, error) {
	var c model.PlatformCustomer
	var metadata []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT email, name, value_cents, metadata
		FROM platform_customers
		WHERE email = $1`, email,
	).Scan(&c.Email, &c.Name, &c.ValueCents, &metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to query platform customer")
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal customer metadata")
		}
	}
	return &c, nil
}

// UpsertPlatformCustomer merges the given metadata into the customer
// record, creating it if needed.
func (s *Store) UpsertPlatformCustomer(ctx context.Context, email string, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal customer metadata")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO platform_customers (email, metadata)
		VALUES ($1, $2)
		ON CONFLICT (email)
		DO UPDATE SET metadata = platform_customers.metadata || EXCLUDED.metadata`,
		email, payload)
	return errors.Wrap(err, "failed to upsert platform customer")
}
