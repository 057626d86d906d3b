package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// ListEnabledTools returns the enabled REST tools configured for a
// mailbox.
func (s *Store) ListEnabledTools(ctx context.Context, mailboxID int64) ([]*model.Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mailbox_id, slug, name, description, url, request_method,
		       headers, authentication_method, authentication_token,
		       parameters, customer_email_parameter, enabled
		FROM tools
		WHERE mailbox_id = $1 AND enabled
		ORDER BY id ASC`, mailboxID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tools")
	}
	defer rows.Close()

	var tools []*model.Tool
	for rows.Next() {
		var t model.Tool
		var headers, parameters []byte
		var token *string
		err := rows.Scan(
			&t.ID, &t.MailboxID, &t.Slug, &t.Name, &t.Description, &t.URL,
			&t.RequestMethod, &headers, &t.AuthenticationMethod, &token,
			&parameters, &t.CustomerEmailParameter, &t.Enabled,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tool")
		}
		if token != nil {
			t.AuthenticationToken = *token
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &t.Headers); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal tool headers")
			}
		}
		if len(parameters) > 0 {
			if err := json.Unmarshal(parameters, &t.Parameters); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal tool parameters")
			}
		}
		tools = append(tools, &t)
	}
	return tools, errors.Wrap(rows.Err(), "failed to iterate tools")
}
