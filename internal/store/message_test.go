package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/response-engine/internal/model"
)

var messageColumnNames = []string{
	"id", "conversation_id", "role", "status", "body", "cleaned_up_text",
	"email_from", "response_to_id", "metadata", "created_at",
}

func messageRow(m *model.Message, metadata []byte) *sqlmock.Rows {
	return sqlmock.NewRows(messageColumnNames).AddRow(
		m.ID, m.ConversationID, string(m.Role), string(m.Status), m.Body,
		m.CleanedUpText, m.EmailFrom, m.ResponseToID, metadata, m.CreatedAt,
	)
}

func TestGetMessagesOnlyFiltersHiddenMessages(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("role <> 'tool'").
		WithArgs(int64(3)).
		WillReturnRows(messageRow(&model.Message{
			ID: 1, ConversationID: 3, Role: model.RoleUser, Status: model.StatusSent,
			Body: "hello", CreatedAt: now,
		}, []byte(`{"has_attachments":true}`)))

	msgs, err := st.GetMessagesOnly(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	require.NotNil(t, msgs[0].Metadata)
	assert.True(t, msgs[0].Metadata.HasAttachments)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastUserMessageNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("role = 'user'").
		WithArgs(int64(3)).
		WillReturnError(sql.ErrNoRows)

	_, err := st.LastUserMessage(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceAIDraftDiscardsAndInserts(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("SET status = 'discarded'").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("INSERT INTO conversation_messages").
		WillReturnRows(messageRow(&model.Message{
			ID: 10, ConversationID: 3, Role: model.RoleAIAssistant,
			Status: model.StatusDraft, Body: "<p>draft</p>", CleanedUpText: "draft",
			CreatedAt: now,
		}, nil))
	mock.ExpectCommit()

	created, err := st.ReplaceAIDraft(context.Background(), &model.Message{
		ConversationID: 3,
		// Role and status are forced by the store regardless of input.
		Role:          model.RoleUser,
		Status:        model.StatusSent,
		Body:          "<p>draft</p>",
		CleanedUpText: "draft",
	})
	require.NoError(t, err)

	assert.Equal(t, model.RoleAIAssistant, created.Role)
	assert.Equal(t, model.StatusDraft, created.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateToolEventCarriesSnapshot(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()
	tool := &model.Tool{ID: 2, Slug: "get_order", Name: "Get order", URL: "https://api.example.com", RequestMethod: "GET"}

	mock.ExpectQuery("INSERT INTO conversation_messages").
		WithArgs(int64(3), "tool", "sent", "tool call: Get order", "tool call: Get order",
			nil, nil, sqlmock.AnyArg()).
		WillReturnRows(messageRow(&model.Message{
			ID: 11, ConversationID: 3, Role: model.RoleTool, Status: model.StatusSent,
			Body: "tool call: Get order", CreatedAt: now,
		}, []byte(`{"tool":{"id":2,"slug":"get_order","name":"Get order","description":"","url":"https://api.example.com","request_method":"GET"},"success":true}`)))

	created, err := st.CreateToolEvent(context.Background(), 3, tool, map[string]any{"orderId": "x"}, map[string]any{"data": "ok"}, true)
	require.NoError(t, err)

	require.NotNil(t, created.Metadata)
	require.NotNil(t, created.Metadata.Tool)
	assert.Equal(t, "get_order", created.Metadata.Tool.Slug)
	require.NotNil(t, created.Metadata.Success)
	assert.True(t, *created.Metadata.Success)
	require.NoError(t, mock.ExpectationsWereMet())
}
