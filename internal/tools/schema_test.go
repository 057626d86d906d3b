package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/response-engine/internal/model"
)

func orderTool() *model.Tool {
	return &model.Tool{
		ID:            1,
		Slug:          "get_order",
		Name:          "Get order",
		Description:   "Look up an order",
		URL:           "https://api.example.com/orders/{orderId}",
		RequestMethod: "GET",
		Parameters: []model.ToolParameter{
			{Name: "orderId", Description: "order identifier", Kind: model.ParameterKindString, In: model.ParameterInPath, Required: true},
			{Name: "limit", Description: "max line items", Kind: model.ParameterKindNumber, In: model.ParameterInQuery},
		},
	}
}

func TestBuildParameterSchema(t *testing.T) {
	raw, err := BuildParameterSchema(orderTool(), SchemaOptions{})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])
	assert.Equal(t, []any{"orderId"}, doc["required"])

	props := doc["properties"].(map[string]any)
	orderID := props["orderId"].(map[string]any)
	assert.Equal(t, "string", orderID["type"])
	assert.Equal(t, "order identifier", orderID["description"])
	limit := props["limit"].(map[string]any)
	assert.Equal(t, "number", limit["type"])
}

func TestBuildParameterSchemaEmailParameter(t *testing.T) {
	emailParam := "customerEmail"
	tool := &model.Tool{
		Slug:                   "lookup_account",
		CustomerEmailParameter: &emailParam,
		Parameters: []model.ToolParameter{
			{Name: "customerEmail", Kind: model.ParameterKindString, In: model.ParameterInQuery, Required: true},
		},
	}

	email := "user@example.com"
	raw, err := BuildParameterSchema(tool, SchemaOptions{UseEmailParameter: true, Email: &email})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	// The email parameter becomes optional with a default, so the model
	// never has to invent it.
	assert.Nil(t, doc["required"])
	props := doc["properties"].(map[string]any)
	prop := props["customerEmail"].(map[string]any)
	assert.Equal(t, "user@example.com", prop["default"])
}

func TestValidateParametersValid(t *testing.T) {
	err := ValidateParameters(orderTool(), map[string]any{
		"orderId": "ord_123",
		"limit":   float64(5),
	})
	assert.NoError(t, err)
}

func TestValidateParametersMissingRequired(t *testing.T) {
	err := ValidateParameters(orderTool(), map[string]any{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrCodeInvalidParameter, apiErr.Code)
	assert.Contains(t, apiErr.Message, "Parameter validation failed")
	assert.Contains(t, apiErr.Message, "orderId")
}

func TestValidateParametersWrongType(t *testing.T) {
	err := ValidateParameters(orderTool(), map[string]any{
		"orderId": "ord_123",
		"limit":   "five",
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrCodeInvalidParameter, apiErr.Code)
	assert.Contains(t, apiErr.Message, "limit")
}

func TestValidateParametersRejectsUndeclared(t *testing.T) {
	err := ValidateParameters(orderTool(), map[string]any{
		"orderId": "ord_123",
		"bogus":   "value",
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrCodeInvalidParameter, apiErr.Code)
}
