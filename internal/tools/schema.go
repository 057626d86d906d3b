// Package tools builds the callable tool surface exposed to the model:
// built-in platform tools plus the mailbox's configured REST tools.
package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// APIError is a structured tool failure surfaced back to the model.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrCodeInvalidParameter marks argument validation failures.
const ErrCodeInvalidParameter = "INVALID_PARAMETER"

type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

type schemaDocument struct {
	Type                 string                    `json:"type"`
	Properties           map[string]schemaProperty `json:"properties"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

// SchemaOptions controls how the customer email parameter is rendered.
type SchemaOptions struct {
	// UseEmailParameter renders the customer email parameter as an
	// optional described string, defaulted from Email when known, so
	// the model never has to invent it. When false the parameter is
	// treated like any other declared parameter.
	UseEmailParameter bool
	Email             *string
}

// BuildParameterSchema renders the JSON schema for a tool's declared
// parameters.
func BuildParameterSchema(tool *model.Tool, opts SchemaOptions) (json.RawMessage, error) {
	doc := schemaDocument{
		Type:       "object",
		Properties: map[string]schemaProperty{},
	}

	for _, param := range tool.Parameters {
		description := param.Description
		if description == "" {
			description = param.Name
		}

		if opts.UseEmailParameter && tool.CustomerEmailParameter != nil && param.Name == *tool.CustomerEmailParameter {
			prop := schemaProperty{Type: "string", Description: description}
			if opts.Email != nil && *opts.Email != "" {
				prop.Default = *opts.Email
			}
			doc.Properties[param.Name] = prop
			continue
		}

		doc.Properties[param.Name] = schemaProperty{
			Type:        string(param.Kind),
			Description: description,
		}
		if param.Required {
			doc.Required = append(doc.Required, param.Name)
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal parameter schema")
	}
	return raw, nil
}

var missingPropertyRe = regexp.MustCompile(`missing propert(?:y|ies):? '?([^',]+)'?`)

// ValidateParameters checks the model-provided arguments against the
// tool's declared parameters. The customer email parameter is
// validated like any other declared parameter here; autofill happens
// at execution time, not validation time.
func ValidateParameters(tool *model.Tool, params map[string]any) error {
	raw, err := BuildParameterSchema(tool, SchemaOptions{UseEmailParameter: false})
	if err != nil {
		return err
	}

	schema, err := jsonschema.CompileString(tool.Slug+".schema.json", string(raw))
	if err != nil {
		return errors.Wrap(err, "failed to compile parameter schema")
	}

	// Round-trip through JSON so typed values validate the same way a
	// decoded model payload would.
	encoded, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal parameters")
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return errors.Wrap(err, "failed to unmarshal parameters")
	}

	if err := schema.Validate(decoded); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			field, message := describeValidationError(ve)
			return &APIError{
				Code:    ErrCodeInvalidParameter,
				Message: fmt.Sprintf("Parameter validation failed: %s - %s", field, message),
			}
		}
		return err
	}
	return nil
}

// describeValidationError walks to the most specific cause and names
// the offending parameter.
func describeValidationError(ve *jsonschema.ValidationError) (field, message string) {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	message = leaf.Message
	field = strings.TrimPrefix(leaf.InstanceLocation, "/")
	field = strings.ReplaceAll(field, "/", ".")

	if field == "" {
		if m := missingPropertyRe.FindStringSubmatch(leaf.Message); m != nil {
			field = m[1]
		}
	}
	return field, message
}
