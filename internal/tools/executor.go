package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/pkg/logger"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

// EventStore persists tool invocation audit records.
type EventStore interface {
	CreateToolEvent(ctx context.Context, conversationID int64, tool *model.Tool, parameters map[string]any, result any, success bool) (*model.Message, error)
}

// Executor performs the REST calls behind mailbox tools. Every
// invocation is persisted as a tool event before the result is
// returned, so the audit trail exists even when the caller goes away.
type Executor struct {
	store      EventStore
	httpClient *http.Client
	logger     *logger.Logger
}

// NewExecutor creates a tool executor.
func NewExecutor(store EventStore, log *logger.Logger) *Executor {
	return &Executor{
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
	}
}

// CallToolAPI validates the arguments, performs the HTTP request, and
// records the outcome. Transport and endpoint failures are reported in
// the returned payload, never as an error, so a broken tool endpoint
// cannot abort response generation. Validation failures do return an
// error (an *APIError) without touching the endpoint.
func (e *Executor) CallToolAPI(ctx context.Context, conversation *model.Conversation, tool *model.Tool, params map[string]any) (map[string]any, error) {
	if err := ValidateParameters(tool, params); err != nil {
		return nil, err
	}

	req, err := e.buildRequest(ctx, tool, params)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.recordEvent(ctx, conversation.ID, tool, params, map[string]any{"error": err.Error()}, false)
		metrics.RecordToolInvocation(tool.Slug, false)
		return map[string]any{
			"success": false,
			"message": "The API returned an error",
		}, nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		body = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.recordEvent(ctx, conversation.ID, tool, params, map[string]any{
			"error": map[string]any{
				"status":     resp.StatusCode,
				"statusText": resp.Status,
				"body":       decodeBodyOrText(body),
			},
		}, false)
		metrics.RecordToolInvocation(tool.Slug, false)
		return map[string]any{"success": false}, nil
	}

	data := decodeBodyOrText(body)
	e.recordEvent(ctx, conversation.ID, tool, params, map[string]any{"data": data}, true)
	metrics.RecordToolInvocation(tool.Slug, true)

	return map[string]any{
		"success": true,
		"data":    data,
	}, nil
}

func (e *Executor) buildRequest(ctx context.Context, tool *model.Tool, params map[string]any) (*http.Request, error) {
	endpoint := tool.URL
	query := url.Values{}
	body := map[string]any{}

	for _, param := range tool.Parameters {
		value, ok := params[param.Name]
		if !ok {
			continue
		}
		switch param.In {
		case model.ParameterInQuery:
			query.Add(param.Name, fmt.Sprint(value))
		case model.ParameterInPath:
			endpoint = strings.ReplaceAll(endpoint,
				"{"+param.Name+"}", url.PathEscape(fmt.Sprint(value)))
		case model.ParameterInBody:
			body[param.Name] = value
		}
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid tool URL")
	}
	q := parsed.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	parsed.RawQuery = q.Encode()

	var reqBody io.Reader
	if tool.RequestMethod != http.MethodGet && len(body) > 0 {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal tool body")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, tool.RequestMethod, parsed.String(), reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tool request")
	}

	for key, value := range tool.Headers {
		req.Header.Set(key, value)
	}
	if tool.AuthenticationMethod == model.AuthBearerToken && tool.AuthenticationToken != "" {
		req.Header.Set("Authorization", "Bearer "+tool.AuthenticationToken)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (e *Executor) recordEvent(ctx context.Context, conversationID int64, tool *model.Tool, params map[string]any, result any, success bool) {
	if _, err := e.store.CreateToolEvent(ctx, conversationID, tool, params, result, success); err != nil {
		e.logger.Errorw("failed to persist tool event",
			"conversation_id", conversationID, "tool", tool.Slug, "error", err)
	}
}

func decodeBodyOrText(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}
	return string(body)
}
