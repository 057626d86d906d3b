package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Model names used by the orchestration pipeline.
const (
	CompletionModel = "gpt-4o"
	MiniModel       = "gpt-4o-mini"
	ReasoningModel  = "accounts/fireworks/models/deepseek-r1"

	// ReasoningModelLabel is how the reasoning model is reported to the
	// usage tracker.
	ReasoningModelLabel = "fireworks/deepseek-r1"

	fireworksBaseURL = "https://api.fireworks.ai/inference/v1"
)

// OpenAIClient is an OpenAI-compatible LLM client.
type OpenAIClient struct {
	client       *openai.Client
	name         string
	defaultModel string
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAIClient{
		client:       openai.NewClient(apiKey),
		name:         "openai",
		defaultModel: CompletionModel,
	}, nil
}

// NewFireworksClient creates a client against Fireworks' OpenAI-compatible
// API, used for the reasoning stage.
func NewFireworksClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("Fireworks API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = fireworksBaseURL

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		name:         "fireworks",
		defaultModel: ReasoningModel,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return c.name
}

func (c *OpenAIClient) buildRequest(req *CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages[i] = m
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Seed:        req.Seed,
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  json.RawMessage(tool.Parameters),
			},
		})
	}

	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return out
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	out := &CompletionResponse{
		Model:     resp.Model,
		Usage:     usageFromOpenAI(&resp.Usage),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		out.FinishReason = normalizeFinishReason(string(choice.FinishReason))
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return out, nil
}

// CompleteStream sends a streaming completion request. Tool calls arrive
// as argument deltas; they are accumulated and emitted as whole chunks
// once the stream ends.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content strings.Builder
	var finishReason string
	var usage Usage
	pending := map[int]*ToolCall{}

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if response.Usage != nil {
			usage = usageFromOpenAI(response.Usage)
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if delta := choice.Delta.Content; delta != "" {
			content.WriteString(delta)
			if err := handler(StreamChunk{Type: ChunkText, Text: delta}); err != nil {
				return nil, err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &ToolCall{}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason != "" {
			finishReason = normalizeFinishReason(string(choice.FinishReason))
		}
	}

	var toolCalls []ToolCall
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		call := *pending[idx]
		toolCalls = append(toolCalls, call)
		if err := handler(StreamChunk{Type: ChunkToolCall, ToolCall: &call}); err != nil {
			return nil, err
		}
	}

	return &CompletionResponse{
		Content:      content.String(),
		ToolCalls:    toolCalls,
		Model:        model,
		FinishReason: finishReason,
		Usage:        usage,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func usageFromOpenAI(u *openai.Usage) Usage {
	if u == nil {
		return Usage{}
	}
	out := Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CachedInputTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return reason
	}
}
