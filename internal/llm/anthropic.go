package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicModel is the default Claude model for tool-free completion
// paths.
const AnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicClient is an alternate text-completion provider. It does not
// support tool calling; the orchestration engine only selects it for
// plain completion paths such as summarization.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// System-role messages are folded into the first user turn since the
// Messages API takes only user/assistant roles here.
func convertAnthropicMessages(msgs []ChatMessage) []anthropic.MessageParam {
	var system string
	var out []anthropic.MessageParam
	for _, msg := range msgs {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += msg.Content
			continue
		}
		content := msg.Content
		if system != "" && msg.Role == RoleUser && len(out) == 0 {
			content = system + "\n\n" + content
			system = ""
		}
		out = append(out, anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(content),
				},
			}),
		})
	}
	return out
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if len(req.Tools) > 0 {
		return nil, errors.New("anthropic provider does not support tool calling")
	}

	start := time.Now()

	model := req.Model
	if model == "" {
		model = AnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(convertAnthropicMessages(req.Messages)),
	})
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	return &CompletionResponse{
		Content:      content,
		Model:        resp.Model,
		FinishReason: normalizeAnthropicStopReason(string(resp.StopReason)),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	if len(req.Tools) > 0 {
		return nil, errors.New("anthropic provider does not support tool calling")
	}

	start := time.Now()

	model := req.Model
	if model == "" {
		model = AnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(convertAnthropicMessages(req.Messages)),
	})

	var content string
	var stopReason string
	var tokensOut int

	message := stream.Current()

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case anthropic.MessageStreamEventTypeContentBlockDelta:
			if delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta); ok && delta.Type == "text_delta" {
				token := delta.Text
				content += token
				if err := handler(StreamChunk{Type: ChunkText, Text: token}); err != nil {
					return nil, err
				}
			}
		case anthropic.MessageStreamEventTypeMessageDelta:
			if delta, ok := event.Delta.(anthropic.MessageDeltaEventDelta); ok {
				stopReason = string(delta.StopReason)
			}
			tokensOut = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content:      content,
		Model:        model,
		FinishReason: normalizeAnthropicStopReason(stopReason),
		Usage: Usage{
			InputTokens:  int(message.Message.Usage.InputTokens),
			OutputTokens: tokensOut,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func normalizeAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	default:
		return reason
	}
}
