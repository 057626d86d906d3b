// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons, normalized across providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
	FinishLength    = "length"
	FinishError     = "error"
)

// ChatMessage represents a chat message for the model.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-initiated invocation of a named tool. Arguments
// is the raw JSON argument object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool exposed to the model.
// Parameters is a JSON schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float32
	Seed        *int
}

// Usage reports token counts for a single model call.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// ChunkType discriminates streaming chunks.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool-call"
)

// StreamChunk is one unit of a streaming completion.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolCall
}

// StreamHandler is called for each chunk during streaming.
type StreamHandler func(chunk StreamChunk) error

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Model        string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request, invoking the
	// handler for each chunk.
	CompleteStream(ctx context.Context, req *CompletionRequest, handler StreamHandler) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Embedder produces text embeddings.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// NewSummaryClient selects the provider for tool-free completion paths
// such as summarization and returns it with the model it should run.
// Tool-calling completions always run on OpenAI, so "anthropic" here
// only redirects the plain-text work.
func NewSummaryClient(provider, openAIKey, anthropicKey string) (Client, string, error) {
	if provider == "anthropic" {
		client, err := NewAnthropicClient(anthropicKey)
		if err != nil {
			return nil, "", err
		}
		return client, AnthropicModel, nil
	}
	client, err := NewOpenAIClient(openAIKey)
	if err != nil {
		return nil, "", err
	}
	return client, MiniModel, nil
}
