package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/prompt"
	"github.com/helpdeskhq/response-engine/internal/tools"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

const (
	maxCompletionSteps    = 4
	completionTemperature = 0.1
	evaluationSeed        = 100
)

// GenerateOptions controls one response generation.
type GenerateOptions struct {
	AddReasoning bool
	GuideEnabled bool

	// ReadPageTool and ClientTools are client-side tools forwarded
	// from the chat request. Calls to them end the turn.
	ReadPageTool *tools.ClientTool
	ClientTools  []tools.ClientTool

	// Evaluation pins the seed, skips usage tracking, and makes
	// reasoning failures fatal.
	Evaluation bool
}

// GenerateResult is everything a caller needs after generation
// finishes.
type GenerateResult struct {
	Text         string
	FinishReason string
	TraceID      string
	Reasoning    string
	Sources      []model.WebsitePage
	PromptInfo   *prompt.Info

	// ToolsCalled lists every tool name invoked across steps.
	ToolsCalled []string
}

// GenerateResponse runs retrieval, prompt assembly, the optional
// reasoning pass, and the tool-calling completion loop, streaming
// visible text to w. Tool results are fed back to the model but never
// forwarded to the writer.
func (e *Engine) GenerateResponse(ctx context.Context, conversation *model.Conversation, mailbox *model.Mailbox, email *string, messages []*model.Message, w DataWriter, opts GenerateOptions) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CompletionTimeout)
	defer cancel()

	query := ""
	queryIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			queryIdx = i
			query = messageText(messages[i])
			break
		}
	}

	// Oversized inbound text is compressed before it reaches retrieval
	// or the prompt.
	if queryIdx >= 0 {
		processed, err := e.SummarizeIfNeeded(ctx, mailbox.ID, query)
		if err != nil {
			return nil, errors.Wrap(err, "failed to summarize user message")
		}
		if processed != query {
			clone := *messages[queryIdx]
			clone.Body = processed
			clone.CleanedUpText = processed
			messages = append([]*model.Message{}, messages...)
			messages[queryIdx] = &clone
			query = processed
		}
	}

	systemMessages, sources, promptInfo, err := e.promptBuilder.Build(ctx, mailbox, email, conversation.Slug, query, opts.GuideEnabled)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build prompt")
	}

	registry, err := e.toolBuilder.Build(ctx, conversation, mailbox, email, tools.BuildOptions{
		IncludeHumanSupport: true,
		GuideEnabled:        opts.GuideEnabled,
		IncludeMailboxTools: true,
		ReadPageTool:        opts.ReadPageTool,
		ClientTools:         opts.ClientTools,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tools")
	}
	promptInfo.AvailableTools = registry.Names()

	traceID := uuid.NewString()
	finalMessages := append([]llm.ChatMessage{}, systemMessages...)
	finalMessages = append(finalMessages, convertMessages(messages)...)

	result := &GenerateResult{
		TraceID:    traceID,
		Sources:    sources,
		PromptInfo: promptInfo,
	}

	if opts.AddReasoning && e.opts.ReasoningEnabled {
		reasoning, reasoningUsage, err := e.generateReasoning(ctx, registry, finalMessages, traceID, opts.Evaluation, w)
		if err != nil {
			return nil, errors.Wrap(err, "reasoning failed")
		}
		if !opts.Evaluation && reasoningUsage != nil {
			e.tracker.Track(ctx, mailbox.ID, llm.ReasoningModelLabel, "reasoning", *reasoningUsage)
		}
		if reasoning != "" {
			result.Reasoning = reasoning
			finalMessages = append(finalMessages, llm.ChatMessage{
				Role:    llm.RoleSystem,
				Content: "Reasoning: " + reasoning,
			})
		}
	}

	var seed *int
	if opts.Evaluation {
		s := evaluationSeed
		seed = &s
	}

	start := time.Now()
	status := "ok"
	defer func() {
		metrics.LLMStreamDuration.WithLabelValues(e.completionClient.Name(), "chat_completion", status).
			Observe(time.Since(start).Seconds())
	}()

	for step := 0; step < maxCompletionSteps; step++ {
		resp, err := e.completionClient.CompleteStream(ctx, &llm.CompletionRequest{
			Model:       llm.CompletionModel,
			Messages:    finalMessages,
			Tools:       registry.Definitions(),
			Temperature: completionTemperature,
			Seed:        seed,
		}, func(chunk llm.StreamChunk) error {
			if chunk.Type == llm.ChunkText {
				return w.WriteText(chunk.Text)
			}
			return nil
		})
		if err != nil {
			status = "error"
			return nil, errors.Wrap(err, "completion failed")
		}

		if !opts.Evaluation {
			e.tracker.Track(ctx, mailbox.ID, llm.CompletionModel, "chat_completion", resp.Usage)
		}

		if resp.Content != "" {
			result.Text = resp.Content
		}
		result.FinishReason = resp.FinishReason

		if resp.FinishReason != llm.FinishToolCalls || len(resp.ToolCalls) == 0 {
			return result, nil
		}

		finalMessages = append(finalMessages, llm.ChatMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result.ToolsCalled = append(result.ToolsCalled, call.Name)

			descriptor := registry[call.Name]
			if descriptor == nil {
				finalMessages = append(finalMessages, toolResultMessage(call, "Unknown tool: "+call.Name))
				continue
			}

			// Client-side tools end the turn: the call is handed to
			// the client instead of being executed here.
			if descriptor.Execute == nil {
				params := decodeArguments(call.Arguments)
				_ = w.WriteData("toolCall", map[string]any{
					"id":         call.ID,
					"name":       call.Name,
					"parameters": params,
				})
				return result, nil
			}

			output := e.executeTool(ctx, descriptor, call)
			finalMessages = append(finalMessages, toolResultMessage(call, output))
		}
	}

	return result, nil
}

func (e *Engine) executeTool(ctx context.Context, descriptor *tools.Descriptor, call llm.ToolCall) string {
	params := decodeArguments(call.Arguments)
	output, err := descriptor.Execute(ctx, params)
	if err != nil {
		var apiErr *tools.APIError
		if errors.As(err, &apiErr) {
			return apiErr.Error()
		}
		e.logger.Errorw("tool execution failed", "tool", call.Name, "error", err)
		return "The tool failed to execute"
	}
	return output
}

func decodeArguments(arguments string) map[string]any {
	params := map[string]any{}
	if arguments != "" {
		// Malformed arguments validate as empty and fail downstream
		// with a proper INVALID_PARAMETER error.
		_ = json.Unmarshal([]byte(arguments), &params)
	}
	return params
}

func toolResultMessage(call llm.ToolCall, content string) llm.ChatMessage {
	return llm.ChatMessage{
		Role:       llm.RoleTool,
		Content:    content,
		Name:       call.Name,
		ToolCallID: call.ID,
	}
}

// convertMessages maps stored conversation turns onto model roles.
// Staff and assistant turns both read as assistant to the model.
func convertMessages(messages []*model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(messages))
	for _, m := range messages {
		role := llm.RoleAssistant
		if m.Role == model.RoleUser {
			role = llm.RoleUser
		}
		out = append(out, llm.ChatMessage{Role: role, Content: messageText(m)})
	}
	return out
}

func messageText(m *model.Message) string {
	if m.CleanedUpText != "" {
		return m.CleanedUpText
	}
	return m.Body
}
