package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/tools"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

const (
	reasoningTimeout           = 30 * time.Second
	reasoningTimeoutEvaluation = 50 * time.Second
	reasoningTemperature       = 0.6
	reasoningMaxRetries        = 1
)

var thinkRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// generateReasoning runs the reasoning model over the conversation and
// returns the extracted reasoning text. Reasoning is advisory: any
// failure outside evaluation degrades to no reasoning instead of
// failing the response.
func (e *Engine) generateReasoning(ctx context.Context, registry tools.Registry, messages []llm.ChatMessage, traceID string, evaluation bool, w DataWriter) (string, *llm.Usage, error) {
	timeout := reasoningTimeout
	if evaluation {
		timeout = reasoningTimeoutEvaluation
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reasoningMessages := append([]llm.ChatMessage{}, messages...)
	reasoningMessages = append(reasoningMessages,
		llm.ChatMessage{
			Role:    llm.RoleSystem,
			Content: "The following tools are available:\n" + describeTools(registry),
		},
		llm.ChatMessage{
			Role:    llm.RoleSystem,
			Content: "Think about how you can give the best answer to the user's question.",
		},
	)

	start := time.Now()

	_ = w.WriteData("reasoningStarted", map[string]any{"id": traceID})

	var resp *llm.CompletionResponse
	var err error
	for attempt := 0; attempt <= reasoningMaxRetries; attempt++ {
		var finished bool
		resp, err = e.reasoningClient.CompleteStream(ctx, &llm.CompletionRequest{
			Model:       llm.ReasoningModel,
			Messages:    reasoningMessages,
			Temperature: reasoningTemperature,
		}, func(chunk llm.StreamChunk) error {
			if chunk.Type != llm.ChunkText {
				return nil
			}
			if chunk.Text == "</think>" {
				finished = true
				return w.WriteData("reasoningFinished", map[string]any{"id": traceID})
			}
			if !strings.Contains(chunk.Text, "<think>") && !finished {
				return w.WriteReasoning(chunk.Text)
			}
			return nil
		})
		if err == nil {
			break
		}
		if attempt < reasoningMaxRetries {
			e.logger.Warnw("reasoning attempt failed, retrying", "attempt", attempt+1, "error", err)
		}
	}

	metrics.ReasoningDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if evaluation {
			return "", nil, err
		}
		e.logger.Warnw("reasoning pass failed, continuing without reasoning", "error", err)
		return "", nil, nil
	}

	var reasoning string
	if m := thinkRe.FindStringSubmatch(resp.Content); m != nil {
		reasoning = strings.TrimSpace(m[1])
	}

	var annotated any
	if reasoning != "" {
		annotated = reasoning
	}
	_ = w.WriteMessageAnnotation(map[string]any{
		"reasoning": map[string]any{
			"message":              annotated,
			"reasoningTimeSeconds": int(time.Since(start).Round(time.Second).Seconds()),
		},
	})

	return reasoning, &resp.Usage, nil
}

// describeTools renders "name: description Params: k: desc, ..." lines
// for the reasoning model, which sees tools but cannot call them.
func describeTools(registry tools.Registry) string {
	names := registry.Names()
	lines := make([]string, 0, len(names))
	for _, name := range names {
		d := registry[name]
		lines = append(lines, fmt.Sprintf("%s: %s Params: %s", d.Name, d.Description, describeParams(d.Parameters)))
	}
	return strings.Join(lines, "\n")
}

func describeParams(raw []byte) string {
	var doc struct {
		Properties map[string]struct {
			Description string `json:"description"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	keys := make([]string, 0, len(doc.Properties))
	for key := range doc.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = fmt.Sprintf("%s: %s", key, doc.Properties[key].Description)
	}
	return strings.Join(parts, ", ")
}
