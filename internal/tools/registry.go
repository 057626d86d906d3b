package tools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/helpdeskhq/response-engine/internal/llm"
)

// ExecuteFunc runs a tool with the model's decoded arguments and
// returns the text fed back into the conversation.
type ExecuteFunc func(ctx context.Context, params map[string]any) (string, error)

// Descriptor is one callable tool exposed to the model. A nil Execute
// marks a client-side tool: the call is forwarded to the client
// instead of being run by the engine.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Execute     ExecuteFunc
}

// Registry is the set of tools available for one response, keyed by
// tool name.
type Registry map[string]*Descriptor

// Definitions renders the registry into model-facing tool definitions,
// sorted by name for stable prompts.
func (r Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r))
	for _, d := range r {
		defs = append(defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the tool names, sorted. Used for the prompt audit
// record.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
