package tools

import "encoding/json"

// ClientToolParameter declares one parameter of a client-provided tool.
// Type is "string" or "number".
type ClientToolParameter struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// ClientTool is a tool executed by the connected client rather than the
// engine. Calls to it are forwarded over the stream and end the turn,
// like the guide tool.
type ClientTool struct {
	Name        string                         `json:"name"`
	Description string                         `json:"description"`
	Parameters  map[string]ClientToolParameter `json:"parameters,omitempty"`
}

func clientToolDescriptor(tool ClientTool) *Descriptor {
	properties := map[string]schemaProperty{}
	var required []string
	for name, param := range tool.Parameters {
		kind := param.Type
		if kind != "number" {
			kind = "string"
		}
		properties[name] = schemaProperty{Type: kind, Description: param.Description}
		if !param.Optional {
			required = append(required, name)
		}
	}

	raw, err := json.Marshal(schemaDocument{
		Type:       "object",
		Properties: properties,
		Required:   required,
	})
	if err != nil {
		raw = []byte(`{"type":"object","properties":{}}`)
	}

	return &Descriptor{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  raw,
		// No Execute: the call is forwarded to the client.
	}
}
