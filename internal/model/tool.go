package model

// ParameterKind is the value type of a tool parameter.
type ParameterKind string

const (
	ParameterKindString ParameterKind = "string"
	ParameterKindNumber ParameterKind = "number"
)

// ParameterLocation is where a parameter is placed in the request.
type ParameterLocation string

const (
	ParameterInQuery ParameterLocation = "query"
	ParameterInPath  ParameterLocation = "path"
	ParameterInBody  ParameterLocation = "body"
)

// AuthenticationMethod is how a tool endpoint authenticates requests.
type AuthenticationMethod string

const (
	AuthNone        AuthenticationMethod = "none"
	AuthBearerToken AuthenticationMethod = "bearer_token"
)

// ToolParameter is a tagged-variant descriptor for one declared
// parameter of a REST tool.
type ToolParameter struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Kind        ParameterKind     `json:"kind"`
	In          ParameterLocation `json:"in"`
	Required    bool              `json:"required"`
}

// Tool is a declarative REST action descriptor. It is referenced, never
// mutated, by the orchestration core.
type Tool struct {
	ID            int64             `json:"id"`
	MailboxID     int64             `json:"mailbox_id"`
	Slug          string            `json:"slug"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	URL           string            `json:"url"`
	RequestMethod string            `json:"request_method"`
	Headers       map[string]string `json:"headers,omitempty"`

	AuthenticationMethod AuthenticationMethod `json:"authentication_method"`
	AuthenticationToken  string               `json:"-"`

	Parameters []ToolParameter `json:"parameters"`

	// CustomerEmailParameter names the parameter that is auto-populated
	// from the authenticated customer's email instead of being exposed
	// to the model as free text.
	CustomerEmailParameter *string `json:"customer_email_parameter,omitempty"`

	Enabled bool `json:"enabled"`
}

// Snapshot returns the self-contained identity copy persisted on tool
// events.
func (t *Tool) Snapshot() *ToolSnapshot {
	return &ToolSnapshot{
		ID:            t.ID,
		Slug:          t.Slug,
		Name:          t.Name,
		Description:   t.Description,
		URL:           t.URL,
		RequestMethod: t.RequestMethod,
	}
}
