package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/jobs"
	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/model"
	"github.com/helpdeskhq/response-engine/internal/prompt"
	"github.com/helpdeskhq/response-engine/internal/retrieval"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/internal/tools"
	"github.com/helpdeskhq/response-engine/internal/usage"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// fakeKV is an in-memory KV bucket.
type fakeKV struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	setKeys []string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}}
}

func (kv *fakeKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if kv.getErr != nil {
		return nil, false, kv.getErr
	}
	data, ok := kv.data[key]
	return data, ok, nil
}

func (kv *fakeKV) Set(ctx context.Context, key string, value []byte) error {
	if kv.setErr != nil {
		return kv.setErr
	}
	kv.data[key] = value
	kv.setKeys = append(kv.setKeys, key)
	return nil
}

// recordedUpdate captures one conversation update applied to the fake
// store.
type recordedUpdate struct {
	update model.ConversationUpdate
	opts   store.UpdateOptions
}

// fakeStore is an in-memory stand-in for every persistence interface
// the engine and its collaborators depend on.
type fakeStore struct {
	mu sync.Mutex

	conversation *model.Conversation
	messages     []*model.Message
	nextID       int64

	tools    []*model.Tool
	customer *model.PlatformCustomer

	created     []*model.Message
	toolEvents  []*model.Message
	updates     []recordedUpdate
	usageEvents []*model.AIUsageEvent
	upserts     map[string]map[string]any
}

func newFakeStore(conversation *model.Conversation, messages ...*model.Message) *fakeStore {
	s := &fakeStore{
		conversation: conversation,
		nextID:       1000,
		upserts:      map[string]map[string]any{},
	}
	s.messages = append(s.messages, messages...)
	return s
}

func (s *fakeStore) GetMessagesOnly(ctx context.Context, conversationID int64) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID != s.conversation.ID {
		return nil, nil
	}
	var out []*model.Message
	for _, m := range s.messages {
		if m.Role == model.RoleTool {
			continue
		}
		switch m.Status {
		case model.StatusDraft, model.StatusDiscarded, model.StatusFailed:
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, m)
	s.created = append(s.created, m)
	return m, nil
}

func (s *fakeStore) LastUserMessage(ctx context.Context, conversationID int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == model.RoleUser {
			return s.messages[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) ReplaceAIDraft(ctx context.Context, draft *model.Message) (*model.Message, error) {
	s.mu.Lock()
	for _, m := range s.messages {
		if m.IsLiveDraft() {
			m.Status = model.StatusDiscarded
		}
	}
	s.mu.Unlock()
	draft.Role = model.RoleAIAssistant
	draft.Status = model.StatusDraft
	return s.CreateMessage(ctx, draft)
}

func (s *fakeStore) GetPlatformCustomer(ctx context.Context, email string) (*model.PlatformCustomer, error) {
	return s.customer, nil
}

func (s *fakeStore) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.conversation.ID {
		return nil, store.ErrNotFound
	}
	c := *s.conversation
	return &c, nil
}

func (s *fakeStore) UpdateConversation(ctx context.Context, id int64, upd model.ConversationUpdate, opts store.UpdateOptions) (*model.Conversation, []model.FieldChange, error) {
	return s.UpdateOriginalConversation(ctx, id, upd, opts)
}

func (s *fakeStore) UpdateOriginalConversation(ctx context.Context, id int64, upd model.ConversationUpdate, opts store.UpdateOptions) (*model.Conversation, []model.FieldChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.conversation.ID {
		return nil, nil, store.ErrNotFound
	}
	next, changes := model.ApplyUpdate(*s.conversation, upd, time.Now().UTC())
	*s.conversation = next
	s.updates = append(s.updates, recordedUpdate{update: upd, opts: opts})
	c := next
	return &c, changes, nil
}

func (s *fakeStore) UpsertPlatformCustomer(ctx context.Context, email string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts[email] = metadata
	return nil
}

func (s *fakeStore) ListEnabledTools(ctx context.Context, mailboxID int64) ([]*model.Tool, error) {
	return s.tools, nil
}

func (s *fakeStore) EnabledKnowledgeBankEntries(ctx context.Context, mailboxID int64) ([]model.KnowledgeBankEntry, error) {
	return nil, nil
}

func (s *fakeStore) SimilarWebsitePages(ctx context.Context, mailboxID int64, embedding []float32, threshold float64, limit int) ([]model.WebsitePage, error) {
	return nil, nil
}

func (s *fakeStore) SimilarConversations(ctx context.Context, mailboxID int64, embedding []float32, threshold float64, limit int, excludeSlug string) ([]model.SimilarConversation, error) {
	return nil, nil
}

func (s *fakeStore) InsertUsageEvent(ctx context.Context, e *model.AIUsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageEvents = append(s.usageEvents, e)
	return nil
}

func (s *fakeStore) CreateToolEvent(ctx context.Context, conversationID int64, tool *model.Tool, parameters map[string]any, result any, success bool) (*model.Message, error) {
	m := &model.Message{
		ConversationID: conversationID,
		Role:           model.RoleTool,
		Status:         model.StatusSent,
		Body:           "tool call: " + tool.Name,
	}
	s.mu.Lock()
	s.toolEvents = append(s.toolEvents, m)
	s.mu.Unlock()
	return m, nil
}

func (s *fakeStore) assistantMessages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, m := range s.created {
		if m.Role == model.RoleAIAssistant {
			out = append(out, m)
		}
	}
	return out
}

// scriptedResponse is one scripted turn of the fake LLM client. When
// chunks is set they are streamed instead of the response content.
type scriptedResponse struct {
	resp   *llm.CompletionResponse
	chunks []string
	err    error
}

type fakeClient struct {
	mu       sync.Mutex
	script   []scriptedResponse
	requests []*llm.CompletionRequest
	calls    int
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) next(req *llm.CompletionRequest) (scriptedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.requests = append(c.requests, req)
	if len(c.script) == 0 {
		return scriptedResponse{}, errors.New("no scripted response left")
	}
	turn := c.script[0]
	c.script = c.script[1:]
	return turn, nil
}

func (c *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	turn, err := c.next(req)
	if err != nil {
		return nil, err
	}
	if turn.err != nil {
		return nil, turn.err
	}
	return turn.resp, nil
}

func (c *fakeClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, handler llm.StreamHandler) (*llm.CompletionResponse, error) {
	turn, err := c.next(req)
	if err != nil {
		return nil, err
	}
	if turn.err != nil {
		return nil, turn.err
	}
	chunks := turn.chunks
	if chunks == nil && turn.resp.Content != "" {
		chunks = []string{turn.resp.Content}
	}
	for _, chunk := range chunks {
		if err := handler(llm.StreamChunk{Type: llm.ChunkText, Text: chunk}); err != nil {
			return nil, err
		}
	}
	return turn.resp, nil
}

type dispatchedJob struct {
	name  string
	data  map[string]any
	delay time.Duration
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []dispatchedJob
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, name string, data map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, dispatchedJob{name: name, data: data})
	return nil
}

func (d *fakeDispatcher) DispatchAfter(ctx context.Context, name string, data map[string]any, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, dispatchedJob{name: name, data: data, delay: delay})
	return nil
}

func (d *fakeDispatcher) byName(name string) []dispatchedJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatchedJob
	for _, j := range d.jobs {
		if j.name == name {
			out = append(out, j)
		}
	}
	return out
}

var _ jobs.Dispatcher = (*fakeDispatcher)(nil)

type writtenEvent struct {
	name string
	data map[string]any
}

// memWriter records everything written to the stream.
type memWriter struct {
	mu          sync.Mutex
	text        string
	reasoning   string
	events      []writtenEvent
	annotations []map[string]any
	sources     []Source
}

func (w *memWriter) WriteText(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text += text
	return nil
}

func (w *memWriter) WriteData(event string, data map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, writtenEvent{name: event, data: data})
	return nil
}

func (w *memWriter) WriteReasoning(token string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reasoning += token
	return nil
}

func (w *memWriter) WriteMessageAnnotation(annotation map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.annotations = append(w.annotations, annotation)
	return nil
}

func (w *memWriter) WriteSource(source Source) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sources = append(w.sources, source)
	return nil
}

func (w *memWriter) eventsNamed(name string) []writtenEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []writtenEvent
	for _, e := range w.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

// testEnv wires an engine over in-memory fakes.
type testEnv struct {
	engine     *Engine
	store      *fakeStore
	completion *fakeClient
	reasoning  *fakeClient
	dispatcher *fakeDispatcher
	kv         *fakeKV
}

func newTestEnv(st *fakeStore, completion *fakeClient, reasoning *fakeClient) *testEnv {
	log := logger.NewNop()
	dispatcher := &fakeDispatcher{}
	kv := newFakeKV()

	aggregator := retrieval.NewAggregator(st, staticEmbedder{}, log)
	promptBuilder := prompt.NewBuilder(aggregator)
	toolBuilder := tools.NewBuilder(st, aggregator, tools.NewMetadataClient(), tools.NewExecutor(st, log), dispatcher, log)
	tracker := usage.NewTracker(st, log)
	cache := NewResponseCache(kv, log)

	var reasoningClient llm.Client
	if reasoning != nil {
		reasoningClient = reasoning
	}

	eng := New(st, completion, reasoningClient, nil, promptBuilder, toolBuilder, tracker, cache, dispatcher, Options{
		ReasoningEnabled:     reasoning != nil,
		CheckResolutionDelay: 5 * time.Minute,
	}, log)

	return &testEnv{
		engine:     eng,
		store:      st,
		completion: completion,
		reasoning:  reasoning,
		dispatcher: dispatcher,
		kv:         kv,
	}
}

func testMailbox() *model.Mailbox {
	return &model.Mailbox{ID: 1, Slug: "acme", Name: "Acme Support"}
}

func userMessage(id int64, conversationID int64, body string) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Status:         model.StatusSent,
		Body:           body,
	}
}
