// Package jobs dispatches deferred follow-up work to the external job
// runner over NATS JetStream.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/helpdeskhq/response-engine/internal/nats"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// Well-known job names consumed by the external job runner.
const (
	JobCheckResolution       = "conversations/check-resolution"
	JobAutoResponseCreate    = "conversations/auto-response.create"
	JobHumanSupportRequested = "conversations/human-support-requested"
	JobEmbeddingCreate       = "conversations/embedding.create"
	JobFilePreviewGenerate   = "files/preview.generate"
	JobMessageCreated        = "conversations/message.created"
)

const (
	// StreamName is the name of the jobs stream.
	StreamName = "JOBS"

	// SubjectPrefix is the prefix for all job subjects.
	SubjectPrefix = "jobs"
)

// Dispatcher schedules jobs for the external runner.
type Dispatcher interface {
	// Dispatch fires a job immediately.
	Dispatch(ctx context.Context, name string, data map[string]any) error

	// DispatchAfter schedules a job to run after the given delay. The
	// runner honors RunAt; the engine's contract is schedule-exactly-once.
	DispatchAfter(ctx context.Context, name string, data map[string]any, delay time.Duration) error
}

// Envelope is the wire format for dispatched jobs.
type Envelope struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Data  map[string]any `json:"data"`
	RunAt *time.Time     `json:"run_at,omitempty"`
}

// NATSDispatcher publishes job envelopes to JetStream.
type NATSDispatcher struct {
	client *natsclient.Client
	logger *logger.Logger
}

// NewNATSDispatcher creates a dispatcher on an established connection.
func NewNATSDispatcher(client *natsclient.Client, log *logger.Logger) *NATSDispatcher {
	return &NATSDispatcher{client: client, logger: log}
}

// EnsureStream ensures the jobs stream exists.
func (d *NATSDispatcher) EnsureStream(ctx context.Context) error {
	js := d.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Deferred follow-up jobs for the external runner",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Dispatch fires a job immediately.
func (d *NATSDispatcher) Dispatch(ctx context.Context, name string, data map[string]any) error {
	return d.publish(ctx, Envelope{
		ID:   uuid.NewString(),
		Name: name,
		Data: data,
	})
}

// DispatchAfter schedules a job to run after the given delay.
func (d *NATSDispatcher) DispatchAfter(ctx context.Context, name string, data map[string]any, delay time.Duration) error {
	runAt := time.Now().Add(delay)
	return d.publish(ctx, Envelope{
		ID:    uuid.NewString(),
		Name:  name,
		Data:  data,
		RunAt: &runAt,
	})
}

func (d *NATSDispatcher) publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	subject := JobSubject(env.Name)
	if _, err := d.client.JetStream().Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", env.Name, err)
	}

	d.logger.Debugw("job dispatched", "job", env.Name, "run_at", env.RunAt)
	return nil
}

// JobSubject maps a job name to its stream subject.
func JobSubject(name string) string {
	return SubjectPrefix + "." + strings.NewReplacer("/", ".", ":", ".").Replace(name)
}
