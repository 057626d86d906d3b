// Package engine orchestrates AI responses: retrieval, prompt
// assembly, the optional reasoning pass, the tool-calling completion
// loop, and everything that happens after a response finishes.
package engine

import (
	"sync"

	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// Source is a citation reference emitted alongside a response.
type Source struct {
	SourceType string `json:"sourceType"`
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

// DataWriter is the outbound stream for one response. The chat handler
// implements it over SSE; drafts use a discarding writer.
type DataWriter interface {
	// WriteText streams a chunk of the visible response text.
	WriteText(text string) error

	// WriteData emits a named stream event with a payload.
	WriteData(event string, data map[string]any) error

	// WriteReasoning streams one token of reasoning text.
	WriteReasoning(token string) error

	// WriteMessageAnnotation attaches metadata to the final message.
	WriteMessageAnnotation(annotation map[string]any) error

	// WriteSource emits a citation reference.
	WriteSource(source Source) error
}

// discardWriter swallows everything. Used for draft generation where
// no client is attached.
type discardWriter struct{}

// DiscardWriter returns a writer that drops all output.
func DiscardWriter() DataWriter { return discardWriter{} }

func (discardWriter) WriteText(string) error                       { return nil }
func (discardWriter) WriteData(string, map[string]any) error       { return nil }
func (discardWriter) WriteReasoning(string) error                  { return nil }
func (discardWriter) WriteMessageAnnotation(map[string]any) error  { return nil }
func (discardWriter) WriteSource(Source) error                     { return nil }

// resilientWriter drops all writes after the first failure, so a
// client disconnect never aborts persistence and the other finish
// work.
type resilientWriter struct {
	inner  DataWriter
	logger *logger.Logger

	mu     sync.Mutex
	broken bool
}

func newResilientWriter(inner DataWriter, log *logger.Logger) *resilientWriter {
	return &resilientWriter{inner: inner, logger: log}
}

func (w *resilientWriter) write(fn func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return nil
	}
	if err := fn(); err != nil {
		w.broken = true
		w.logger.Debugw("stream write failed, dropping remaining output", "error", err)
	}
	return nil
}

func (w *resilientWriter) WriteText(text string) error {
	return w.write(func() error { return w.inner.WriteText(text) })
}

func (w *resilientWriter) WriteData(event string, data map[string]any) error {
	return w.write(func() error { return w.inner.WriteData(event, data) })
}

func (w *resilientWriter) WriteReasoning(token string) error {
	return w.write(func() error { return w.inner.WriteReasoning(token) })
}

func (w *resilientWriter) WriteMessageAnnotation(annotation map[string]any) error {
	return w.write(func() error { return w.inner.WriteMessageAnnotation(annotation) })
}

func (w *resilientWriter) WriteSource(source Source) error {
	return w.write(func() error { return w.inner.WriteSource(source) })
}
