// Package retrieval aggregates the context sources fed into the
// system prompt: knowledge bank entries, crawled website pages, and
// similar past conversations.
package retrieval

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"

	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// KV is the key-value cache the retrieval layer stores embeddings in.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedEmbedder wraps an Embedder with a content-addressed cache so
// repeated queries do not re-embed the same text. Cache failures fall
// through to the underlying embedder.
type CachedEmbedder struct {
	embedder llm.Embedder
	kv       KV
	logger   *logger.Logger
}

// NewCachedEmbedder creates a caching embedder.
func NewCachedEmbedder(embedder llm.Embedder, kv KV, log *logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{embedder: embedder, kv: kv, logger: log}
}

func embeddingKey(input string) string {
	return fmt.Sprintf("embedding:%x", md5.Sum([]byte(input)))
}

// Embed returns the cached vector for input, computing and storing it
// on a miss.
func (c *CachedEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	key := embeddingKey(input)

	if data, found, err := c.kv.Get(ctx, key); err != nil {
		c.logger.Warnw("embedding cache read failed", "error", err)
	} else if found {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil {
			return vec, nil
		}
		c.logger.Warnw("embedding cache entry corrupt, re-embedding", "key", key)
	}

	vec, err := c.embedder.Embed(ctx, input)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		if err := c.kv.Set(ctx, key, data); err != nil {
			c.logger.Warnw("embedding cache write failed", "error", err)
		}
	}

	return vec, nil
}
