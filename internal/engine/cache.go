package engine

import (
	"context"
	"crypto/md5"
	"fmt"

	"github.com/helpdeskhq/response-engine/pkg/logger"
	"github.com/helpdeskhq/response-engine/pkg/metrics"
)

// KV is the key-value bucket backing the response cache. The bucket's
// TTL bounds entry lifetime.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// ResponseCache caches the first assistant response of prompt
// conversations, keyed by mailbox and the hash of the user's message.
// Cache failures degrade to misses.
type ResponseCache struct {
	kv     KV
	logger *logger.Logger
}

// NewResponseCache creates a response cache.
func NewResponseCache(kv KV, log *logger.Logger) *ResponseCache {
	return &ResponseCache{kv: kv, logger: log}
}

// Key derives the cache key for a first message in a mailbox.
func (c *ResponseCache) Key(mailboxID int64, content string) string {
	return fmt.Sprintf("chat:v2:mailbox-%d:initial-response:%x", mailboxID, md5.Sum([]byte(content)))
}

// Get returns the cached response text, reporting whether it was
// found.
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	data, found, err := c.kv.Get(ctx, key)
	if err != nil {
		c.logger.Warnw("response cache read failed", "key", key, "error", err)
		metrics.RecordCacheLookup(false)
		return "", false
	}
	metrics.RecordCacheLookup(found)
	if !found {
		return "", false
	}
	return string(data), true
}

// Set stores the response text.
func (c *ResponseCache) Set(ctx context.Context, key, text string) {
	if err := c.kv.Set(ctx, key, []byte(text)); err != nil {
		c.logger.Warnw("response cache write failed", "key", key, "error", err)
	}
}
