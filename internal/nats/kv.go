package nats

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// KeyValue is a TTL-scoped key-value bucket backed by JetStream KV.
// Logical keys may contain characters JetStream keys disallow (such as
// ':'), so keys are sanitized on the way in.
type KeyValue struct {
	bucket jetstream.KeyValue
}

// OpenKeyValue creates or opens a KV bucket. The TTL applies to every
// key in the bucket.
func (c *Client) OpenKeyValue(ctx context.Context, bucket string, ttl time.Duration) (*KeyValue, error) {
	kv, err := c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, err
		}
		kv, err = c.js.KeyValue(ctx, bucket)
		if err != nil {
			return nil, err
		}
	}
	return &KeyValue{bucket: kv}, nil
}

// Get returns the value for key, reporting whether it was found.
func (kv *KeyValue) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := kv.bucket.Get(ctx, sanitizeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores the value for key.
func (kv *KeyValue) Set(ctx context.Context, key string, value []byte) error {
	_, err := kv.bucket.Put(ctx, sanitizeKey(key), value)
	return err
}

func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}
