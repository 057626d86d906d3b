package retrieval

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/response-engine/pkg/logger"
)

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

type countingEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func TestCachedEmbedderMissThenHit(t *testing.T) {
	kv := newFakeKV()
	embedder := &countingEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	cached := NewCachedEmbedder(embedder, kv, logger.NewNop())

	vec, err := cached.Embed(context.Background(), "how do refunds work")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 1, embedder.calls)

	// Second call for the same text is served from the cache.
	vec, err = cached.Embed(context.Background(), "how do refunds work")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 1, embedder.calls)
}

func TestCachedEmbedderKeyIsContentAddressed(t *testing.T) {
	kv := newFakeKV()
	embedder := &countingEmbedder{vec: []float32{1}}
	cached := NewCachedEmbedder(embedder, kv, logger.NewNop())

	_, err := cached.Embed(context.Background(), "some input")
	require.NoError(t, err)

	expected := fmt.Sprintf("embedding:%x", md5.Sum([]byte("some input")))
	require.Len(t, kv.setKeys, 1)
	assert.Equal(t, expected, kv.setKeys[0])
}

func TestCachedEmbedderCacheFailuresFallThrough(t *testing.T) {
	kv := newFakeKV()
	kv.getErr = errors.New("kv unavailable")
	kv.setErr = errors.New("kv unavailable")
	embedder := &countingEmbedder{vec: []float32{0.5}}
	cached := NewCachedEmbedder(embedder, kv, logger.NewNop())

	vec, err := cached.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, 1, embedder.calls)
}

func TestCachedEmbedderCorruptEntryReembeds(t *testing.T) {
	kv := newFakeKV()
	kv.data[fmt.Sprintf("embedding:%x", md5.Sum([]byte("query")))] = []byte("not json")
	embedder := &countingEmbedder{vec: []float32{0.7}}
	cached := NewCachedEmbedder(embedder, kv, logger.NewNop())

	vec, err := cached.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.7}, vec)
	assert.Equal(t, 1, embedder.calls)

	// The bad entry was overwritten with a valid one.
	var stored []float32
	data, found, _ := kv.Get(context.Background(), fmt.Sprintf("embedding:%x", md5.Sum([]byte("query"))))
	require.True(t, found)
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, []float32{0.7}, stored)
}

func TestCachedEmbedderEmbedderError(t *testing.T) {
	kv := newFakeKV()
	embedder := &countingEmbedder{err: errors.New("provider down")}
	cached := NewCachedEmbedder(embedder, kv, logger.NewNop())

	_, err := cached.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.Empty(t, kv.setKeys)
}
