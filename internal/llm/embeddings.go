package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder produces embeddings with text-embedding-3-small.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates a new embedding client.
func NewOpenAIEmbedder(apiKey string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  openai.SmallEmbedding3,
	}, nil
}

// Embed returns the embedding vector for the input text. Newlines are
// collapsed to spaces before embedding.
func (e *OpenAIEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	input = strings.ReplaceAll(input, "\n", " ")

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{input},
		Model: e.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}

	return resp.Data[0].Embedding, nil
}
