package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/infrastructure/resilience"
)

// Embedder is the hosted alternative to the local Ollama embedder, selected
// with EMBED_DRIVER=openai. Corpus and queries must use the same driver or
// centroids and query vectors live in different spaces.
type Embedder struct {
	client   *openai.Client
	model    string
	executor *resilience.Executor
}

func NewEmbedder(apiKey, baseURL, model string, executor *resilience.Executor) (*Embedder, error) {
	client, err := newClient(apiKey, baseURL)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "openai embedder", err)
	}
	return &Embedder{client: client, model: model, executor: executor}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}
	var vectors [][]float32
	err := e.executor.Execute(ctx, "openai_embed", func(ctx context.Context) error {
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("openai embed returned %d vectors for %d inputs", len(resp.Data), len(texts))
		}
		vectors = make([][]float32, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(vectors) {
				return fmt.Errorf("openai embed returned out-of-range index %d", item.Index)
			}
			vector := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vector[i] = float32(v)
			}
			vectors[item.Index] = vector
		}
		return nil
	}, classifyOpenAIError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed texts", err)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
