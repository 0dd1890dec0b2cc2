package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIMaxBatch is the largest input list the embeddings API accepts.
const openAIMaxBatch = 2048

// OpenAIEngine embeds through the OpenAI embeddings API, or any
// OpenAI-compatible provider via a custom base URL.
type OpenAIEngine struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAIEngine creates an OpenAI-backed engine.
func NewOpenAIEngine(apiKey, baseURL, model string, dim int) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedding requires an API key")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dim <= 0 {
		dim = 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIEngine{
		client: openai.NewClient(opts...),
		model:  model,
		dim:    dim,
	}, nil
}

// Embed generates the embedding for one text.
func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, splitting batches beyond the API limit.
func (e *OpenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += openAIMaxBatch {
		end := start + openAIMaxBatch
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model:          e.model,
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
			Dimensions:     openai.Int(int64(e.dim)),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embed batch [%d:%d] failed: %w", start, end, err)
		}

		for _, item := range resp.Data {
			idx := int(item.Index)
			if idx < 0 || idx >= end-start {
				return nil, fmt.Errorf("openai returned embedding index %d for batch of %d", idx, end-start)
			}
			vec := make([]float32, len(item.Embedding))
			for j, f := range item.Embedding {
				vec[j] = float32(f)
			}
			out[start+idx] = vec
		}
	}

	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai response missing embedding for index %d", i)
		}
	}
	return out, nil
}

// Dimensions returns the configured embedding width.
func (e *OpenAIEngine) Dimensions() int { return e.dim }

// Name identifies the backend and model.
func (e *OpenAIEngine) Name() string { return fmt.Sprintf("openai:%s", e.model) }
