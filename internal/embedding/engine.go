// Package embedding turns text into vectors for the similarity engine.
// Backends: Ollama (local HTTP), Google GenAI, and OpenAI-compatible APIs.
// Batch failures degrade to zero-vectors so ingestion never stalls on a
// flaky embedder.
package embedding

import (
	"context"
	"fmt"
	"math"

	"endgame/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, index-aligned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// Name identifies the backend and model.
	Name() string
}

// Config selects and parameterizes a backend.
type Config struct {
	// Provider: "ollama", "genai" or "openai".
	Provider string

	// Model is the embedding model handle.
	Model string

	// Endpoint is the Ollama or OpenAI-compatible base URL.
	Endpoint string

	// APIKey authenticates the cloud providers.
	APIKey string

	// Dimension is the vector width the store is configured for.
	Dimension int
}

// NewEngine builds the configured backend.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	var engine Engine
	var err error

	switch cfg.Provider {
	case "ollama", "":
		engine, err = NewOllamaEngine(cfg.Endpoint, cfg.Model, cfg.Dimension)
	case "genai":
		engine, err = NewGenAIEngine(cfg.APIKey, cfg.Model, cfg.Dimension)
	case "openai":
		engine, err = NewOpenAIEngine(cfg.APIKey, cfg.Endpoint, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use ollama, genai or openai)", cfg.Provider)
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine ready: %s (%d dims)", engine.Name(), engine.Dimensions())
	return engine, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Zero-magnitude vectors compare as 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// ZeroVector returns the degraded stand-in written when embedding fails.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// EmbedBatchOrZero embeds texts, substituting zero-vectors of the engine
// dimension when the batch or any row fails. The result is always
// index-aligned with texts.
func EmbedBatchOrZero(ctx context.Context, e Engine, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("Batch embed failed, degrading %d texts to zero-vectors: %v", len(texts), err)
		for i := range out {
			out[i] = ZeroVector(e.Dimensions())
		}
		return out
	}

	for i := range out {
		if i < len(vecs) && len(vecs[i]) > 0 {
			out[i] = vecs[i]
		} else {
			out[i] = ZeroVector(e.Dimensions())
		}
	}
	return out
}

// EmbedOrZero embeds one text, degrading to a zero-vector on failure.
func EmbedOrZero(ctx context.Context, e Engine, text string) []float32 {
	vec, err := e.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("Embed failed, degrading to zero-vector: %v", err)
		}
		return ZeroVector(e.Dimensions())
	}
	return vec
}
