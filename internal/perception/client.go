// Package perception is the engine's interface to language models: raw
// completion clients for three providers, prompt templates, and the typed
// extraction operations built on them. Every remote call runs under the
// caller's context and behind a shared circuit breaker; structured output
// is repaired before unmarshal so near-JSON replies still parse.
package perception

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"endgame/internal/config"
	"endgame/internal/logging"
)

// LLMClient is the completion port every provider backend implements.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// defaultMaxTokens bounds completion length across providers. Extraction
// payloads for a 4000-char chunk fit comfortably.
const defaultMaxTokens = 4096

// extractionTemperature keeps structured output stable across retries.
const extractionTemperature = 0.1

// NewClient builds a provider backend from config. The returned client is
// not breaker-wrapped; use NewGuardedClient for the engine-facing client.
func NewClient(cfg config.LLMConfig) (LLMClient, error) {
	switch cfg.Provider {
	case "gemini", "genai", "":
		return NewGenAIClient(cfg.APIKey, cfg.Model)
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q (valid: gemini, openai, anthropic)", cfg.Provider)
	}
}

// NewGuardedClient builds the configured backend and wraps it in the
// shared circuit breaker.
func NewGuardedClient(cfg config.LLMConfig) (LLMClient, error) {
	inner, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewBreakerClient(inner), nil
}

// BreakerClient wraps an LLMClient in a circuit breaker. After repeated
// provider failures the breaker opens and calls fail fast instead of
// stalling every pipeline stage on a dead endpoint.
type BreakerClient struct {
	inner   LLMClient
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps client with the engine's breaker settings: trip
// after 5 consecutive failures, probe again after 30 seconds.
func NewBreakerClient(client LLMClient) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Get(logging.CategoryPerception).Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &BreakerClient{inner: client, breaker: cb}
}

// Complete sends a prompt through the breaker.
func (c *BreakerClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a system+user prompt pair through the breaker.
// An open breaker returns immediately with gobreaker.ErrOpenState wrapped.
func (c *BreakerClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	})
	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	return out.(string), nil
}
