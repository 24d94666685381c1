package embed

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/resilience"
)

// Hooks let callers observe the wrappers New installs. Any field may be nil.
type Hooks struct {
	CacheLookup  func(hit bool)
	BreakerState func(name string, from, to resilience.State)
}

// New builds the configured provider wrapped in the resilience policy and,
// when CacheSize is positive, an LRU cache outside it.
func New(cfg config.EmbeddingConfig, hooks Hooks) (Embedder, error) {
	var provider Embedder
	switch cfg.Provider {
	case "", "hash":
		provider = NewHashEmbedder(cfg.Dimensions)
	case "openai":
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("creating openai embedder: %w", err)
		}
		provider = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	name := "embed:" + provider.ModelName()
	var embedder Embedder = NewResilientEmbedder(provider, resilience.Policy{
		Name:    name,
		Timeout: cfg.Timeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.MaxRetries,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			JitterFraction: 0.1,
		},
		Breaker: resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			OnStateChange:    hooks.BreakerState,
		}),
	})
	if cfg.CacheSize > 0 {
		cached, err := NewCachedEmbedder(embedder, cfg.CacheSize, hooks.CacheLookup)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}
	return embedder, nil
}
