package embed

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/resilience"
)

// ResilientEmbedder runs every call to inner under a resilience policy.
// Whatever error survives the policy is reported as ErrEmbeddingUnavailable.
type ResilientEmbedder struct {
	inner  Embedder
	policy resilience.Policy
}

func NewResilientEmbedder(inner Embedder, policy resilience.Policy) *ResilientEmbedder {
	if policy.Name == "" {
		policy.Name = "embed:" + inner.ModelName()
	}
	if policy.Retry.Retryable == nil {
		policy.Retry.Retryable = retryableEmbedError
	}
	return &ResilientEmbedder{inner: inner, policy: policy}
}

func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkTexts(text); err != nil {
		return nil, err
	}
	var v []float32
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		v, err = r.inner.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return v, nil
}

func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts(texts...); err != nil {
		return nil, err
	}
	var vecs [][]float32
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		vecs, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return vecs, nil
}

func (r *ResilientEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

func (r *ResilientEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// retryableEmbedError refuses to retry caller cancellation, an open
// circuit, and input the provider will reject again.
func retryableEmbedError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, apperrors.ErrInvalidInput):
		return false
	}
	return true
}

func unavailable(err error) error {
	if errors.Is(err, apperrors.ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrEmbeddingUnavailable, err)
}
