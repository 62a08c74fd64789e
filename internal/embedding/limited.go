package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/dataengine/core/internal/domain"
)

// LimitedProvider wraps a domain.EmbeddingProvider with a token-bucket rate
// limiter, so a burst of post-commit embed calls from the write pipeline
// cannot overrun a remote provider's request quota.
type LimitedProvider struct {
	inner   domain.EmbeddingProvider
	limiter *rate.Limiter
}

// NewLimitedProvider wraps inner with a limiter allowing ratePerSecond
// requests/sec and bursts of up to burst requests.
func NewLimitedProvider(inner domain.EmbeddingProvider, ratePerSecond float64, burst int) *LimitedProvider {
	if burst <= 0 {
		burst = 1
	}
	return &LimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Embed implements domain.EmbeddingProvider, blocking until the limiter
// admits the call or ctx is cancelled.
func (p *LimitedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", domain.ErrEmbeddingFailed, err)
	}
	return p.inner.Embed(ctx, texts)
}

// Dimensions implements domain.EmbeddingProvider.
func (p *LimitedProvider) Dimensions() int { return p.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (p *LimitedProvider) Name() string { return p.inner.Name() }

var _ domain.EmbeddingProvider = (*LimitedProvider)(nil)
