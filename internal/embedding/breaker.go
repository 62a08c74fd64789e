package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/dataengine/core/internal/domain"
)

// Default circuit breaker settings, matching the timeouts this pack's LLM
// circuit breaker uses for external provider calls.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker guarding a remote embedding
// provider.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// BreakerProvider wraps a domain.EmbeddingProvider with a circuit breaker so
// a failing remote embedding backend fails fast instead of stacking up
// retries against the write pipeline's post-commit embed step.
type BreakerProvider struct {
	inner   domain.EmbeddingProvider
	breaker *gobreaker.CircuitBreaker[[][]float32]
	logger  *slog.Logger
}

// NewBreakerProvider wraps inner with a circuit breaker. A zero-valued cfg
// uses the package defaults.
func NewBreakerProvider(inner domain.EmbeddingProvider, cfg BreakerConfig, logger *slog.Logger) *BreakerProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        "embedding:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool { return err == nil },
	})

	return &BreakerProvider{inner: inner, breaker: cb, logger: logger}
}

// Embed implements domain.EmbeddingProvider, routing calls through the
// circuit breaker. An open circuit returns domain.ErrEmbeddingFailed.
func (p *BreakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.breaker.Execute(func() ([][]float32, error) {
		return p.inner.Embed(ctx, texts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: provider %q circuit open: %v", domain.ErrEmbeddingFailed, p.inner.Name(), err)
		}
		return nil, err
	}
	return vecs, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *BreakerProvider) Dimensions() int { return p.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (p *BreakerProvider) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *BreakerProvider) State() gobreaker.State { return p.breaker.State() }

var _ domain.EmbeddingProvider = (*BreakerProvider)(nil)
