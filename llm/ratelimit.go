package llm

import (
	"context"

	"github.com/vinayprograms/textcall/ratelimit"
)

// RateLimitedProvider takes a limiter token before every request. When the
// upstream reports a rate limit, the limiter's capacity for the resource
// is reduced.
type RateLimitedProvider struct {
	provider Provider
	limiter  *ratelimit.Limiter
	resource string
}

// WithRateLimit wraps p so requests are throttled under resource.
// Streaming support is preserved.
func WithRateLimit(p Provider, limiter *ratelimit.Limiter, resource string) Provider {
	rp := &RateLimitedProvider{provider: p, limiter: limiter, resource: resource}
	if _, ok := p.(StreamingProvider); ok {
		return &rateLimitedStreamProvider{rp}
	}
	return rp
}

// Chat implements Provider.
func (rp *RateLimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := rp.limiter.Acquire(ctx, rp.resource); err != nil {
		return nil, err
	}
	defer rp.limiter.Release(rp.resource)
	resp, err := rp.provider.Chat(ctx, req)
	rp.observe(err)
	return resp, err
}

func (rp *RateLimitedProvider) observe(err error) {
	if isRateLimitError(err) {
		rp.limiter.Reduce(rp.resource)
	}
}

type rateLimitedStreamProvider struct {
	*RateLimitedProvider
}

// ChatStream implements StreamingProvider.
func (rp *rateLimitedStreamProvider) ChatStream(ctx context.Context, req ChatRequest, emit func(chunk string) error) (*ChatResponse, error) {
	if err := rp.limiter.Acquire(ctx, rp.resource); err != nil {
		return nil, err
	}
	defer rp.limiter.Release(rp.resource)
	resp, err := rp.provider.(StreamingProvider).ChatStream(ctx, req, emit)
	rp.observe(err)
	return resp, err
}
