package research

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/inquest-ai/inquest/internal/models"
)

// RateLimitedExecutor throttles an Executor so that tree expansion cannot
// hammer the upstream search/LLM service regardless of parallel_nodes.
type RateLimitedExecutor struct {
	inner   Executor
	limiter *rate.Limiter
}

// NewRateLimitedExecutor wraps inner with a token-bucket limiter.
// rps <= 0 disables limiting.
func NewRateLimitedExecutor(inner Executor, rps float64, burst int) *RateLimitedExecutor {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedExecutor{inner: inner, limiter: limiter}
}

func (r *RateLimitedExecutor) Execute(ctx context.Context, query string) (*models.ExecutionResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.inner.Execute(ctx, query)
}

// RateLimitedProposer throttles a Proposer the same way.
type RateLimitedProposer struct {
	inner   Proposer
	limiter *rate.Limiter
}

// NewRateLimitedProposer wraps inner with a token-bucket limiter.
func NewRateLimitedProposer(inner Proposer, rps float64, burst int) *RateLimitedProposer {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedProposer{inner: inner, limiter: limiter}
}

func (r *RateLimitedProposer) Propose(ctx context.Context, req ProposalRequest) ([]models.FollowUpCandidate, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.inner.Propose(ctx, req)
}
