package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/metrics"
	"github.com/inquest-ai/inquest/internal/models"
)

// HTTPClient talks to the research service over JSON/HTTP. The service is
// expected to expose POST /research/execute and POST /research/propose.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a client for the research service.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *HTTPClient) Execute(ctx context.Context, query string) (*models.ExecutionResult, error) {
	start := time.Now()

	var out models.ExecutionResult
	err := c.post(ctx, "/research/execute", map[string]interface{}{"query": query}, &out)
	metrics.ExecutorLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExecutorCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	metrics.ExecutorCalls.WithLabelValues("ok").Inc()

	c.logger.Debug("Research executed",
		zap.String("query", query),
		zap.Int("findings", len(out.Findings)),
		zap.Int("entities", len(out.Entities)),
	)
	return &out, nil
}

func (c *HTTPClient) Propose(ctx context.Context, req ProposalRequest) ([]models.FollowUpCandidate, error) {
	var out struct {
		Candidates []models.FollowUpCandidate `json:"candidates"`
	}
	if err := c.post(ctx, "/research/propose", req, &out); err != nil {
		metrics.ProposerCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrProposal, err)
	}
	metrics.ProposerCalls.WithLabelValues("ok").Inc()

	// The proposer is LLM-shaped output; clamp scores at the boundary
	// rather than trusting the upstream to stay in range.
	for i := range out.Candidates {
		if out.Candidates[i].PriorityScore < 0 {
			out.Candidates[i].PriorityScore = 0
		}
		if out.Candidates[i].PriorityScore > 1 {
			out.Candidates[i].PriorityScore = 1
		}
	}
	return out.Candidates, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
