package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/models"
)

func TestExecuteDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/research/execute", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "who owns acme", body["query"])

		json.NewEncoder(w).Encode(models.ExecutionResult{
			ExecutionID: "ex-1",
			Findings:    []models.Finding{{Content: "acme is owned by bob"}},
			Entities:    []string{"acme", "bob"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	res, err := c.Execute(context.Background(), "who owns acme")
	require.NoError(t, err)
	require.Equal(t, "ex-1", res.ExecutionID)
	require.Len(t, res.Findings, 1)
	require.Equal(t, []string{"acme", "bob"}, res.Entities)
}

func TestExecuteUpstreamFaultWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	_, err := c.Execute(context.Background(), "q")
	require.ErrorIs(t, err, ErrExecution)
	require.Contains(t, err.Error(), "502")
}

func TestProposeSendsFullRequestAndClampsPriorities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/research/propose", r.URL.Path)

		var req ProposalRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "root q", req.Query)
		require.Contains(t, req.SeenQueries, "root q")
		require.Equal(t, 3, req.MaxProposals)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []models.FollowUpCandidate{
				{Query: "over", Type: models.QueryTypeDetail, PriorityScore: 2.5},
				{Query: "under", Type: models.QueryTypeDetail, PriorityScore: -1},
				{Query: "fine", Type: models.QueryTypeDetail, PriorityScore: 0.4},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	cands, err := c.Propose(context.Background(), ProposalRequest{
		Query:        "root q",
		AllowedTypes: []models.QueryType{models.QueryTypeDetail},
		SeenQueries:  []string{"root q"},
		MaxProposals: 3,
	})
	require.NoError(t, err)
	require.Len(t, cands, 3)
	require.Equal(t, 1.0, cands[0].PriorityScore)
	require.Equal(t, 0.0, cands[1].PriorityScore)
	require.Equal(t, 0.4, cands[2].PriorityScore)
}

func TestProposeEmptyListIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	cands, err := c.Propose(context.Background(), ProposalRequest{Query: "q"})
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestProposeUpstreamFaultWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	_, err := c.Propose(context.Background(), ProposalRequest{Query: "q"})
	require.ErrorIs(t, err, ErrProposal)
}

func TestRateLimitedExecutorHonorsContext(t *testing.T) {
	inner := NewHTTPClient("http://unreachable.invalid", 0, zap.NewNop())
	limited := NewRateLimitedExecutor(inner, 0.001, 1)

	// Burn the single burst token.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := limited.Execute(ctx, "q")
	require.Error(t, err)
}
