// Package research defines the external collaborators the scheduler
// drives: the Research Executor that answers one query and the Follow-Up
// Proposer that suggests where to dig next.
package research

import (
	"context"
	"errors"

	"github.com/inquest-ai/inquest/internal/models"
)

var (
	// ErrExecution is returned when the research executor fails upstream.
	ErrExecution = errors.New("research execution failed")

	// ErrProposal is returned when the follow-up proposer fails upstream.
	ErrProposal = errors.New("follow-up proposal failed")
)

// Executor runs one unit of research for a query.
type Executor interface {
	Execute(ctx context.Context, query string) (*models.ExecutionResult, error)
}

// ProposalRequest carries everything the proposer needs to suggest
// follow-ups without re-proposing queries the tree already covers.
type ProposalRequest struct {
	Query        string             `json:"query"`
	Findings     []models.Finding   `json:"findings"`
	AllowedTypes []models.QueryType `json:"allowed_types"`
	SeenQueries  []string           `json:"seen_queries"`
	MaxProposals int                `json:"max_proposals"`
}

// Proposer generates candidate follow-up questions for a completed node.
// An empty candidate list is a valid, non-error response.
type Proposer interface {
	Propose(ctx context.Context, req ProposalRequest) ([]models.FollowUpCandidate, error)
}
