// Package compiler aggregates a finished research tree into its
// report-ready result: counts, reasoning chains for true leaves, and
// diagnostics for abandoned branches.
package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/chains"
	"github.com/inquest-ai/inquest/internal/models"
	"github.com/inquest-ai/inquest/internal/store"
)

// ReasoningChain is the root-to-leaf provenance path for one true leaf.
type ReasoningChain struct {
	LeafID          uuid.UUID `json:"leaf_id"`
	Queries         []string  `json:"queries"`
	Depth           int       `json:"depth"`
	SaturationScore float64   `json:"saturation_score"`
	FindingsCount   int       `json:"findings_count"`
}

// Diagnostic reports a node that did not complete: a failed execution or
// a branch declined by budget or dedup.
type Diagnostic struct {
	NodeID     uuid.UUID         `json:"node_id"`
	Query      string            `json:"query"`
	Depth      int               `json:"depth"`
	Status     models.NodeStatus `json:"status"`
	SkipReason models.SkipReason `json:"skip_reason,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// TreeResult is the compiled output of one investigation. A completed
// tree may legitimately carry failed and skipped diagnostics; completion
// means the expansion terminated, not that every node succeeded.
type TreeResult struct {
	TreeID    uuid.UUID         `json:"tree_id"`
	RootQuery string            `json:"root_query"`
	Status    models.TreeStatus `json:"status"`

	TotalNodes      int                       `json:"total_nodes"`
	NodesByStatus   map[models.NodeStatus]int `json:"nodes_by_status"`
	MaxDepthReached int                       `json:"max_depth_reached"`

	TotalFindings    int `json:"total_findings"`
	TotalNewEntities int `json:"total_new_entities"`

	Chains      []ReasoningChain `json:"chains"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
}

// Compiler builds TreeResults from the store.
type Compiler struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a result compiler.
func New(st store.Store, logger *zap.Logger) *Compiler {
	return &Compiler{store: st, logger: logger}
}

// Compile aggregates the tree into its result. True leaves are completed
// nodes with no non-skipped children; skipped children are declined
// candidates, not expansion, so they do not disqualify a leaf.
func (c *Compiler) Compile(ctx context.Context, treeID uuid.UUID) (*TreeResult, error) {
	t, err := c.store.GetTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	nodes, err := c.store.ListNodes(ctx, treeID)
	if err != nil {
		return nil, err
	}

	result := &TreeResult{
		TreeID:        treeID,
		RootQuery:     t.RootQuery,
		Status:        t.Status,
		NodesByStatus: make(map[models.NodeStatus]int),
	}

	childCount := make(map[uuid.UUID]int, len(nodes))
	for _, n := range nodes {
		result.NodesByStatus[n.Status]++
		if n.Status == models.NodeStatusSkipped {
			continue
		}
		result.TotalNodes++
		if n.Depth > result.MaxDepthReached {
			result.MaxDepthReached = n.Depth
		}
		if n.ParentID != nil {
			childCount[*n.ParentID]++
		}
		if n.Status == models.NodeStatusCompleted {
			result.TotalFindings += n.FindingsCount
			result.TotalNewEntities += n.NewEntitiesCount
		}
	}

	for _, n := range nodes {
		switch n.Status {
		case models.NodeStatusCompleted:
			if childCount[n.ID] > 0 {
				continue
			}
			queries, err := chains.FromNodes(nodes, n.ID)
			if err != nil {
				return nil, fmt.Errorf("compile tree %s: %w", treeID, err)
			}
			result.Chains = append(result.Chains, ReasoningChain{
				LeafID:          n.ID,
				Queries:         queries,
				Depth:           n.Depth,
				SaturationScore: n.SaturationScore,
				FindingsCount:   n.FindingsCount,
			})
		case models.NodeStatusFailed:
			d := Diagnostic{NodeID: n.ID, Query: n.Query, Depth: n.Depth, Status: n.Status}
			if n.ErrorMessage != nil {
				d.Error = *n.ErrorMessage
			}
			result.Diagnostics = append(result.Diagnostics, d)
		case models.NodeStatusSkipped:
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				NodeID:     n.ID,
				Query:      n.Query,
				Depth:      n.Depth,
				Status:     n.Status,
				SkipReason: n.SkipReason,
			})
		}
	}

	// Deterministic report order: shallow chains first, then creation order.
	sort.SliceStable(result.Chains, func(i, j int) bool {
		return result.Chains[i].Depth < result.Chains[j].Depth
	})
	sort.SliceStable(result.Diagnostics, func(i, j int) bool {
		return result.Diagnostics[i].Depth < result.Diagnostics[j].Depth
	})

	c.logger.Debug("Compiled tree result",
		zap.String("tree_id", treeID.String()),
		zap.Int("total_nodes", result.TotalNodes),
		zap.Int("chains", len(result.Chains)),
		zap.Int("diagnostics", len(result.Diagnostics)),
	)
	return result, nil
}
