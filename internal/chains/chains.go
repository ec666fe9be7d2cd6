// Package chains reconstructs root-to-node provenance paths by walking
// parent pointers upward.
package chains

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/inquest-ai/inquest/internal/models"
	"github.com/inquest-ai/inquest/internal/store"
)

// ErrBrokenChain is returned when a parent pointer references a node that
// does not exist. This is a data-integrity violation: under correct
// scheduler operation every child is created after its parent and nodes
// are never deleted.
var ErrBrokenChain = errors.New("broken reasoning chain")

// Reconstructor walks parent pointers against the store.
type Reconstructor struct {
	store store.Store
}

// NewReconstructor creates a chain reconstructor.
func NewReconstructor(st store.Store) *Reconstructor {
	return &Reconstructor{store: st}
}

// Chain returns the ordered list of queries from the root down to nodeID.
func (r *Reconstructor) Chain(ctx context.Context, nodeID uuid.UUID) ([]string, error) {
	nodes, err := r.ChainNodes(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	queries := make([]string, len(nodes))
	for i, n := range nodes {
		queries[i] = n.Query
	}
	return queries, nil
}

// ChainNodes returns the full node records from the root down to nodeID.
func (r *Reconstructor) ChainNodes(ctx context.Context, nodeID uuid.UUID) ([]*models.ResearchNode, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	// The walk is bounded by the node's recorded depth; anything longer
	// means the parent pointers form a cycle.
	chain := make([]*models.ResearchNode, 0, node.Depth+1)
	chain = append(chain, node)
	for node.ParentID != nil {
		if len(chain) > node.Depth+1 {
			return nil, fmt.Errorf("%w: parent walk from %s exceeds depth %d", ErrBrokenChain, nodeID, node.Depth)
		}
		parent, err := r.store.GetNode(ctx, *node.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNodeNotFound) {
				return nil, fmt.Errorf("%w: node %s references missing parent %s", ErrBrokenChain, node.ID, *node.ParentID)
			}
			return nil, err
		}
		chain = append(chain, parent)
		node = parent
	}

	// Reverse in place: walked leaf-to-root, callers want root-to-leaf.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// FromNodes reconstructs the root-to-leaf query path for leafID out of an
// already-loaded node set, avoiding per-hop store reads when the whole
// tree is in hand.
func FromNodes(nodes []*models.ResearchNode, leafID uuid.UUID) ([]string, error) {
	byID := make(map[uuid.UUID]*models.ResearchNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	node, ok := byID[leafID]
	if !ok {
		return nil, fmt.Errorf("%w: leaf %s not in node set", ErrBrokenChain, leafID)
	}

	queries := make([]string, 0, node.Depth+1)
	queries = append(queries, node.Query)
	for node.ParentID != nil {
		if len(queries) > node.Depth+1 {
			return nil, fmt.Errorf("%w: parent walk from %s exceeds depth %d", ErrBrokenChain, leafID, node.Depth)
		}
		parent, ok := byID[*node.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: node %s references missing parent %s", ErrBrokenChain, node.ID, *node.ParentID)
		}
		queries = append(queries, parent.Query)
		node = parent
	}

	for i, j := 0, len(queries)-1; i < j; i, j = i+1, j-1 {
		queries[i], queries[j] = queries[j], queries[i]
	}
	return queries, nil
}
