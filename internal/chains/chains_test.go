package chains

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inquest-ai/inquest/internal/models"
	"github.com/inquest-ai/inquest/internal/store"
)

func seedChain(t *testing.T, st store.Store, queries ...string) []*models.ResearchNode {
	t.Helper()
	ctx := context.Background()
	tree := &models.ResearchTree{
		ID:        uuid.New(),
		RootQuery: queries[0],
		Config:    models.DefaultTreeConfig(),
		Status:    models.TreeStatusRunning,
		CreatedAt: time.Now(),
	}
	root := &models.ResearchNode{
		ID:              uuid.New(),
		TreeID:          tree.ID,
		Query:           queries[0],
		NormalizedQuery: models.NormalizeQuery(queries[0]),
		QueryType:       models.QueryTypeInitial,
		Status:          models.NodeStatusCompleted,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, st.CreateTree(ctx, tree, root))

	nodes := []*models.ResearchNode{root}
	parent := root
	for depth, q := range queries[1:] {
		child := &models.ResearchNode{
			ID:              uuid.New(),
			TreeID:          tree.ID,
			ParentID:        &parent.ID,
			Query:           q,
			NormalizedQuery: models.NormalizeQuery(q),
			QueryType:       models.QueryTypeDetail,
			Depth:           depth + 1,
			Status:          models.NodeStatusCompleted,
			CreatedAt:       time.Now(),
		}
		_, err := st.AdmitChild(ctx, tree.ID, child, 50)
		require.NoError(t, err)
		nodes = append(nodes, child)
		parent = child
	}
	return nodes
}

func TestChainWalksRootToNode(t *testing.T) {
	st := store.NewMemoryStore()
	nodes := seedChain(t, st, "why", "because of what", "and before that")
	r := NewReconstructor(st)

	chain, err := r.Chain(context.Background(), nodes[2].ID)
	require.NoError(t, err)
	require.Equal(t, []string{"why", "because of what", "and before that"}, chain)
}

func TestChainOfRootIsSingleton(t *testing.T) {
	st := store.NewMemoryStore()
	nodes := seedChain(t, st, "only question")
	r := NewReconstructor(st)

	chain, err := r.Chain(context.Background(), nodes[0].ID)
	require.NoError(t, err)
	require.Equal(t, []string{"only question"}, chain)
}

func TestChainUnknownNode(t *testing.T) {
	r := NewReconstructor(store.NewMemoryStore())
	_, err := r.Chain(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNodeNotFound)
}

func TestChainBrokenParentPointer(t *testing.T) {
	st := store.NewMemoryStore()
	nodes := seedChain(t, st, "root", "child")
	ctx := context.Background()

	// Corrupt the child's parent pointer.
	missing := uuid.New()
	nodes[1].ParentID = &missing
	require.NoError(t, st.UpdateNode(ctx, nodes[1]))

	r := NewReconstructor(st)
	_, err := r.Chain(ctx, nodes[1].ID)
	require.ErrorIs(t, err, ErrBrokenChain)
}

func TestFromNodesMatchesStoreWalk(t *testing.T) {
	st := store.NewMemoryStore()
	nodes := seedChain(t, st, "a", "b", "c")
	r := NewReconstructor(st)

	viaStore, err := r.Chain(context.Background(), nodes[2].ID)
	require.NoError(t, err)

	all, err := st.ListNodes(context.Background(), nodes[0].TreeID)
	require.NoError(t, err)
	viaMemory, err := FromNodes(all, nodes[2].ID)
	require.NoError(t, err)

	require.Equal(t, viaStore, viaMemory)
}

func TestFromNodesDetectsCycle(t *testing.T) {
	st := store.NewMemoryStore()
	nodes := seedChain(t, st, "root", "child")
	ctx := context.Background()

	// Point the root back at the child: a cycle the depth bound must catch.
	nodes[0].ParentID = &nodes[1].ID
	require.NoError(t, st.UpdateNode(ctx, nodes[0]))

	all, err := st.ListNodes(ctx, nodes[0].TreeID)
	require.NoError(t, err)
	_, err = FromNodes(all, nodes[1].ID)
	require.ErrorIs(t, err, ErrBrokenChain)
}
