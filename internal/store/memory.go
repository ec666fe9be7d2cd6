package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inquest-ai/inquest/internal/models"
)

// MemoryStore is an in-process Store used by tests and single-binary
// deployments without a database. All mutations go through one mutex,
// which gives the single-writer discipline the scheduler relies on.
type MemoryStore struct {
	mu     sync.RWMutex
	trees  map[uuid.UUID]*models.ResearchTree
	nodes  map[uuid.UUID]*models.ResearchNode
	byTree map[uuid.UUID][]uuid.UUID
	audits map[uuid.UUID][]*models.CandidateAudit // keyed by source node
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trees:  make(map[uuid.UUID]*models.ResearchTree),
		nodes:  make(map[uuid.UUID]*models.ResearchNode),
		byTree: make(map[uuid.UUID][]uuid.UUID),
		audits: make(map[uuid.UUID][]*models.CandidateAudit),
	}
}

func (s *MemoryStore) CreateTree(ctx context.Context, tree *models.ResearchTree, root *models.ResearchNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *tree
	n := *root
	s.trees[t.ID] = &t
	s.nodes[n.ID] = &n
	s.byTree[t.ID] = append(s.byTree[t.ID], n.ID)
	s.recomputeLocked(t.ID)
	return nil
}

func (s *MemoryStore) GetTree(ctx context.Context, id uuid.UUID) (*models.ResearchTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[id]
	if !ok {
		return nil, ErrTreeNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SetTreeStatus(ctx context.Context, id uuid.UUID, status models.TreeStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[id]
	if !ok {
		return ErrTreeNotFound
	}
	t.Status = status
	switch status {
	case models.TreeStatusRunning:
		t.StartedAt = &at
	case models.TreeStatusCompleted, models.TreeStatusFailed, models.TreeStatusCancelled:
		t.CompletedAt = &at
	}
	return nil
}

func (s *MemoryStore) AdmitChild(ctx context.Context, treeID uuid.UUID, node *models.ResearchNode, maxNodes int) (Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[treeID]; !ok {
		return AdmissionNone, ErrTreeNotFound
	}

	countable := 0
	for _, id := range s.byTree[treeID] {
		existing := s.nodes[id]
		if existing.Status == models.NodeStatusSkipped {
			continue
		}
		countable++
		if existing.NormalizedQuery == node.NormalizedQuery {
			return AdmissionDuplicate, nil
		}
	}

	n := *node
	admission := AdmissionAccepted
	if countable >= maxNodes {
		n.Status = models.NodeStatusSkipped
		n.SkipReason = models.SkipReasonMaxNodesReached
		admission = AdmissionMaxNodes
	}
	s.nodes[n.ID] = &n
	s.byTree[treeID] = append(s.byTree[treeID], n.ID)
	s.recomputeLocked(treeID)

	// Reflect the stored state back to the caller.
	*node = n
	return admission, nil
}

func (s *MemoryStore) UpdateNode(ctx context.Context, node *models.ResearchNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node.ID]; !ok {
		return ErrNodeNotFound
	}
	n := *node
	s.nodes[n.ID] = &n
	s.recomputeLocked(n.TreeID)
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id uuid.UUID) (*models.ResearchNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListNodes(ctx context.Context, treeID uuid.UUID) ([]*models.ResearchNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.byTree[treeID]
	if !ok {
		return nil, ErrTreeNotFound
	}
	out := make([]*models.ResearchNode, 0, len(ids))
	for _, id := range ids {
		cp := *s.nodes[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) PendingAtDepth(ctx context.Context, treeID uuid.UUID, depth int) ([]*models.ResearchNode, error) {
	nodes, err := s.ListNodes(ctx, treeID)
	if err != nil {
		return nil, err
	}
	var out []*models.ResearchNode
	for _, n := range nodes {
		if n.Depth == depth && n.Status == models.NodeStatusPending {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *MemoryStore) SeenQueries(ctx context.Context, treeID uuid.UUID) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.byTree[treeID]
	if !ok {
		return nil, ErrTreeNotFound
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		n := s.nodes[id]
		if n.Status == models.NodeStatusSkipped {
			continue
		}
		seen[n.NormalizedQuery] = struct{}{}
	}
	return seen, nil
}

func (s *MemoryStore) RecomputeCounters(ctx context.Context, treeID uuid.UUID) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[treeID]; !ok {
		return Counters{}, ErrTreeNotFound
	}
	return s.recomputeLocked(treeID), nil
}

// recomputeLocked rebuilds counters from node records. Caller holds mu.
func (s *MemoryStore) recomputeLocked(treeID uuid.UUID) Counters {
	var c Counters
	for _, id := range s.byTree[treeID] {
		n := s.nodes[id]
		switch n.Status {
		case models.NodeStatusPending:
			c.PendingNodes++
		case models.NodeStatusRunning:
			c.RunningNodes++
		case models.NodeStatusCompleted:
			c.CompletedNodes++
		case models.NodeStatusFailed:
			c.FailedNodes++
		case models.NodeStatusSkipped:
			c.SkippedNodes++
			continue
		}
		c.TotalNodes++
		if n.Depth > c.MaxDepthReached {
			c.MaxDepthReached = n.Depth
		}
	}
	t := s.trees[treeID]
	t.TotalNodes = c.TotalNodes
	t.CompletedNodes = c.CompletedNodes
	t.MaxDepthReached = c.MaxDepthReached
	return c
}

func (s *MemoryStore) SaveCandidateAudit(ctx context.Context, audit *models.CandidateAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *audit
	s.audits[cp.NodeID] = append(s.audits[cp.NodeID], &cp)
	return nil
}

func (s *MemoryStore) ListCandidateAudits(ctx context.Context, nodeID uuid.UUID) ([]*models.CandidateAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.audits[nodeID]
	out := make([]*models.CandidateAudit, 0, len(src))
	for _, a := range src {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
