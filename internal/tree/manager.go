// Package tree owns tree-level lifecycle: creation, the monotonic status
// machine, progress snapshots, and cooperative cancellation. Node-level
// transitions belong to the scheduler, not to this package.
package tree

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/metrics"
	"github.com/inquest-ai/inquest/internal/models"
	"github.com/inquest-ai/inquest/internal/store"
	"github.com/inquest-ai/inquest/internal/streaming"
)

// Manager handles tree lifecycle over the node store, with an optional
// Redis snapshot cache so status polling stays off the store's hot path.
type Manager struct {
	store    store.Store
	cache    *redis.Client
	events   *streaming.Manager
	logger   *zap.Logger
	cacheTTL time.Duration
}

// NewManager creates a tree manager. cache may be nil to disable snapshot
// caching; events may be nil to disable progress publication.
func NewManager(st store.Store, cache *redis.Client, events *streaming.Manager, logger *zap.Logger) *Manager {
	return &Manager{
		store:    st,
		cache:    cache,
		events:   events,
		logger:   logger,
		cacheTTL: 2 * time.Second,
	}
}

// CreateTree validates the config and persists the tree together with its
// root node. On any persistence failure no partial state remains.
func (m *Manager) CreateTree(ctx context.Context, rootQuery string, cfg models.TreeConfig) (*models.ResearchTree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	tree := &models.ResearchTree{
		ID:        uuid.New(),
		RootQuery: rootQuery,
		Config:    cfg,
		Status:    models.TreeStatusPending,
		CreatedAt: now,
	}
	root := &models.ResearchNode{
		ID:              uuid.New(),
		TreeID:          tree.ID,
		Query:           rootQuery,
		NormalizedQuery: models.NormalizeQuery(rootQuery),
		QueryType:       models.QueryTypeInitial,
		Depth:           0,
		Status:          models.NodeStatusPending,
		CreatedAt:       now,
	}

	if err := m.store.CreateTree(ctx, tree, root); err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}

	m.logger.Info("Created research tree",
		zap.String("tree_id", tree.ID.String()),
		zap.String("root_query", rootQuery),
		zap.Int("depth_limit", cfg.DepthLimit),
		zap.Int("max_nodes", cfg.MaxNodes),
	)
	metrics.TreesStarted.Inc()

	return tree, nil
}

// MarkRunning moves the tree pending -> running.
func (m *Manager) MarkRunning(ctx context.Context, treeID uuid.UUID) error {
	return m.transition(ctx, treeID, models.TreeStatusRunning)
}

// MarkTerminal moves the tree to completed, failed, or cancelled.
func (m *Manager) MarkTerminal(ctx context.Context, treeID uuid.UUID, status models.TreeStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", models.ErrInvalidTransition, status)
	}
	return m.transition(ctx, treeID, status)
}

// Cancel requests cooperative cancellation: the tree is marked cancelled
// and the scheduler stops dispatching; in-flight nodes finish on their own.
func (m *Manager) Cancel(ctx context.Context, treeID uuid.UUID) error {
	err := m.transition(ctx, treeID, models.TreeStatusCancelled)
	if err != nil {
		return err
	}
	m.logger.Info("Tree cancelled", zap.String("tree_id", treeID.String()))
	return nil
}

// transition enforces the monotonic status machine:
// pending -> running -> {completed|failed|cancelled}. Cancellation is also
// allowed straight from pending.
func (m *Manager) transition(ctx context.Context, treeID uuid.UUID, to models.TreeStatus) error {
	t, err := m.store.GetTree(ctx, treeID)
	if err != nil {
		return err
	}
	if !transitionAllowed(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, t.Status, to)
	}

	now := time.Now()
	if err := m.store.SetTreeStatus(ctx, treeID, to, now); err != nil {
		return err
	}
	m.invalidateSnapshot(ctx, treeID)

	if to.Terminal() {
		var dur float64
		if t.StartedAt != nil {
			dur = now.Sub(*t.StartedAt).Seconds()
		}
		metrics.RecordTreeMetrics(string(to), dur)
		if m.events != nil {
			m.events.Publish(treeID.String(), streaming.Event{
				TreeID:  treeID.String(),
				Type:    streaming.EventTreeCompleted,
				Message: string(to),
			})
		}
	} else if to == models.TreeStatusRunning && m.events != nil {
		m.events.Publish(treeID.String(), streaming.Event{
			TreeID:  treeID.String(),
			Type:    streaming.EventTreeStarted,
			Message: t.RootQuery,
		})
	}

	m.logger.Debug("Tree status transition",
		zap.String("tree_id", treeID.String()),
		zap.String("from", string(t.Status)),
		zap.String("to", string(to)),
	)
	return nil
}

func transitionAllowed(from, to models.TreeStatus) bool {
	switch from {
	case models.TreeStatusPending:
		return to == models.TreeStatusRunning || to == models.TreeStatusCancelled || to == models.TreeStatusFailed
	case models.TreeStatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// GetTree returns the tree record.
func (m *Manager) GetTree(ctx context.Context, treeID uuid.UUID) (*models.ResearchTree, error) {
	return m.store.GetTree(ctx, treeID)
}

// Snapshot returns the tree's progress. Snapshots are read-only and may
// be cached briefly; they never block node execution.
func (m *Manager) Snapshot(ctx context.Context, treeID uuid.UUID) (*Snapshot, error) {
	if snap := m.cachedSnapshot(ctx, treeID); snap != nil {
		metrics.SnapshotCacheHits.Inc()
		return snap, nil
	}
	metrics.SnapshotCacheMisses.Inc()

	t, err := m.store.GetTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	nodes, err := m.store.ListNodes(ctx, treeID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		TreeID:  treeID,
		Status:  t.Status,
		TakenAt: time.Now(),
	}
	for _, n := range nodes {
		switch n.Status {
		case models.NodeStatusPending:
			snap.PendingNodes++
		case models.NodeStatusRunning:
			snap.Running = append(snap.Running, RunningNode{ID: n.ID, Query: n.Query, Depth: n.Depth})
		case models.NodeStatusCompleted:
			snap.CompletedNodes++
		case models.NodeStatusFailed:
			snap.FailedNodes++
		case models.NodeStatusSkipped:
			snap.SkippedNodes++
			continue
		}
		snap.TotalNodes++
		if n.Depth > snap.MaxDepthReached {
			snap.MaxDepthReached = n.Depth
		}
	}
	if snap.TotalNodes > 0 {
		snap.Progress = float64(snap.CompletedNodes) / float64(snap.TotalNodes)
	}

	m.cacheSnapshot(ctx, snap)
	return snap, nil
}

// Snapshot caching (best-effort; failures are logged and ignored).

func (m *Manager) snapshotKey(treeID uuid.UUID) string {
	return fmt.Sprintf("inquest:snapshot:%s", treeID)
}

func (m *Manager) cachedSnapshot(ctx context.Context, treeID uuid.UUID) *Snapshot {
	if m.cache == nil {
		return nil
	}
	data, err := m.cache.Get(ctx, m.snapshotKey(treeID)).Bytes()
	if err != nil {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	return &snap
}

func (m *Manager) cacheSnapshot(ctx context.Context, snap *Snapshot) {
	if m.cache == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, m.snapshotKey(snap.TreeID), data, m.cacheTTL).Err(); err != nil {
		m.logger.Debug("Snapshot cache write failed", zap.Error(err))
	}
}

func (m *Manager) invalidateSnapshot(ctx context.Context, treeID uuid.UUID) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Del(ctx, m.snapshotKey(treeID)).Err(); err != nil {
		m.logger.Debug("Snapshot cache invalidation failed", zap.Error(err))
	}
}
