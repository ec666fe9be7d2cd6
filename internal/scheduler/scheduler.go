// Package scheduler drives breadth-first expansion of a research tree,
// level by level with bounded concurrency inside a level and a full
// barrier between levels. Dedup decisions for level N+1 always see
// every query resolved at level N.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inquest-ai/inquest/internal/candidates"
	"github.com/inquest-ai/inquest/internal/metrics"
	"github.com/inquest-ai/inquest/internal/models"
	"github.com/inquest-ai/inquest/internal/research"
	"github.com/inquest-ai/inquest/internal/saturation"
	"github.com/inquest-ai/inquest/internal/store"
	"github.com/inquest-ai/inquest/internal/streaming"
	"github.com/inquest-ai/inquest/internal/tree"
)

// Scheduler expands one tree at a time through its node lifecycle:
// pending -> running -> {completed | failed | skipped}.
type Scheduler struct {
	store     store.Store
	trees     *tree.Manager
	executor  research.Executor
	proposer  research.Proposer
	estimator saturation.Estimator
	events    *streaming.Manager
	logger    *zap.Logger
}

// New creates a scheduler. events may be nil to disable progress publication.
func New(
	st store.Store,
	trees *tree.Manager,
	executor research.Executor,
	proposer research.Proposer,
	estimator saturation.Estimator,
	events *streaming.Manager,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		store:     st,
		trees:     trees,
		executor:  executor,
		proposer:  proposer,
		estimator: estimator,
		events:    events,
		logger:    logger,
	}
}

// Run executes the tree to a terminal status. Node-level failures are
// recorded and never abort siblings or the tree; only failure to get the
// root level off the ground fails the tree itself.
func (s *Scheduler) Run(ctx context.Context, treeID uuid.UUID) error {
	t, err := s.store.GetTree(ctx, treeID)
	if err != nil {
		return fmt.Errorf("load tree: %w", err)
	}
	cfg := t.Config

	if err := s.trees.MarkRunning(ctx, treeID); err != nil {
		return err
	}
	defer s.estimator.Forget(treeID)

	cause := "exhausted"
	for level := 0; level < cfg.DepthLimit; level++ {
		if err := ctx.Err(); err != nil {
			// Process shutdown. The terminal write must outlive the dead
			// context so the tree does not stay running forever.
			bg := context.WithoutCancel(ctx)
			if terr := s.trees.MarkTerminal(bg, treeID, models.TreeStatusCancelled); terr != nil {
				s.logger.Error("Failed to cancel tree on shutdown",
					zap.String("tree_id", treeID.String()), zap.Error(terr))
			}
			return err
		}
		if cancelled, err := s.treeCancelled(ctx, treeID); err != nil {
			return s.failTree(ctx, treeID, fmt.Errorf("check cancellation: %w", err))
		} else if cancelled {
			// Cancel already moved the tree terminal; in-flight work has settled.
			return nil
		}

		pending, err := s.store.PendingAtDepth(ctx, treeID, level)
		if err != nil {
			if level == 0 {
				return s.failTree(ctx, treeID, fmt.Errorf("fetch root level: %w", err))
			}
			return s.failTree(ctx, treeID, fmt.Errorf("fetch level %d: %w", level, err))
		}
		if len(pending) == 0 {
			// Natural termination: the tree saturated or ran out of candidates.
			break
		}

		levelStart := time.Now()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.ParallelNodes)
		for _, node := range pending {
			node := node
			g.Go(func() error {
				// A cancel can land while the level is mid-flight. Nodes
				// that have not started yet stay pending, so at most
				// ParallelNodes in-flight executions finish after cancel.
				if cancelled, err := s.treeCancelled(gctx, treeID); err == nil && cancelled {
					return nil
				}
				s.processNode(gctx, cfg, node)
				return nil
			})
		}
		// Level barrier: every node reaches a terminal state before the
		// next level's dedup decisions are made.
		_ = g.Wait()

		counters, err := s.store.RecomputeCounters(ctx, treeID)
		if err != nil {
			return s.failTree(ctx, treeID, fmt.Errorf("recompute counters: %w", err))
		}
		metrics.LevelDuration.Observe(time.Since(levelStart).Seconds())
		s.publish(streaming.Event{
			TreeID:    treeID.String(),
			Type:      streaming.EventLevelSettled,
			Depth:     level,
			Total:     counters.TotalNodes,
			Completed: counters.CompletedNodes,
		})
		s.logger.Info("Level settled",
			zap.String("tree_id", treeID.String()),
			zap.Int("level", level),
			zap.Int("nodes", len(pending)),
			zap.Int("total_nodes", counters.TotalNodes),
		)

		if counters.TotalNodes >= cfg.MaxNodes {
			cause = "max_nodes"
			break
		}
		if level == cfg.DepthLimit-1 {
			cause = "depth_limit"
		}
	}

	if cancelled, err := s.treeCancelled(ctx, treeID); err == nil && cancelled {
		return nil
	}
	if err := s.trees.MarkTerminal(ctx, treeID, models.TreeStatusCompleted); err != nil {
		return err
	}
	s.logger.Info("Tree completed",
		zap.String("tree_id", treeID.String()),
		zap.String("cause", cause),
	)
	return nil
}

// processNode runs the per-node procedure: execute research, score
// saturation, and, below the cutoff, propose/filter/admit children.
// All failures terminate only this node.
func (s *Scheduler) processNode(ctx context.Context, cfg models.TreeConfig, node *models.ResearchNode) {
	start := time.Now()
	metrics.NodesInFlight.Inc()
	defer metrics.NodesInFlight.Dec()

	node.Status = models.NodeStatusRunning
	node.StartedAt = &start
	if err := s.store.UpdateNode(ctx, node); err != nil {
		s.logger.Error("Failed to mark node running",
			zap.String("node_id", node.ID.String()), zap.Error(err))
		return
	}
	s.publish(streaming.Event{
		TreeID: node.TreeID.String(),
		Type:   streaming.EventNodeStarted,
		NodeID: node.ID.String(),
		Query:  node.Query,
		Depth:  node.Depth,
	})

	result, err := s.executor.Execute(ctx, node.Query)
	if err != nil {
		s.failNode(ctx, node, start, err)
		return
	}

	assessment, err := s.estimator.Estimate(ctx, node.TreeID, node.Query, result)
	if err != nil {
		s.failNode(ctx, node, start, fmt.Errorf("estimate saturation: %w", err))
		return
	}
	node.SaturationScore = assessment.Score
	node.FindingsCount = len(result.Findings)
	node.NewEntitiesCount = assessment.NewEntities
	node.ExecutionID = result.ExecutionID

	expand := assessment.Score < cfg.SaturationThreshold && node.Depth+1 < cfg.DepthLimit
	if expand {
		if err := s.expandNode(ctx, cfg, node, result); err != nil {
			s.failNode(ctx, node, start, err)
			return
		}
	}

	now := time.Now()
	node.Status = models.NodeStatusCompleted
	node.CompletedAt = &now
	if err := s.store.UpdateNode(ctx, node); err != nil {
		s.logger.Error("Failed to mark node completed",
			zap.String("node_id", node.ID.String()), zap.Error(err))
		return
	}
	metrics.RecordNodeMetrics(string(models.NodeStatusCompleted), now.Sub(start).Seconds(), node.SaturationScore)
	s.publish(streaming.Event{
		TreeID:  node.TreeID.String(),
		Type:    streaming.EventNodeCompleted,
		NodeID:  node.ID.String(),
		Query:   node.Query,
		Depth:   node.Depth,
		Message: fmt.Sprintf("saturation=%.2f findings=%d", node.SaturationScore, node.FindingsCount),
	})
}

// expandNode proposes follow-ups, filters them, and admits survivors as
// pending children at depth+1. Admission is the serialization point for
// the seen-query set, so a duplicate slipping past the filter (proposed
// concurrently by a sibling) is still caught here.
func (s *Scheduler) expandNode(ctx context.Context, cfg models.TreeConfig, node *models.ResearchNode, result *models.ExecutionResult) error {
	seen, err := s.store.SeenQueries(ctx, node.TreeID)
	if err != nil {
		return fmt.Errorf("seen queries: %w", err)
	}
	seenList := make([]string, 0, len(seen))
	for q := range seen {
		seenList = append(seenList, q)
	}

	proposed, err := s.proposer.Propose(ctx, research.ProposalRequest{
		Query:        node.Query,
		Findings:     result.Findings,
		AllowedTypes: cfg.FollowUpTypes,
		SeenQueries:  seenList,
		MaxProposals: cfg.MaxFollowUpsPerNode,
	})
	if err != nil {
		return err
	}

	filtered := candidates.Filter(proposed, cfg, seen)

	for _, rej := range filtered.Rejected {
		metrics.RecordCandidateRejection(string(rej.Reason))
		s.auditCandidate(ctx, node, rej.Candidate, false, rej.Reason)
	}

	for _, cand := range filtered.Accepted {
		child := &models.ResearchNode{
			ID:              uuid.New(),
			TreeID:          node.TreeID,
			ParentID:        &node.ID,
			Query:           cand.Query,
			NormalizedQuery: models.NormalizeQuery(cand.Query),
			QueryType:       cand.Type,
			Depth:           node.Depth + 1,
			Status:          models.NodeStatusPending,
			CreatedAt:       time.Now(),
		}
		admission, err := s.store.AdmitChild(ctx, node.TreeID, child, cfg.MaxNodes)
		if err != nil {
			return fmt.Errorf("admit child: %w", err)
		}
		switch admission {
		case store.AdmissionAccepted:
			metrics.CandidatesAccepted.Inc()
			s.auditCandidate(ctx, node, cand, true, "")
		case store.AdmissionDuplicate:
			// A sibling resolved the same query first.
			metrics.RecordCandidateRejection(string(models.RejectDuplicate))
			s.auditCandidate(ctx, node, cand, false, models.RejectDuplicate)
		case store.AdmissionMaxNodes:
			// Recorded as a skipped node: budget exhaustion stays auditable.
			metrics.NodesProcessed.WithLabelValues(string(models.NodeStatusSkipped)).Inc()
			s.publish(streaming.Event{
				TreeID:  node.TreeID.String(),
				Type:    streaming.EventNodeSkipped,
				NodeID:  child.ID.String(),
				Query:   child.Query,
				Depth:   child.Depth,
				Message: string(models.SkipReasonMaxNodesReached),
			})
		}
	}
	return nil
}

func (s *Scheduler) failNode(ctx context.Context, node *models.ResearchNode, start time.Time, cause error) {
	now := time.Now()
	msg := cause.Error()
	node.Status = models.NodeStatusFailed
	node.ErrorMessage = &msg
	node.CompletedAt = &now
	if err := s.store.UpdateNode(ctx, node); err != nil {
		s.logger.Error("Failed to record node failure",
			zap.String("node_id", node.ID.String()), zap.Error(err))
		return
	}
	metrics.RecordNodeMetrics(string(models.NodeStatusFailed), now.Sub(start).Seconds(), -1)
	s.publish(streaming.Event{
		TreeID:  node.TreeID.String(),
		Type:    streaming.EventNodeFailed,
		NodeID:  node.ID.String(),
		Query:   node.Query,
		Depth:   node.Depth,
		Message: msg,
	})
	s.logger.Warn("Node failed",
		zap.String("tree_id", node.TreeID.String()),
		zap.String("node_id", node.ID.String()),
		zap.String("query", node.Query),
		zap.Error(cause),
	)
}

func (s *Scheduler) auditCandidate(ctx context.Context, node *models.ResearchNode, cand models.FollowUpCandidate, accepted bool, reason models.RejectionReason) {
	audit := &models.CandidateAudit{
		ID:         uuid.New(),
		TreeID:     node.TreeID,
		NodeID:     node.ID,
		Query:      cand.Query,
		QueryType:  cand.Type,
		Priority:   cand.PriorityScore,
		Reasoning:  cand.Reasoning,
		Accepted:   accepted,
		RejectedAs: reason,
		CreatedAt:  time.Now(),
	}
	if err := s.store.SaveCandidateAudit(ctx, audit); err != nil {
		s.logger.Warn("Failed to save candidate audit",
			zap.String("node_id", node.ID.String()), zap.Error(err))
	}
}

func (s *Scheduler) treeCancelled(ctx context.Context, treeID uuid.UUID) (bool, error) {
	t, err := s.store.GetTree(ctx, treeID)
	if err != nil {
		return false, err
	}
	return t.Status == models.TreeStatusCancelled, nil
}

func (s *Scheduler) failTree(ctx context.Context, treeID uuid.UUID, cause error) error {
	if err := s.trees.MarkTerminal(ctx, treeID, models.TreeStatusFailed); err != nil {
		s.logger.Error("Failed to mark tree failed",
			zap.String("tree_id", treeID.String()), zap.Error(err))
	}
	s.logger.Error("Tree failed", zap.String("tree_id", treeID.String()), zap.Error(cause))
	return cause
}

func (s *Scheduler) publish(evt streaming.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(evt.TreeID, evt)
}
