// Package service is the control surface over the research subsystem:
// start an investigation, poll or stream its progress, fetch its compiled
// result, and cancel it.
package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/chains"
	"github.com/inquest-ai/inquest/internal/compiler"
	"github.com/inquest-ai/inquest/internal/models"
	"github.com/inquest-ai/inquest/internal/scheduler"
	"github.com/inquest-ai/inquest/internal/tree"
)

// Orchestrator wires the tree manager, scheduler, chain reconstructor,
// and result compiler behind one API. Each started tree runs on its own
// goroutine; Shutdown waits for all of them to reach a terminal status.
type Orchestrator struct {
	trees     *tree.Manager
	scheduler *scheduler.Scheduler
	chains    *chains.Reconstructor
	compiler  *compiler.Compiler
	logger    *zap.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	cancels  map[uuid.UUID]context.CancelFunc
	shutdown bool
}

// New creates the orchestrator.
func New(
	trees *tree.Manager,
	sched *scheduler.Scheduler,
	rec *chains.Reconstructor,
	comp *compiler.Compiler,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		trees:     trees,
		scheduler: sched,
		chains:    rec,
		compiler:  comp,
		logger:    logger,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start validates the config, creates the tree, and begins expansion in
// the background. The tree record is returned immediately; progress is
// observable through GetStatus and the event stream.
func (o *Orchestrator) Start(ctx context.Context, rootQuery string, cfg models.TreeConfig) (*models.ResearchTree, error) {
	t, err := o.trees.CreateTree(ctx, rootQuery, cfg)
	if err != nil {
		return nil, err
	}

	// Expansion outlives the creating request; it is bounded by Shutdown,
	// not by the request context.
	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		cancel()
		if err := o.trees.Cancel(ctx, t.ID); err != nil {
			o.logger.Warn("Failed to cancel tree during shutdown",
				zap.String("tree_id", t.ID.String()), zap.Error(err))
		}
		return t, nil
	}
	o.cancels[t.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, t.ID)
			o.mu.Unlock()
			cancel()
		}()
		if err := o.scheduler.Run(runCtx, t.ID); err != nil {
			o.logger.Error("Tree run ended with error",
				zap.String("tree_id", t.ID.String()), zap.Error(err))
		}
	}()

	return t, nil
}

// GetStatus returns a point-in-time progress snapshot.
func (o *Orchestrator) GetStatus(ctx context.Context, treeID uuid.UUID) (*tree.Snapshot, error) {
	return o.trees.Snapshot(ctx, treeID)
}

// GetTree returns the tree record.
func (o *Orchestrator) GetTree(ctx context.Context, treeID uuid.UUID) (*models.ResearchTree, error) {
	return o.trees.GetTree(ctx, treeID)
}

// GetResult compiles the tree's current state into its report structure.
// Compiling a still-running tree is allowed; the result carries the tree
// status so callers can tell a partial report from a final one.
func (o *Orchestrator) GetResult(ctx context.Context, treeID uuid.UUID) (*compiler.TreeResult, error) {
	return o.compiler.Compile(ctx, treeID)
}

// GetChain returns the root-to-node query path for provenance display.
func (o *Orchestrator) GetChain(ctx context.Context, nodeID uuid.UUID) ([]string, error) {
	return o.chains.Chain(ctx, nodeID)
}

// Cancel requests cooperative cancellation of a tree.
func (o *Orchestrator) Cancel(ctx context.Context, treeID uuid.UUID) error {
	return o.trees.Cancel(ctx, treeID)
}

// Shutdown stops accepting new trees and waits for running expansions to
// settle, up to the context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.shutdown = true
	for id, cancel := range o.cancels {
		o.logger.Info("Interrupting tree for shutdown", zap.String("tree_id", id.String()))
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
