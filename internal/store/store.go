// Package store persists research trees and nodes. Nodes are append-only
// records: they are never deleted, only moved to a terminal status, which
// doubles as the audit history for the whole investigation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/inquest-ai/inquest/internal/models"
)

var (
	// ErrTreeNotFound is returned when a tree doesn't exist
	ErrTreeNotFound = errors.New("tree not found")

	// ErrNodeNotFound is returned when a node doesn't exist
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateQuery is returned when a non-skipped node with the same
	// normalized query already exists in the tree
	ErrDuplicateQuery = errors.New("duplicate normalized query")
)

// Admission is the outcome of attempting to add a child node to a tree.
type Admission int

const (
	// AdmissionNone is the zero value, returned only alongside an error.
	AdmissionNone Admission = iota
	// AdmissionAccepted: the node was created in pending state.
	AdmissionAccepted
	// AdmissionDuplicate: a non-skipped node with the same normalized query
	// already exists; no node was created.
	AdmissionDuplicate
	// AdmissionMaxNodes: the tree is at its node budget; the node was
	// recorded as skipped with reason max_nodes_reached.
	AdmissionMaxNodes
)

// String returns the string representation of an Admission.
func (a Admission) String() string {
	switch a {
	case AdmissionAccepted:
		return "accepted"
	case AdmissionDuplicate:
		return "duplicate"
	case AdmissionMaxNodes:
		return "max_nodes_reached"
	default:
		return "unknown"
	}
}

// Counters is the aggregate state of a tree, always recomputed from its
// node records. Skipped nodes are excluded from TotalNodes: they are audit
// records of work that was declined, not units of research.
type Counters struct {
	TotalNodes      int `json:"total_nodes" db:"total_nodes"`
	CompletedNodes  int `json:"completed_nodes" db:"completed_nodes"`
	PendingNodes    int `json:"pending_nodes" db:"pending_nodes"`
	RunningNodes    int `json:"running_nodes" db:"running_nodes"`
	FailedNodes     int `json:"failed_nodes" db:"failed_nodes"`
	SkippedNodes    int `json:"skipped_nodes" db:"skipped_nodes"`
	MaxDepthReached int `json:"max_depth_reached" db:"max_depth_reached"`
}

// Store is the durable record of trees, nodes, and candidate audits.
// AdmitChild and RecomputeCounters are the serialization points for the
// shared state (seen-query set, counters) that concurrent node tasks
// would otherwise race on.
type Store interface {
	// CreateTree persists the tree and its root node in one transaction.
	// If the root cannot be persisted, no tree record remains.
	CreateTree(ctx context.Context, tree *models.ResearchTree, root *models.ResearchNode) error

	GetTree(ctx context.Context, id uuid.UUID) (*models.ResearchTree, error)

	// SetTreeStatus records a status change; transition legality is the
	// tree manager's concern, not the store's.
	SetTreeStatus(ctx context.Context, id uuid.UUID, status models.TreeStatus, at time.Time) error

	// AdmitChild atomically applies duplicate suppression and the node
	// budget, then inserts the node (or records it as skipped).
	AdmitChild(ctx context.Context, treeID uuid.UUID, node *models.ResearchNode, maxNodes int) (Admission, error)

	UpdateNode(ctx context.Context, node *models.ResearchNode) error
	GetNode(ctx context.Context, id uuid.UUID) (*models.ResearchNode, error)
	ListNodes(ctx context.Context, treeID uuid.UUID) ([]*models.ResearchNode, error)

	// PendingAtDepth returns all pending nodes of the tree at the given depth.
	PendingAtDepth(ctx context.Context, treeID uuid.UUID, depth int) ([]*models.ResearchNode, error)

	// SeenQueries returns the normalized queries of all non-skipped nodes.
	SeenQueries(ctx context.Context, treeID uuid.UUID) (map[string]struct{}, error)

	// RecomputeCounters rebuilds the tree's aggregate counters from its node
	// records and persists them on the tree row.
	RecomputeCounters(ctx context.Context, treeID uuid.UUID) (Counters, error)

	SaveCandidateAudit(ctx context.Context, audit *models.CandidateAudit) error
	ListCandidateAudits(ctx context.Context, nodeID uuid.UUID) ([]*models.CandidateAudit, error)

	Close() error
}
