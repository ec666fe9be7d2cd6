package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TreeStatus is the lifecycle state of a research tree.
type TreeStatus string

const (
	TreeStatusPending   TreeStatus = "pending"
	TreeStatusRunning   TreeStatus = "running"
	TreeStatusCompleted TreeStatus = "completed"
	TreeStatusFailed    TreeStatus = "failed"
	TreeStatusCancelled TreeStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TreeStatus) Terminal() bool {
	switch s {
	case TreeStatusCompleted, TreeStatusFailed, TreeStatusCancelled:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a single research node.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// SkipReason explains why a node was recorded but never executed.
type SkipReason string

const (
	SkipReasonDuplicate       SkipReason = "duplicate"
	SkipReasonSaturated       SkipReason = "saturated"
	SkipReasonDepthLimit      SkipReason = "depth_limit"
	SkipReasonIrrelevant      SkipReason = "irrelevant"
	SkipReasonMaxNodesReached SkipReason = "max_nodes_reached"
)

// QueryType classifies the investigative direction of a node's query.
type QueryType string

const (
	QueryTypeInitial      QueryType = "initial"
	QueryTypePredecessor  QueryType = "predecessor"
	QueryTypeConsequence  QueryType = "consequence"
	QueryTypeDetail       QueryType = "detail"
	QueryTypeVerification QueryType = "verification"
)

// RejectionReason explains why a follow-up candidate was not promoted to a node.
type RejectionReason string

const (
	RejectDuplicate      RejectionReason = "duplicate"
	RejectBelowThreshold RejectionReason = "below_threshold"
	RejectDisallowedType RejectionReason = "disallowed_type"
)

// ResearchTree is one investigation: a root query plus the expansion tree
// grown beneath it.
type ResearchTree struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	RootQuery string     `db:"root_query" json:"root_query"`
	Config    TreeConfig `db:"-" json:"config"`
	Status    TreeStatus `db:"status" json:"status"`

	// Counters are always recomputable from the node records; the store's
	// RecomputeCounters is the only writer.
	TotalNodes      int `db:"total_nodes" json:"total_nodes"`
	CompletedNodes  int `db:"completed_nodes" json:"completed_nodes"`
	MaxDepthReached int `db:"max_depth_reached" json:"max_depth_reached"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ResearchNode is one unit of research work in the tree.
type ResearchNode struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	TreeID   uuid.UUID  `db:"tree_id" json:"tree_id"`
	ParentID *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`

	Query           string     `db:"query" json:"query"`
	NormalizedQuery string     `db:"normalized_query" json:"normalized_query"`
	QueryType       QueryType  `db:"query_type" json:"query_type"`
	Depth           int        `db:"depth" json:"depth"`
	Status          NodeStatus `db:"status" json:"status"`
	SkipReason      SkipReason `db:"skip_reason" json:"skip_reason,omitempty"`

	SaturationScore  float64 `db:"saturation_score" json:"saturation_score"`
	FindingsCount    int     `db:"findings_count" json:"findings_count"`
	NewEntitiesCount int     `db:"new_entities_count" json:"new_entities_count"`

	ExecutionID  string  `db:"execution_id" json:"execution_id,omitempty"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// FollowUpCandidate is a proposed child query awaiting acceptance. It is
// ephemeral: only accepted candidates become nodes, rejected ones survive
// as audit records.
type FollowUpCandidate struct {
	Query         string    `json:"query"`
	Type          QueryType `json:"type"`
	PriorityScore float64   `json:"priority_score"`
	Reasoning     string    `json:"reasoning,omitempty"`
	FindingID     string    `json:"finding_id,omitempty"`
}

// CandidateAudit records the fate of a follow-up candidate for provenance.
type CandidateAudit struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	TreeID     uuid.UUID       `db:"tree_id" json:"tree_id"`
	NodeID     uuid.UUID       `db:"node_id" json:"node_id"`
	Query      string          `db:"query" json:"query"`
	QueryType  QueryType       `db:"query_type" json:"query_type"`
	Priority   float64         `db:"priority" json:"priority"`
	Reasoning  string          `db:"reasoning" json:"reasoning,omitempty"`
	Accepted   bool            `db:"accepted" json:"accepted"`
	RejectedAs RejectionReason `db:"rejected_as" json:"rejected_as,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Finding is one piece of information produced by the Research Executor.
type Finding struct {
	ID      string  `json:"id,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// ExecutionResult is the Research Executor's output for one query.
type ExecutionResult struct {
	ExecutionID string    `json:"execution_id,omitempty"`
	Findings    []Finding `json:"findings"`
	Entities    []string  `json:"entities"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
}

// NormalizeQuery maps a query to its dedup key: trimmed, case-folded,
// inner whitespace collapsed. Uniqueness of non-skipped nodes within a
// tree is defined over this form.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
