package tree

import (
	"time"

	"github.com/google/uuid"

	"github.com/inquest-ai/inquest/internal/models"
)

// RunningNode identifies a node currently executing, for progress display.
type RunningNode struct {
	ID    uuid.UUID `json:"id"`
	Query string    `json:"query"`
	Depth int       `json:"depth"`
}

// Snapshot is a point-in-time, read-only view of a tree's progress.
// It is eventually consistent: computing it never blocks node execution.
type Snapshot struct {
	TreeID          uuid.UUID         `json:"tree_id"`
	Status          models.TreeStatus `json:"status"`
	TotalNodes      int               `json:"total_nodes"`
	CompletedNodes  int               `json:"completed_nodes"`
	PendingNodes    int               `json:"pending_nodes"`
	FailedNodes     int               `json:"failed_nodes"`
	SkippedNodes    int               `json:"skipped_nodes"`
	MaxDepthReached int               `json:"max_depth_reached"`
	Progress        float64           `json:"progress"`
	Running         []RunningNode     `json:"running_nodes"`
	TakenAt         time.Time         `json:"taken_at"`
}
