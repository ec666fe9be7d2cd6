package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/models"
)

// sqlStore implements Store over Postgres or SQLite through sqlx.
// Dialect differences are limited to the schema DDL and the row-locking
// statement used to serialize AdmitChild.
type sqlStore struct {
	db      *sqlx.DB
	logger  *zap.Logger
	lockSQL string // empty when the backend serializes writes itself
}

// treeRow is the flat shape of the trees table; Config rides through its
// Valuer/Scanner as one JSON column.
type treeRow struct {
	ID              uuid.UUID         `db:"id"`
	RootQuery       string            `db:"root_query"`
	Config          models.TreeConfig `db:"config"`
	Status          string            `db:"status"`
	TotalNodes      int               `db:"total_nodes"`
	CompletedNodes  int               `db:"completed_nodes"`
	MaxDepthReached int               `db:"max_depth_reached"`
	CreatedAt       time.Time         `db:"created_at"`
	StartedAt       *time.Time        `db:"started_at"`
	CompletedAt     *time.Time        `db:"completed_at"`
}

func (r *treeRow) toModel() *models.ResearchTree {
	return &models.ResearchTree{
		ID:              r.ID,
		RootQuery:       r.RootQuery,
		Config:          r.Config,
		Status:          models.TreeStatus(r.Status),
		TotalNodes:      r.TotalNodes,
		CompletedNodes:  r.CompletedNodes,
		MaxDepthReached: r.MaxDepthReached,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

func (s *sqlStore) CreateTree(ctx context.Context, tree *models.ResearchTree, root *models.ResearchNode) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO trees (id, root_query, config, status, total_nodes, completed_nodes, max_depth_reached, created_at)
			VALUES (?, ?, ?, ?, 0, 0, 0, ?)`),
			tree.ID, tree.RootQuery, tree.Config, string(tree.Status), tree.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert tree: %w", err)
		}
		if err := insertNode(ctx, tx, root); err != nil {
			return fmt.Errorf("insert root node: %w", err)
		}
		_, err = recomputeCountersTx(ctx, tx, tree.ID)
		return err
	})
}

func (s *sqlStore) GetTree(ctx context.Context, id uuid.UUID) (*models.ResearchTree, error) {
	var row treeRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM trees WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTreeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	return row.toModel(), nil
}

func (s *sqlStore) SetTreeStatus(ctx context.Context, id uuid.UUID, status models.TreeStatus, at time.Time) error {
	var res sql.Result
	var err error
	switch status {
	case models.TreeStatusRunning:
		res, err = s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE trees SET status = ?, started_at = ? WHERE id = ?`), string(status), at, id)
	case models.TreeStatusCompleted, models.TreeStatusFailed, models.TreeStatusCancelled:
		res, err = s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE trees SET status = ?, completed_at = ? WHERE id = ?`), string(status), at, id)
	default:
		res, err = s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE trees SET status = ? WHERE id = ?`), string(status), id)
	}
	if err != nil {
		return fmt.Errorf("set tree status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTreeNotFound
	}
	return nil
}

func (s *sqlStore) AdmitChild(ctx context.Context, treeID uuid.UUID, node *models.ResearchNode, maxNodes int) (Admission, error) {
	admission := AdmissionAccepted
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if s.lockSQL != "" {
			if _, err := tx.ExecContext(ctx, tx.Rebind(s.lockSQL), treeID); err != nil {
				return fmt.Errorf("lock tree row: %w", err)
			}
		}

		var dup int
		err := tx.GetContext(ctx, &dup, tx.Rebind(`
			SELECT COUNT(*) FROM nodes
			WHERE tree_id = ? AND status != 'skipped' AND normalized_query = ?`),
			treeID, node.NormalizedQuery,
		)
		if err != nil {
			return fmt.Errorf("duplicate check: %w", err)
		}
		if dup > 0 {
			admission = AdmissionDuplicate
			return nil
		}

		var countable int
		err = tx.GetContext(ctx, &countable, tx.Rebind(`
			SELECT COUNT(*) FROM nodes WHERE tree_id = ? AND status != 'skipped'`),
			treeID,
		)
		if err != nil {
			return fmt.Errorf("node count: %w", err)
		}
		if countable >= maxNodes {
			node.Status = models.NodeStatusSkipped
			node.SkipReason = models.SkipReasonMaxNodesReached
			admission = AdmissionMaxNodes
		}

		if err := insertNode(ctx, tx, node); err != nil {
			return err
		}
		_, err = recomputeCountersTx(ctx, tx, treeID)
		return err
	})
	if err != nil {
		return AdmissionNone, err
	}
	return admission, nil
}

func insertNode(ctx context.Context, tx *sqlx.Tx, n *models.ResearchNode) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO nodes (
			id, tree_id, parent_id, query, normalized_query, query_type, depth,
			status, skip_reason, saturation_score, findings_count, new_entities_count,
			execution_id, error_message, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.TreeID, n.ParentID, n.Query, n.NormalizedQuery, string(n.QueryType), n.Depth,
		string(n.Status), string(n.SkipReason), n.SaturationScore, n.FindingsCount, n.NewEntitiesCount,
		n.ExecutionID, n.ErrorMessage, n.CreatedAt, n.StartedAt, n.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateNode(ctx context.Context, n *models.ResearchNode) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE nodes SET
				status = ?, skip_reason = ?, saturation_score = ?, findings_count = ?,
				new_entities_count = ?, execution_id = ?, error_message = ?,
				started_at = ?, completed_at = ?
			WHERE id = ?`),
			string(n.Status), string(n.SkipReason), n.SaturationScore, n.FindingsCount,
			n.NewEntitiesCount, n.ExecutionID, n.ErrorMessage,
			n.StartedAt, n.CompletedAt, n.ID,
		)
		if err != nil {
			return fmt.Errorf("update node: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrNodeNotFound
		}
		_, err = recomputeCountersTx(ctx, tx, n.TreeID)
		return err
	})
}

func (s *sqlStore) GetNode(ctx context.Context, id uuid.UUID) (*models.ResearchNode, error) {
	var n models.ResearchNode
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT * FROM nodes WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return &n, nil
}

func (s *sqlStore) ListNodes(ctx context.Context, treeID uuid.UUID) ([]*models.ResearchNode, error) {
	var nodes []*models.ResearchNode
	err := s.db.SelectContext(ctx, &nodes, s.db.Rebind(`
		SELECT * FROM nodes WHERE tree_id = ? ORDER BY depth, created_at`), treeID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	if len(nodes) == 0 {
		// Distinguish empty tree from missing tree.
		if _, err := s.GetTree(ctx, treeID); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

func (s *sqlStore) PendingAtDepth(ctx context.Context, treeID uuid.UUID, depth int) ([]*models.ResearchNode, error) {
	var nodes []*models.ResearchNode
	err := s.db.SelectContext(ctx, &nodes, s.db.Rebind(`
		SELECT * FROM nodes
		WHERE tree_id = ? AND depth = ? AND status = 'pending'
		ORDER BY created_at`), treeID, depth)
	if err != nil {
		return nil, fmt.Errorf("pending at depth: %w", err)
	}
	return nodes, nil
}

func (s *sqlStore) SeenQueries(ctx context.Context, treeID uuid.UUID) (map[string]struct{}, error) {
	var queries []string
	err := s.db.SelectContext(ctx, &queries, s.db.Rebind(`
		SELECT normalized_query FROM nodes WHERE tree_id = ? AND status != 'skipped'`), treeID)
	if err != nil {
		return nil, fmt.Errorf("seen queries: %w", err)
	}
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		seen[q] = struct{}{}
	}
	return seen, nil
}

func (s *sqlStore) RecomputeCounters(ctx context.Context, treeID uuid.UUID) (Counters, error) {
	var c Counters
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		c, err = recomputeCountersTx(ctx, tx, treeID)
		return err
	})
	return c, err
}

func recomputeCountersTx(ctx context.Context, tx *sqlx.Tx, treeID uuid.UUID) (Counters, error) {
	var c Counters
	err := tx.GetContext(ctx, &c, tx.Rebind(`
		SELECT
			COUNT(*) FILTER (WHERE status != 'skipped')                    AS total_nodes,
			COUNT(*) FILTER (WHERE status = 'completed')                   AS completed_nodes,
			COUNT(*) FILTER (WHERE status = 'pending')                     AS pending_nodes,
			COUNT(*) FILTER (WHERE status = 'running')                     AS running_nodes,
			COUNT(*) FILTER (WHERE status = 'failed')                      AS failed_nodes,
			COUNT(*) FILTER (WHERE status = 'skipped')                     AS skipped_nodes,
			COALESCE(MAX(depth) FILTER (WHERE status != 'skipped'), 0)     AS max_depth_reached
		FROM nodes WHERE tree_id = ?`), treeID)
	if err != nil {
		return c, fmt.Errorf("recompute counters: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE trees SET total_nodes = ?, completed_nodes = ?, max_depth_reached = ?
		WHERE id = ?`),
		c.TotalNodes, c.CompletedNodes, c.MaxDepthReached, treeID)
	if err != nil {
		return c, fmt.Errorf("persist counters: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return c, ErrTreeNotFound
	}
	return c, nil
}

func (s *sqlStore) SaveCandidateAudit(ctx context.Context, a *models.CandidateAudit) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO candidate_audits (id, tree_id, node_id, query, query_type, priority, reasoning, accepted, rejected_as, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.TreeID, a.NodeID, a.Query, string(a.QueryType), a.Priority, a.Reasoning, a.Accepted, string(a.RejectedAs), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save candidate audit: %w", err)
	}
	return nil
}

func (s *sqlStore) ListCandidateAudits(ctx context.Context, nodeID uuid.UUID) ([]*models.CandidateAudit, error) {
	var out []*models.CandidateAudit
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT * FROM candidate_audits WHERE node_id = ? ORDER BY created_at`), nodeID)
	if err != nil {
		return nil, fmt.Errorf("list candidate audits: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction with rollback on error or panic.
func (s *sqlStore) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}
