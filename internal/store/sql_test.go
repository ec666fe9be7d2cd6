package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/models"
)

func newMockStore(t *testing.T, lockSQL string) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &sqlStore{
		db:      sqlx.NewDb(db, "postgres"),
		logger:  zap.NewNop(),
		lockSQL: lockSQL,
	}, mock
}

const testLockSQL = `SELECT id FROM trees WHERE id = ? FOR UPDATE`

func TestSQLAdmitChildDuplicateRollsNothingIn(t *testing.T) {
	s, mock := newMockStore(t, testLockSQL)
	treeID := uuid.New()
	node := childNode(treeID, uuid.New(), "asked before", 1)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM trees WHERE id = \$1 FOR UPDATE`).
		WithArgs(treeID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM nodes`).
		WithArgs(treeID, node.NormalizedQuery).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	adm, err := s.AdmitChild(context.Background(), treeID, node, 50)
	if err != nil {
		t.Fatalf("AdmitChild: %v", err)
	}
	if adm != AdmissionDuplicate {
		t.Fatalf("admission = %v, want duplicate", adm)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLAdmitChildAcceptedInsertsAndRecomputes(t *testing.T) {
	s, mock := newMockStore(t, testLockSQL)
	treeID := uuid.New()
	node := childNode(treeID, uuid.New(), "fresh question", 1)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM trees WHERE id = \$1 FOR UPDATE`).
		WithArgs(treeID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM nodes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM nodes WHERE tree_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT(.|\n)*FROM nodes WHERE tree_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"total_nodes", "completed_nodes", "pending_nodes", "running_nodes",
			"failed_nodes", "skipped_nodes", "max_depth_reached",
		}).AddRow(2, 1, 1, 0, 0, 0, 1))
	mock.ExpectExec(`UPDATE trees SET total_nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	adm, err := s.AdmitChild(context.Background(), treeID, node, 50)
	if err != nil {
		t.Fatalf("AdmitChild: %v", err)
	}
	if adm != AdmissionAccepted {
		t.Fatalf("admission = %v, want accepted", adm)
	}
	if node.Status != models.NodeStatusPending {
		t.Fatalf("node status = %s, want pending", node.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLAdmitChildAtCapInsertsSkipped(t *testing.T) {
	s, mock := newMockStore(t, testLockSQL)
	treeID := uuid.New()
	node := childNode(treeID, uuid.New(), "over budget", 1)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM trees WHERE id = \$1 FOR UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM nodes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM nodes WHERE tree_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectExec(`INSERT INTO nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT(.|\n)*FROM nodes WHERE tree_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"total_nodes", "completed_nodes", "pending_nodes", "running_nodes",
			"failed_nodes", "skipped_nodes", "max_depth_reached",
		}).AddRow(5, 5, 0, 0, 0, 1, 2))
	mock.ExpectExec(`UPDATE trees SET total_nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	adm, err := s.AdmitChild(context.Background(), treeID, node, 5)
	if err != nil {
		t.Fatalf("AdmitChild: %v", err)
	}
	if adm != AdmissionMaxNodes {
		t.Fatalf("admission = %v, want max nodes", adm)
	}
	if node.Status != models.NodeStatusSkipped || node.SkipReason != models.SkipReasonMaxNodesReached {
		t.Fatalf("node = %+v, want skipped with max_nodes_reached", node)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLAdmitChildErrorYieldsNoAdmission(t *testing.T) {
	s, mock := newMockStore(t, testLockSQL)
	treeID := uuid.New()
	node := childNode(treeID, uuid.New(), "unreachable", 1)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM trees WHERE id = \$1 FOR UPDATE`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	adm, err := s.AdmitChild(context.Background(), treeID, node, 50)
	if err == nil {
		t.Fatal("expected error from failed row lock")
	}
	if adm != AdmissionNone {
		t.Fatalf("admission = %v, want none on the error path", adm)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLCreateTreeStoresConfigAsJSON(t *testing.T) {
	s, mock := newMockStore(t, "")
	now := time.Now()
	tree := &models.ResearchTree{
		ID:        uuid.New(),
		RootQuery: "root q",
		Config:    models.DefaultTreeConfig(),
		Status:    models.TreeStatusPending,
		CreatedAt: now,
	}
	root := &models.ResearchNode{
		ID:              uuid.New(),
		TreeID:          tree.ID,
		Query:           tree.RootQuery,
		NormalizedQuery: models.NormalizeQuery(tree.RootQuery),
		QueryType:       models.QueryTypeInitial,
		Status:          models.NodeStatusPending,
		CreatedAt:       now,
	}
	cfgJSON, err := json.Marshal(tree.Config)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO trees`).
		WithArgs(tree.ID, tree.RootQuery, cfgJSON, "pending", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT(.|\n)*FROM nodes WHERE tree_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"total_nodes", "completed_nodes", "pending_nodes", "running_nodes",
			"failed_nodes", "skipped_nodes", "max_depth_reached",
		}).AddRow(1, 0, 1, 0, 0, 0, 0))
	mock.ExpectExec(`UPDATE trees SET total_nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.CreateTree(context.Background(), tree, root); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLSetTreeStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t, "")
	id := uuid.New()

	mock.ExpectExec(`UPDATE trees SET status = \$1, completed_at = \$2 WHERE id = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetTreeStatus(context.Background(), id, models.TreeStatusCompleted, time.Now())
	if !errors.Is(err, ErrTreeNotFound) {
		t.Fatalf("err = %v, want ErrTreeNotFound", err)
	}
}

func TestSQLGetTreeDecodesConfig(t *testing.T) {
	s, mock := newMockStore(t, "")
	id := uuid.New()
	cfg, _ := json.Marshal(models.DefaultTreeConfig())
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM trees WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "root_query", "config", "status",
			"total_nodes", "completed_nodes", "max_depth_reached",
			"created_at", "started_at", "completed_at",
		}).AddRow(id, "root q", cfg, "running", 3, 1, 1, now, &now, nil))

	tree, err := s.GetTree(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if tree.Status != models.TreeStatusRunning || tree.TotalNodes != 3 {
		t.Fatalf("tree = %+v", tree)
	}
	if tree.Config.DepthLimit != models.DefaultTreeConfig().DepthLimit {
		t.Fatalf("config not decoded: %+v", tree.Config)
	}
}

func TestSQLGetTreeNotFound(t *testing.T) {
	s, mock := newMockStore(t, "")
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM trees WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetTree(context.Background(), id); !errors.Is(err, ErrTreeNotFound) {
		t.Fatalf("err = %v, want ErrTreeNotFound", err)
	}
}
