package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trees (
	id                TEXT PRIMARY KEY,
	root_query        TEXT NOT NULL,
	config            TEXT,
	status            TEXT NOT NULL,
	total_nodes       INTEGER NOT NULL DEFAULT 0,
	completed_nodes   INTEGER NOT NULL DEFAULT 0,
	max_depth_reached INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL,
	started_at        TIMESTAMP,
	completed_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS nodes (
	id                 TEXT PRIMARY KEY,
	tree_id            TEXT NOT NULL REFERENCES trees(id),
	parent_id          TEXT REFERENCES nodes(id),
	query              TEXT NOT NULL,
	normalized_query   TEXT NOT NULL,
	query_type         TEXT NOT NULL,
	depth              INTEGER NOT NULL,
	status             TEXT NOT NULL,
	skip_reason        TEXT NOT NULL DEFAULT '',
	saturation_score   REAL NOT NULL DEFAULT 0,
	findings_count     INTEGER NOT NULL DEFAULT 0,
	new_entities_count INTEGER NOT NULL DEFAULT 0,
	execution_id       TEXT NOT NULL DEFAULT '',
	error_message      TEXT,
	created_at         TIMESTAMP NOT NULL,
	started_at         TIMESTAMP,
	completed_at       TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS nodes_tree_query_live
	ON nodes (tree_id, normalized_query) WHERE status != 'skipped';
CREATE INDEX IF NOT EXISTS nodes_tree_depth ON nodes (tree_id, depth, status);

CREATE TABLE IF NOT EXISTS candidate_audits (
	id          TEXT PRIMARY KEY,
	tree_id     TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	query       TEXT NOT NULL,
	query_type  TEXT NOT NULL,
	priority    REAL NOT NULL,
	reasoning   TEXT NOT NULL DEFAULT '',
	accepted    BOOLEAN NOT NULL,
	rejected_as TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS candidate_audits_node ON candidate_audits (node_id);
`

// NewSQLiteStore opens a SQLite-backed store for single-binary deployments.
// Path ":memory:" gives an ephemeral store.
func NewSQLiteStore(path string, logger *zap.Logger) (Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Info("SQLite store initialized", zap.String("path", path))

	return &sqlStore{db: db, logger: logger}, nil
}
