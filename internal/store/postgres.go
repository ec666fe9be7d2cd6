package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresConfig holds database connection configuration
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trees (
	id                UUID PRIMARY KEY,
	root_query        TEXT NOT NULL,
	config            JSONB,
	status            TEXT NOT NULL,
	total_nodes       INT NOT NULL DEFAULT 0,
	completed_nodes   INT NOT NULL DEFAULT 0,
	max_depth_reached INT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS nodes (
	id                 UUID PRIMARY KEY,
	tree_id            UUID NOT NULL REFERENCES trees(id),
	parent_id          UUID REFERENCES nodes(id),
	query              TEXT NOT NULL,
	normalized_query   TEXT NOT NULL,
	query_type         TEXT NOT NULL,
	depth              INT NOT NULL,
	status             TEXT NOT NULL,
	skip_reason        TEXT NOT NULL DEFAULT '',
	saturation_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	findings_count     INT NOT NULL DEFAULT 0,
	new_entities_count INT NOT NULL DEFAULT 0,
	execution_id       TEXT NOT NULL DEFAULT '',
	error_message      TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ
);

-- Uniqueness of live queries within a tree; skipped nodes are audit records.
CREATE UNIQUE INDEX IF NOT EXISTS nodes_tree_query_live
	ON nodes (tree_id, normalized_query) WHERE status != 'skipped';
CREATE INDEX IF NOT EXISTS nodes_tree_depth ON nodes (tree_id, depth, status);

CREATE TABLE IF NOT EXISTS candidate_audits (
	id         UUID PRIMARY KEY,
	tree_id    UUID NOT NULL,
	node_id    UUID NOT NULL,
	query      TEXT NOT NULL,
	query_type TEXT NOT NULL,
	priority   DOUBLE PRECISION NOT NULL,
	reasoning  TEXT NOT NULL DEFAULT '',
	accepted   BOOLEAN NOT NULL,
	rejected_as TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS candidate_audits_node ON candidate_audits (node_id);
`

// NewPostgresStore opens a Postgres-backed store and ensures the schema.
func NewPostgresStore(cfg *PostgresConfig, logger *zap.Logger) (Store, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Info("Postgres store initialized",
		zap.String("host", cfg.Host),
		zap.Int("max_connections", cfg.MaxConnections),
	)

	return &sqlStore{
		db:      db,
		logger:  logger,
		lockSQL: `SELECT id FROM trees WHERE id = ? FOR UPDATE`,
	}, nil
}
