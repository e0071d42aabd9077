// Package postgres stores dedup run reports in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/swdedup/internal/pipeline"
)

const (
	runsTable         = "dedup_runs"
	defaultEntryTable = "dedup_representatives"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ReportStoreConfig controls the Postgres connection pool used for reports.
type ReportStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// ReportStore writes one dedup_runs row per run and one row per
// deduplicated entry into the entry table.
type ReportStore struct {
	pool  txPool
	table string
}

// NewReportStore connects to Postgres using the provided config.
func NewReportStore(ctx context.Context, cfg ReportStoreConfig) (*ReportStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ReportStore{pool: pool, table: table}, nil
}

// NewReportStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewReportStoreWithPool(pool txPool, table string) (*ReportStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ReportStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultEntryTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *ReportStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates both tables if they do not exist.
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	threshold INT NOT NULL,
	files INT NOT NULL,
	hashed INT NOT NULL,
	no_digest INT NOT NULL,
	pairs INT NOT NULL,
	clusters INT NOT NULL,
	deduplicated INT NOT NULL
)`, runsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID NOT NULL REFERENCES %s (run_id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	cluster_size INT NOT NULL,
	urls JSONB NOT NULL,
	PRIMARY KEY (run_id, path)
)`, s.table, runsTable),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveReport inserts the run and its entries in a single transaction.
func (s *ReportStore) SaveReport(ctx context.Context, report pipeline.Report) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("report store is not configured")
	}
	runID, err := uuid.Parse(report.RunID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", report.RunID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin report tx: %w", err)
	}
	if err := s.insert(ctx, tx, runID, report); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit report tx: %w", err)
	}
	return nil
}

func (s *ReportStore) insert(ctx context.Context, tx pgx.Tx, runID uuid.UUID, report pipeline.Report) error {
	runQuery := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	started_at,
	threshold,
	files,
	hashed,
	no_digest,
	pairs,
	clusters,
	deduplicated
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, runsTable)
	if _, err := tx.Exec(ctx, runQuery,
		runID,
		report.StartedAt,
		report.Threshold,
		report.Files,
		len(report.Digests),
		len(report.NoDigest),
		len(report.Pairs),
		len(report.Clusters),
		len(report.Deduplicated),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	entryQuery := fmt.Sprintf(`
INSERT INTO %s (run_id, path, cluster_size, urls) VALUES ($1,$2,$3,$4)`, s.table)
	for _, e := range report.Entries {
		urls := e.URLs
		if urls == nil {
			urls = []string{}
		}
		urlsJSON, err := json.Marshal(urls)
		if err != nil {
			return fmt.Errorf("marshal urls for %s: %w", e.Path, err)
		}
		if _, err := tx.Exec(ctx, entryQuery, runID, e.Path, e.ClusterSize, urlsJSON); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Path, err)
		}
	}
	return nil
}
