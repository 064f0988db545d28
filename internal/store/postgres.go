package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/matchguard/internal/db"
	"github.com/sells-group/matchguard/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_run":              `SELECT data FROM runs WHERE id = $1`,
	"list_gates":           `SELECT data FROM run_gates WHERE run_id = $1 ORDER BY seq`,
	"insert_investigation": `INSERT INTO investigations (id, run_id, metric, severity, status, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
	"list_review":          `SELECT data FROM review_queue WHERE run_id = $1 ORDER BY confidence, match_id`,
	"get_quality":          `SELECT data FROM quality_reports WHERE run_id = $1`,
}

var gateColumns = []string{"run_id", "seq", "stage", "status", "confidence", "data", "created_at"}

var reviewColumns = []string{"run_id", "match_id", "entity_key", "reason", "status", "confidence", "data"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ NOT NULL,
	final_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_queue_size INTEGER NOT NULL DEFAULT 0,
	data              JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS run_gates (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS investigations (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	metric     TEXT NOT NULL,
	severity   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_queue (
	run_id     TEXT NOT NULL,
	match_id   TEXT NOT NULL,
	entity_key TEXT NOT NULL,
	reason     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	data       JSONB NOT NULL,
	PRIMARY KEY (run_id, match_id)
);

CREATE TABLE IF NOT EXISTS quality_reports (
	run_id       TEXT PRIMARY KEY,
	data         JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_investigations_run_id ON investigations(run_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.PipelineRun) error {
	if run == nil || run.ID == "" {
		return eris.New("postgres: save run: missing id")
	}
	runJSON, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}

	gateRows := make([][]any, 0, len(run.Gates))
	for i, g := range run.Gates {
		gateJSON, err := json.Marshal(g)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal gate")
		}
		gateRows = append(gateRows, []any{run.ID, i, string(g.Stage), string(g.Status), g.Confidence, gateJSON, g.Timestamp.UTC()})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, status, started_at, completed_at, final_confidence, review_queue_size, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at,
		 final_confidence = EXCLUDED.final_confidence, review_queue_size = EXCLUDED.review_queue_size,
		 data = EXCLUDED.data`,
		run.ID, string(run.OverallStatus), run.StartedAt.UTC(), run.CompletedAt.UTC(),
		run.FinalConfidence, run.ReviewQueueSize, runJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert run %s", run.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM run_gates WHERE run_id = $1`, run.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear gates %s", run.ID)
	}
	if _, err := db.CopyFrom(ctx, tx, "run_gates", gateColumns, gateRows); err != nil {
		return eris.Wrapf(err, "postgres: copy gates %s", run.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM runs WHERE id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	var r model.PipelineRun
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run")
	}

	rows, err := s.pool.Query(ctx, `SELECT data FROM run_gates WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list gates %s", runID)
	}
	gates, err := collectJSON[model.ValidationGate](rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan gates")
	}
	r.Gates = gates
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT data FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	runs, err := collectJSON[model.PipelineRun](rows)
	return runs, eris.Wrap(err, "postgres: scan runs")
}

func (s *PostgresStore) SaveInvestigation(ctx context.Context, inv model.Investigation) error {
	invJSON, err := json.Marshal(inv)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal investigation")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO investigations (id, run_id, metric, severity, status, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		inv.ID, inv.RunID, inv.Anomaly.Metric, string(inv.Anomaly.Severity), inv.Status, invJSON, inv.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert investigation %s", inv.ID)
}

func (s *PostgresStore) ListInvestigations(ctx context.Context, filter InvestigationFilter) ([]model.Investigation, error) {
	query := `SELECT data FROM investigations WHERE true`
	args := []any{}
	argIdx := 1
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list investigations")
	}
	out, err := collectJSON[model.Investigation](rows)
	return out, eris.Wrap(err, "postgres: scan investigations")
}

// EnqueueReview upserts review items keyed by (run_id, match_id).
func (s *PostgresStore) EnqueueReview(ctx context.Context, items []model.ReviewItem) error {
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		itemJSON, err := json.Marshal(item)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal review item")
		}
		m := item.Result.Match
		rows = append(rows, []any{item.RunID, m.ID, m.EntityKey, string(item.Reason), item.Status, item.Result.Confidence, itemJSON})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.Merge{
		Table:   "review_queue",
		Columns: reviewColumns,
		Key:     []string{"run_id", "match_id"},
	}, rows)
	return eris.Wrap(err, "postgres: enqueue review")
}

func (s *PostgresStore) ListReview(ctx context.Context, runID string) ([]model.ReviewItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM review_queue WHERE run_id = $1 ORDER BY confidence, match_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list review %s", runID)
	}
	out, err := collectJSON[model.ReviewItem](rows)
	return out, eris.Wrap(err, "postgres: scan review items")
}

func (s *PostgresStore) SaveQuality(ctx context.Context, q *model.QualityReport) error {
	if q == nil || q.RunID == "" {
		return eris.New("postgres: save quality: missing run id")
	}
	qJSON, err := json.Marshal(q)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quality")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quality_reports (run_id, data, generated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO UPDATE SET data = EXCLUDED.data, generated_at = EXCLUDED.generated_at`,
		q.RunID, qJSON, q.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save quality %s", q.RunID)
}

func (s *PostgresStore) GetQuality(ctx context.Context, runID string) (*model.QualityReport, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quality_reports WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get quality %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get quality %s", runID)
	}
	var q model.QualityReport
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal quality")
	}
	return &q, nil
}

// collectJSON drains rows holding a single JSON column and closes them.
func collectJSON[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var v T
		if err := scanJSON(rows, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
