package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/matchguard/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	started_at        DATETIME NOT NULL,
	completed_at      DATETIME NOT NULL,
	final_confidence  REAL NOT NULL DEFAULT 0,
	review_queue_size INTEGER NOT NULL DEFAULT 0,
	data              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_gates (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS investigations (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	metric     TEXT NOT NULL,
	severity   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	run_id     TEXT NOT NULL,
	match_id   TEXT NOT NULL,
	entity_key TEXT NOT NULL,
	reason     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	confidence REAL NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	PRIMARY KEY (run_id, match_id)
);

CREATE TABLE IF NOT EXISTS quality_reports (
	run_id       TEXT PRIMARY KEY,
	data         TEXT NOT NULL,
	generated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_investigations_run_id ON investigations(run_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.PipelineRun) error {
	if run == nil || run.ID == "" {
		return eris.New("sqlite: save run: missing id")
	}
	runJSON, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at, completed_at, final_confidence, review_queue_size, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, completed_at = excluded.completed_at,
		 final_confidence = excluded.final_confidence, review_queue_size = excluded.review_queue_size,
		 data = excluded.data`,
		run.ID, string(run.OverallStatus), run.StartedAt.UTC(), run.CompletedAt.UTC(),
		run.FinalConfidence, run.ReviewQueueSize, string(runJSON),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert run %s", run.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_gates WHERE run_id = ?`, run.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear gates %s", run.ID)
	}
	for i, g := range run.Gates {
		gateJSON, err := json.Marshal(g)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal gate")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_gates (run_id, seq, stage, status, confidence, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, string(g.Stage), string(g.Status), g.Confidence, string(gateJSON), g.Timestamp.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert gate %s/%s", run.ID, g.Stage)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM runs WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	var r model.PipelineRun
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run")
	}

	gates, err := s.listGates(ctx, runID)
	if err != nil {
		return nil, err
	}
	r.Gates = gates
	return &r, nil
}

func (s *SQLiteStore) listGates(ctx context.Context, runID string) ([]model.ValidationGate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM run_gates WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list gates %s", runID)
	}
	defer rows.Close()

	var gates []model.ValidationGate
	for rows.Next() {
		var g model.ValidationGate
		if err := scanJSON(rows, &g); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan gate")
		}
		gates = append(gates, g)
	}
	return gates, eris.Wrap(rows.Err(), "sqlite: list gates iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT data FROM runs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		if err := scanJSON(rows, &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveInvestigation(ctx context.Context, inv model.Investigation) error {
	invJSON, err := json.Marshal(inv)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal investigation")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO investigations (id, run_id, metric, severity, status, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		inv.ID, inv.RunID, inv.Anomaly.Metric, string(inv.Anomaly.Severity), inv.Status, string(invJSON), inv.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert investigation %s", inv.ID)
}

func (s *SQLiteStore) ListInvestigations(ctx context.Context, filter InvestigationFilter) ([]model.Investigation, error) {
	query := `SELECT data FROM investigations WHERE 1=1`
	args := []any{}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list investigations")
	}
	defer rows.Close()

	var out []model.Investigation
	for rows.Next() {
		var inv model.Investigation
		if err := scanJSON(rows, &inv); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan investigation")
		}
		out = append(out, inv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list investigations iterate")
}

func (s *SQLiteStore) EnqueueReview(ctx context.Context, items []model.ReviewItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO review_queue (run_id, match_id, entity_key, reason, status, confidence, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, match_id) DO UPDATE SET reason = excluded.reason, status = excluded.status,
		 confidence = excluded.confidence, data = excluded.data`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare review insert")
	}
	defer stmt.Close()

	for _, item := range items {
		itemJSON, err := json.Marshal(item)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal review item")
		}
		m := item.Result.Match
		if _, err := stmt.ExecContext(ctx, item.RunID, m.ID, m.EntityKey, string(item.Reason), item.Status,
			item.Result.Confidence, string(itemJSON)); err != nil {
			return eris.Wrapf(err, "sqlite: enqueue review %s", m.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit review")
}

func (s *SQLiteStore) ListReview(ctx context.Context, runID string) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM review_queue WHERE run_id = ? ORDER BY confidence, match_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list review %s", runID)
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var item model.ReviewItem
		if err := scanJSON(rows, &item); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list review iterate")
}

func (s *SQLiteStore) SaveQuality(ctx context.Context, q *model.QualityReport) error {
	if q == nil || q.RunID == "" {
		return eris.New("sqlite: save quality: missing run id")
	}
	qJSON, err := json.Marshal(q)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quality")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quality_reports (run_id, data, generated_at) VALUES (?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET data = excluded.data, generated_at = excluded.generated_at`,
		q.RunID, string(qJSON), q.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save quality %s", q.RunID)
}

func (s *SQLiteStore) GetQuality(ctx context.Context, runID string) (*model.QualityReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM quality_reports WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: quality %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get quality %s", runID)
	}
	var q model.QualityReport
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal quality")
	}
	return &q, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

// scanJSON scans a single JSON column into v.
func scanJSON(row scannable, v any) error {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

var _ Store = (*SQLiteStore)(nil)
