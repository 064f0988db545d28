package db

import (
	"context"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes a keyed bulk write: rows are staged with COPY and folded
// into Table on Key.
type Merge struct {
	Table   string
	Columns []string
	Key     []string
	// Update lists the columns overwritten when a key already exists. Nil
	// means every non-key column; an empty non-nil slice keeps existing rows.
	Update []string
}

func (m Merge) check() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: no table")
	case len(m.Columns) == 0:
		return eris.New("db: merge: no columns")
	case len(m.Key) == 0:
		return eris.New("db: merge: no key columns")
	}
	for _, k := range m.Key {
		if !slices.Contains(m.Columns, k) {
			return eris.Errorf("db: merge: key column %q not loaded", k)
		}
	}
	return nil
}

func (m Merge) updateColumns() []string {
	if m.Update != nil {
		return m.Update
	}
	var out []string
	for _, c := range m.Columns {
		if !slices.Contains(m.Key, c) {
			out = append(out, c)
		}
	}
	return out
}

// staging names the session temp table rows are copied into.
func (m Merge) staging() pgx.Identifier {
	return pgx.Identifier{"staging_" + strings.ReplaceAll(m.Table, ".", "_")}
}

func (m Merge) stageSQL() string {
	return "CREATE TEMP TABLE " + m.staging().Sanitize() +
		" (LIKE " + identifier(m.Table).Sanitize() + " INCLUDING DEFAULTS) ON COMMIT DROP"
}

func (m Merge) mergeSQL() string {
	cols := columnList(m.Columns)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(identifier(m.Table).Sanitize())
	b.WriteString(" (" + cols + ") SELECT " + cols + " FROM ")
	b.WriteString(m.staging().Sanitize())
	b.WriteString(" ON CONFLICT (" + columnList(m.Key) + ")")

	update := m.updateColumns()
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}
	b.WriteString(" DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		col := pgx.Identifier{c}.Sanitize()
		b.WriteString(col + " = EXCLUDED." + col)
	}
	return b.String()
}

// BulkUpsert applies m to rows inside one transaction and returns the number
// of rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, m Merge, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.check(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin", m.Table)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.stageSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: stage", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, m.staging(), m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy", m.Table)
	}
	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: insert", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", m.Table)
	}
	return tag.RowsAffected(), nil
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
