package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS feature_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	applications INTEGER NOT NULL DEFAULT 0,
	queries      INTEGER NOT NULL DEFAULT 0,
	columns      INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_feature_runs_started_at ON feature_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// quoteSQLite quotes a possibly schema-qualified identifier.
func quoteSQLite(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func (s *SQLiteStore) LoadTable(ctx context.Context, name string) (*table.Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteSQLite(name))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: select %s", name)
	}
	defer rows.Close() //nolint:errcheck

	header, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: columns")
	}

	var records [][]model.Value
	for rows.Next() {
		raw := make([]any, len(header))
		dest := make([]any, len(header))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s row %d", name, len(records))
		}
		rec := make([]model.Value, len(raw))
		for i, v := range raw {
			rec[i] = model.FromAny(v)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: iterate %s", name)
	}

	t, err := table.FromRows(header, records)
	if err != nil {
		return nil, eris.Wrap(model.ErrMalformed, err.Error())
	}
	zap.L().Debug("sqlite: loaded table", zap.String("table", name), zap.Int("rows", t.Len()))
	return t, nil
}

func (s *SQLiteStore) SaveTable(ctx context.Context, name string, t *table.Table) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	columns := t.Columns()
	if len(columns) == 0 {
		return eris.Errorf("sqlite: table %s has no columns", name)
	}
	if err := checkSQLiteColumns(columns); err != nil {
		return eris.Wrapf(err, "sqlite: table %s", name)
	}

	kinds := make([]string, len(columns))
	defs := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		kinds[i] = columnKind(t, c)
		typ := "REAL"
		if kinds[i] == "text" {
			typ = "TEXT"
		}
		defs[i] = quoteSQLite(c) + " " + typ
		marks[i] = "?"
	}
	q := quoteSQLite(name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+q); err != nil {
		return eris.Wrapf(err, "sqlite: drop %s", name)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", q, strings.Join(defs, ", "))); err != nil {
		return eris.Wrapf(err, "sqlite: create %s", name)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", q, strings.Join(marks, ", ")))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", name)
	}
	defer stmt.Close() //nolint:errcheck

	args := make([]any, len(columns))
	for r := 0; r < t.Len(); r++ {
		for i, c := range columns {
			args[i] = cellArg(t.Cell(r, c), kinds[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s row %d", name, r)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	zap.L().Debug("sqlite: saved table", zap.String("table", name), zap.Int("rows", t.Len()))
	return nil
}

// checkSQLiteColumns rejects names SQLite would treat as the same column.
// SQLite compares identifiers case-insensitively for ASCII letters only.
func checkSQLiteColumns(columns []string) error {
	seen := make(map[string]string, len(columns))
	for _, c := range columns {
		key := asciiLower(c)
		if prev, dup := seen[key]; dup {
			return eris.Errorf("columns %q and %q differ only in case", prev, c)
		}
		seen[key] = c
	}
	return nil
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_runs (id, source, status, applications, queries, columns, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			applications = excluded.applications,
			queries = excluded.queries,
			columns = excluded.columns,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		run.ID, run.Source, string(run.Status), run.Applications, run.Queries, run.Columns,
		nullString(run.Error), run.StartedAt, nullTime(run.FinishedAt),
	)
	return eris.Wrapf(err, "sqlite: save run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, applications, queries, columns, error, started_at, finished_at
		FROM feature_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "id %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, applications, queries, columns, error, started_at, finished_at
		FROM feature_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		run      Run
		status   string
		errText  sql.NullString
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Source, &status, &run.Applications, &run.Queries, &run.Columns,
		&errText, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.Error = errText.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
