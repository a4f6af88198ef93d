package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-cli/internal/db"
	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
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

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
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
CREATE TABLE IF NOT EXISTS feature_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	applications INTEGER NOT NULL DEFAULT 0,
	queries      INTEGER NOT NULL DEFAULT 0,
	columns      INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_feature_runs_started_at ON feature_runs(started_at DESC);
`

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

func (s *PostgresStore) LoadTable(ctx context.Context, name string) (*table.Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, "SELECT * FROM "+db.Identifier(name).Sanitize())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: select %s", name)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}

	var records [][]model.Value
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s row %d", name, len(records))
		}
		rec := make([]model.Value, len(raw))
		for i, v := range raw {
			rec[i] = pgValue(v)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate %s", name)
	}

	t, err := table.FromRows(header, records)
	if err != nil {
		return nil, eris.Wrap(model.ErrMalformed, err.Error())
	}
	zap.L().Debug("postgres: loaded table", zap.String("table", name), zap.Int("rows", t.Len()))
	return t, nil
}

// pgValue converts a decoded column value, unwrapping NUMERIC.
func pgValue(v any) model.Value {
	if n, ok := v.(pgtype.Numeric); ok {
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return model.Absent
		}
		return model.Number(f.Float64)
	}
	return model.FromAny(v)
}

// SaveTable replaces the named table inside one transaction: drop, create,
// then COPY the rows.
func (s *PostgresStore) SaveTable(ctx context.Context, name string, t *table.Table) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	columns := t.Columns()
	if len(columns) == 0 {
		return eris.Errorf("postgres: table %s has no columns", name)
	}

	kinds := make([]string, len(columns))
	defs := make([]string, len(columns))
	for i, c := range columns {
		kinds[i] = columnKind(t, c)
		typ := "DOUBLE PRECISION"
		if kinds[i] == "text" {
			typ = "TEXT"
		}
		defs[i] = pgx.Identifier{c}.Sanitize() + " " + typ
	}

	rows := make([][]any, t.Len())
	for r := range rows {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = cellArg(t.Cell(r, c), kinds[i])
		}
		rows[r] = row
	}

	ident := db.Identifier(name).Sanitize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return eris.Wrapf(err, "postgres: drop %s", name)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))); err != nil {
		return eris.Wrapf(err, "postgres: create %s", name)
	}
	if _, err := db.CopyFrom(ctx, tx, name, columns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}

	zap.L().Debug("postgres: saved table", zap.String("table", name), zap.Int("rows", t.Len()))
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feature_runs (id, source, status, applications, queries, columns, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			applications = EXCLUDED.applications,
			queries = EXCLUDED.queries,
			columns = EXCLUDED.columns,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`,
		run.ID, run.Source, string(run.Status), run.Applications, run.Queries, run.Columns,
		nullString(run.Error), run.StartedAt, nullTime(run.FinishedAt),
	)
	return eris.Wrapf(err, "postgres: save run %s", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, status, applications, queries, columns, error, started_at, finished_at
		FROM feature_runs WHERE id = $1`, id)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "id %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, applications, queries, columns, error, started_at, finished_at
		FROM feature_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func scanPgRun(row scannable) (*Run, error) {
	var (
		run     Run
		status  string
		errText *string
	)
	if err := row.Scan(&run.ID, &run.Source, &status, &run.Applications, &run.Queries, &run.Columns,
		&errText, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if errText != nil {
		run.Error = *errText
	}
	return &run, nil
}
