// Package store loads wide dataset tables from SQL databases and persists
// feature results together with a log of compute runs.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = eris.New("store: run not found")

// RunStatus is the lifecycle state of a compute run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one compute invocation.
type Run struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	Status       RunStatus  `json:"status"`
	Applications int        `json:"applications"`
	Queries      int        `json:"queries"`
	Columns      int        `json:"columns"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewRun starts a run record for source with a fresh id.
func NewRun(source string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Finish marks the run complete, or failed when err is non-nil.
func (r *Run) Finish(err error) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = RunStatusComplete
}

// Store is a SQL-backed source for dataset tables and sink for result tables.
type Store interface {
	// LoadTable reads every row of the named table. Column order follows the
	// table definition.
	LoadTable(ctx context.Context, name string) (*table.Table, error)
	// SaveTable replaces the named table with t.
	SaveTable(ctx context.Context, name string, t *table.Table) error

	// Runs
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the database for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return NewSQLite(dsn)
	case "postgres", "postgresql", "pgx":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// validateTableName rejects names that cannot be a (possibly schema-qualified)
// table identifier.
func validateTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return eris.New("store: empty table name")
	}
	for _, part := range strings.Split(name, ".") {
		if strings.TrimSpace(part) == "" {
			return eris.Errorf("store: invalid table name %q", name)
		}
	}
	return nil
}

// columnKind picks a SQL column type: numeric when every present value is a
// number, text otherwise.
func columnKind(t *table.Table, name string) string {
	values, _ := t.Column(name)
	for _, v := range values {
		if v.IsText() {
			return "text"
		}
	}
	return "number"
}

// cellArg converts a cell to a driver argument for a column of the given
// kind. Absent becomes NULL; numbers in text columns are rendered as text.
func cellArg(v model.Value, kind string) any {
	if v.IsAbsent() {
		return nil
	}
	if f, ok := v.Float(); ok && kind == "number" {
		return f
	}
	return v.String()
}
