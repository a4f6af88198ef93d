package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func resultTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromRows([]string{"_id", "revenue Prev LA2", "company age", "note"}, [][]model.Value{
		{model.Number(1), model.Number(1500.5), model.Number(7), model.Text("ok")},
		{model.Number(2), model.Absent, model.Absent, model.Number(3)},
	})
	require.NoError(t, err)
	return tbl
}

func TestSQLite_SaveAndLoadTable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveTable(ctx, "features", resultTable(t)))

	back, err := st.LoadTable(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, []string{"_id", "revenue Prev LA2", "company age", "note"}, back.Columns())
	assert.Equal(t, 2, back.Len())
	assert.Equal(t, model.Number(1), back.Cell(0, "_id"))
	assert.Equal(t, model.Number(1500.5), back.Cell(0, "revenue Prev LA2"))
	assert.Equal(t, model.Absent, back.Cell(1, "revenue Prev LA2"))
	assert.Equal(t, model.Absent, back.Cell(1, "company age"))
	// Mixed columns are stored as text.
	assert.Equal(t, model.Text("ok"), back.Cell(0, "note"))
	assert.Equal(t, model.Text("3"), back.Cell(1, "note"))
}

func TestSQLite_SaveTableCaseCollision(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tbl, err := table.FromRows([]string{"_id", "Revenue", "revenue"}, [][]model.Value{
		{model.Number(1), model.Number(2), model.Number(3)},
	})
	require.NoError(t, err)

	err = st.SaveTable(ctx, "features", tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Revenue" and "revenue" differ only in case`)

	// Nothing was created.
	_, err = st.LoadTable(ctx, "features")
	require.Error(t, err)
}

func TestSQLite_SaveTableNonASCIICaseIsDistinct(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tbl, err := table.FromRows([]string{"_id", "Выручка", "выручка"}, [][]model.Value{
		{model.Number(1), model.Number(2), model.Number(3)},
	})
	require.NoError(t, err)

	require.NoError(t, st.SaveTable(ctx, "features", tbl))
	back, err := st.LoadTable(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, []string{"_id", "Выручка", "выручка"}, back.Columns())
}

func TestCheckSQLiteColumns(t *testing.T) {
	require.NoError(t, checkSQLiteColumns([]string{"_id", "revenue Prev", "revenue"}))
	require.Error(t, checkSQLiteColumns([]string{"_id", "company age", "Company Age"}))
	require.Error(t, checkSQLiteColumns([]string{"_ID", "_id"}))
}

func TestSQLite_SaveTableReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveTable(ctx, "features", resultTable(t)))

	small, err := table.FromRows([]string{"_id"}, [][]model.Value{{model.Number(9)}})
	require.NoError(t, err)
	require.NoError(t, st.SaveTable(ctx, "features", small))

	back, err := st.LoadTable(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, []string{"_id"}, back.Columns())
	assert.Equal(t, 1, back.Len())
	assert.Equal(t, model.Number(9), back.Cell(0, "_id"))
}

func TestSQLite_LoadCyrillicColumns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.db.ExecContext(ctx, `CREATE TABLE companies ("_id" INTEGER, "2021, Выручка, RUB" REAL, "Дата регистрации" TEXT)`)
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `INSERT INTO companies VALUES (10, 1234.5, '2015-06-01'), (11, NULL, NULL)`)
	require.NoError(t, err)

	tbl, err := st.LoadTable(ctx, "companies")
	require.NoError(t, err)
	assert.Equal(t, []string{"_id", "2021, Выручка, RUB", "Дата регистрации"}, tbl.Columns())
	assert.Equal(t, model.Number(10), tbl.Cell(0, "_id"))
	assert.Equal(t, model.Number(1234.5), tbl.Cell(0, "2021, Выручка, RUB"))
	assert.Equal(t, model.Text("2015-06-01"), tbl.Cell(0, "Дата регистрации"))
	assert.Equal(t, model.Absent, tbl.Cell(1, "Дата регистрации"))
}

func TestSQLite_LoadMissingTable(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.LoadTable(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSQLite_QuotedNames(t *testing.T) {
	assert.Equal(t, `"features"`, quoteSQLite("features"))
	assert.Equal(t, `"main"."a""b"`, quoteSQLite(`main.a"b`))
}

func TestSQLite_Runs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := NewRun("companies.csv")
	run.Queries = 3
	require.NoError(t, st.SaveRun(ctx, run))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)

	run.Applications, run.Columns = 100, 4
	run.Finish(errors.New("boom"))
	require.NoError(t, st.SaveRun(ctx, run))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 100, got.Applications)
	assert.Equal(t, 3, got.Queries)
	assert.Equal(t, 4, got.Columns)
	require.NotNil(t, got.FinishedAt)

	other := NewRun("db:companies")
	require.NoError(t, st.SaveRun(ctx, other))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRunNotFound))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	assert.NoError(t, st.Close())
}

func TestRunFinish(t *testing.T) {
	run := NewRun("x")
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	run.Finish(nil)
	assert.Equal(t, RunStatusComplete, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Error)
}
