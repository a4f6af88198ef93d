package features

import (
	"context"
	"math"
	"regexp"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feature-cli/internal/dataset"
	"github.com/sells-group/feature-cli/internal/features/featurestest"
	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
)

func scenarioDataset(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromRows(
		[]string{
			"_id", "registration_date",
			"2021, revenue", "2021, cost_of_sales", "2021, administrative_expenses", "2021, commercial_expenses",
			"2019, X", "2021, Y",
		},
		[][]model.Value{
			{
				model.Number(1), model.Text("2015-06-01"),
				model.Number(100), model.Number(40), model.Number(10), model.Number(5),
				model.Number(19), model.Text("1 234.5"),
			},
			{
				model.Number(2), model.Text("2020-01-01"),
				model.Number(50), model.Absent, model.Number(1), model.Number(1),
				model.Absent, model.Text("N/A"),
			},
		},
	)
	require.NoError(t, err)
	return tbl
}

func column(t *testing.T, tbl *table.Table, name string) []model.Value {
	t.Helper()
	col, ok := tbl.Column(name)
	require.True(t, ok, "column %q missing; have %v", name, tbl.Columns())
	return col
}

func TestGetData_Scenarios(t *testing.T) {
	e := mustEngine(t, Options{})
	apps := []model.Application{{CompanyID: 1, Year: 2021}, {CompanyID: 2, Year: 2021}}
	queries := []model.Query{
		{FieldName: "profit"},
		{FieldName: "X", Prev: 1, LastAvailable: 2},
		{FieldName: "Y"},
		{FieldName: "company age"},
	}

	out, err := e.GetData(context.Background(), scenarioDataset(t), apps, queries)
	require.NoError(t, err)

	assert.Equal(t, []string{"_id", "profit", "X Prev LA2", "Y", "company age"}, out.Columns())
	assert.Equal(t, []model.Value{model.Number(1), model.Number(2)}, column(t, out, "_id"))

	// A: 100 - 40 - 10 - 5. B: cost_of_sales missing for company 2.
	assert.Equal(t, []model.Value{model.Number(45), model.Absent}, column(t, out, "profit"))
	// C: target 2020, window [2018, 2020], value at 2019.
	assert.Equal(t, []model.Value{model.Number(19), model.Absent}, column(t, out, "X Prev LA2"))
	// D: cleaning policy.
	assert.Equal(t, []model.Value{model.Number(1234.5), model.Text("N/A")}, column(t, out, "Y"))
	assert.Equal(t, []model.Value{model.Number(6), model.Number(1)}, column(t, out, "company age"))
}

func TestGetData_ColumnCollisionKeepsOneColumn(t *testing.T) {
	e := mustEngine(t, Options{})
	apps := []model.Application{{CompanyID: 1, Year: 2021}}
	queries := []model.Query{
		{FieldName: "revenue"},
		{FieldName: "company age"},
		{FieldName: "revenue "},
	}

	out, err := e.GetData(context.Background(), scenarioDataset(t), apps, queries)
	require.NoError(t, err)

	assert.Equal(t, []string{"_id", "revenue", "company age"}, out.Columns())
	assert.Equal(t, []model.Value{model.Number(100)}, column(t, out, "revenue"))
}

func TestGetData_CollisionHoldsLaterValues(t *testing.T) {
	e := mustEngine(t, Options{ProfitName: "margin"})
	raw, err := table.FromRows(
		[]string{"_id", "2021, revenue", "2021, cost_of_sales", "2021, administrative_expenses", "2021, commercial_expenses", "2021, margin Prev"},
		[][]model.Value{{model.Number(1), model.Number(10), model.Number(1), model.Number(1), model.Number(1), model.Number(999)}},
	)
	require.NoError(t, err)
	apps := []model.Application{{CompanyID: 1, Year: 2022}}

	// Both columns are named "margin Prev": the stored field "margin Prev" at
	// 2022 (absent) and the derived margin one year back (7).
	queries := []model.Query{
		{FieldName: "margin Prev"},
		{FieldName: "margin", Prev: 1},
	}
	out, err := e.GetData(context.Background(), raw, apps, queries)
	require.NoError(t, err)

	assert.Equal(t, []string{"_id", "margin Prev"}, out.Columns())
	assert.Equal(t, []model.Value{model.Number(7)}, column(t, out, "margin Prev"))

	// Reversed order: the stored-field query wins.
	out, err = e.GetData(context.Background(), raw, apps, []model.Query{queries[1], queries[0]})
	require.NoError(t, err)
	assert.Equal(t, []model.Value{model.Absent}, column(t, out, "margin Prev"))
}

func TestGetData_UnknownCompanyRowIsAbsent(t *testing.T) {
	e := mustEngine(t, Options{})
	apps := []model.Application{{CompanyID: 99, Year: 2021}, {CompanyID: 1, Year: 2021}}
	queries := []model.Query{{FieldName: "profit"}, {FieldName: "company age"}, {FieldName: "revenue", LastAvailable: 5}}

	out, err := e.GetData(context.Background(), scenarioDataset(t), apps, queries)
	require.NoError(t, err)

	assert.Equal(t, []model.Value{model.Number(99), model.Number(1)}, column(t, out, "_id"))
	assert.Equal(t, []model.Value{model.Absent, model.Number(45)}, column(t, out, "profit"))
	assert.Equal(t, []model.Value{model.Absent, model.Number(6)}, column(t, out, "company age"))
	assert.Equal(t, []model.Value{model.Absent, model.Number(100)}, column(t, out, "revenue LA5"))
}

func TestGetData_PreservesApplicationOrder(t *testing.T) {
	e := mustEngine(t, Options{})
	apps := []model.Application{
		{CompanyID: 2, Year: 2021},
		{CompanyID: 1, Year: 2021},
		{CompanyID: 2, Year: 2021},
	}
	out, err := e.GetData(context.Background(), scenarioDataset(t), apps, []model.Query{{FieldName: "revenue"}})
	require.NoError(t, err)
	assert.Equal(t, []model.Value{model.Number(50), model.Number(100), model.Number(50)}, column(t, out, "revenue"))
}

func TestGetData_NoQueries(t *testing.T) {
	e := mustEngine(t, Options{})
	apps := []model.Application{{CompanyID: 1, Year: 2021}}
	out, err := e.GetData(context.Background(), scenarioDataset(t), apps, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"_id"}, out.Columns())
	assert.Equal(t, 1, out.Len())
}

func TestGetData_MalformedInput(t *testing.T) {
	e := mustEngine(t, Options{})
	apps := []model.Application{{CompanyID: 1, Year: 2021}}

	_, err := e.GetData(context.Background(), scenarioDataset(t), apps, []model.Query{{FieldName: "revenue"}, {Prev: 1}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrMalformed))
	assert.Contains(t, err.Error(), "field_name")

	_, err = e.GetData(context.Background(), scenarioDataset(t), apps, []model.Query{{FieldName: "revenue", LastAvailable: -1}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrMalformed))

	noID, err := table.FromRows([]string{"id"}, nil)
	require.NoError(t, err)
	_, err = e.GetData(context.Background(), noID, apps, []model.Query{{FieldName: "revenue"}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrMalformed))
}

func TestGetData_Cancelled(t *testing.T) {
	e := mustEngine(t, Options{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.GetData(ctx, scenarioDataset(t), []model.Application{{CompanyID: 1, Year: 2021}}, []model.Query{{FieldName: "revenue"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancel")
}

func TestGetData_RejectsUnboundedOffsets(t *testing.T) {
	e := mustEngine(t, Options{})
	apps := []model.Application{{CompanyID: 1, Year: 2021}}

	for _, q := range []model.Query{
		{FieldName: "revenue", LastAvailable: 300000000},
		{FieldName: "revenue", Prev: math.MinInt},
		{FieldName: "profit", Prev: model.MaxShift + 1},
	} {
		_, err := e.GetData(context.Background(), scenarioDataset(t), apps, []model.Query{q})
		require.Error(t, err, "query %+v", q)
		assert.True(t, eris.Is(err, model.ErrMalformed))
	}
}

func TestEvaluate_StopsWhenCancelled(t *testing.T) {
	e := mustEngine(t, Options{})
	view, err := dataset.Build(scenarioDataset(t), dataset.Options{})
	require.NoError(t, err)

	apps := make([]model.Application, 3*cancelCheckEvery)
	for i := range apps {
		apps[i] = model.Application{CompanyID: 1, Year: 2021}
	}

	out, err := e.Evaluate(context.Background(), view, apps, model.Query{FieldName: "revenue"})
	require.NoError(t, err)
	require.Len(t, out, len(apps))
	assert.Equal(t, model.Number(100), out[len(out)-1])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Evaluate(ctx, view, apps, model.Query{FieldName: "revenue"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetData_ConcurrentMatchesSequential(t *testing.T) {
	gen := featurestest.NewDataGen(11)
	raw, _ := gen.Dataset(60)
	apps := gen.Applications(200, 60)

	var queries []model.Query
	for _, f := range append([]string{"profit", "company age"}, featurestest.Fields...) {
		for prev := -1; prev <= 2; prev++ {
			queries = append(queries, model.Query{FieldName: f, Prev: prev, LastAvailable: gen.IntRange(0, 3)})
		}
	}

	seq, err := mustEngine(t, Options{}).GetData(context.Background(), raw, apps, queries)
	require.NoError(t, err)
	par, err := mustEngine(t, Options{Concurrency: 8}).GetData(context.Background(), raw, apps, queries)
	require.NoError(t, err)

	assert.Equal(t, seq.Columns(), par.Columns())
	assert.Equal(t, seq.Rows(), par.Rows())
}

func TestGetData_LegacyNames(t *testing.T) {
	e := mustEngine(t, Options{
		ProfitName: "Прибыль (убыток) от продажи, RUB",
		AgeName:    "Возраст компании, years",
		AgePolicy:  AgeAbsolute,
		ProfitTerms: []Term{
			{Field: "Выручка, RUB", Sign: 1},
			{Field: "Себестоимость продаж, RUB", Sign: -1},
			{Field: "Управленческие расходы, RUB", Sign: -1},
			{Field: "Коммерческие расходы, RUB", Sign: -1},
		},
		Dataset: dataset.Options{
			RegistrationColumn: "Дата регистрации",
			ColumnPattern:      regexp.MustCompile(`^(\d{4}),\s(.+)$`),
		},
	})
	raw, err := table.FromRows(
		[]string{
			"_id", "Дата регистрации",
			"2020, Выручка, RUB", "2020, Себестоимость продаж, RUB",
			"2020, Управленческие расходы, RUB", "2020, Коммерческие расходы, RUB",
		},
		[][]model.Value{{
			model.Number(5), model.Text("2022-02-01"),
			model.Text("1 000"), model.Number(300), model.Number(200), model.Number(100),
		}},
	)
	require.NoError(t, err)

	out, err := e.GetData(context.Background(), raw,
		[]model.Application{{CompanyID: 5, Year: 2021}},
		[]model.Query{
			{FieldName: "Прибыль (убыток) от продажи, RUB", Prev: 1},
			{FieldName: "Возраст компании, years"},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, []model.Value{model.Number(400)}, column(t, out, "Прибыль (убыток) от продажи, RUB Prev"))
	assert.Equal(t, []model.Value{model.Number(1)}, column(t, out, "Возраст компании, years"))
}

func TestApplicationsFromTable(t *testing.T) {
	tbl, err := table.FromRows([]string{"_id", "year"}, [][]model.Value{
		{model.Number(1), model.Number(2021)},
		{model.Text("2"), model.Text("2020")},
	})
	require.NoError(t, err)

	apps, err := ApplicationsFromTable(tbl, "_id")
	require.NoError(t, err)
	assert.Equal(t, []model.Application{{CompanyID: 1, Year: 2021}, {CompanyID: 2, Year: 2020}}, apps)
}

func TestApplicationsFromTable_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		rows   [][]model.Value
	}{
		{"missing id column", []string{"year"}, nil},
		{"missing year column", []string{"_id"}, nil},
		{"absent id", []string{"_id", "year"}, [][]model.Value{{model.Absent, model.Number(2021)}}},
		{"absent year", []string{"_id", "year"}, [][]model.Value{{model.Number(1), model.Absent}}},
		{"fractional year", []string{"_id", "year"}, [][]model.Value{{model.Number(1), model.Number(2021.5)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := table.FromRows(tt.header, tt.rows)
			require.NoError(t, err)
			_, err = ApplicationsFromTable(tbl, "_id")
			require.Error(t, err)
			assert.True(t, eris.Is(err, model.ErrMalformed))
		})
	}
}

func TestGetDataTable(t *testing.T) {
	e := mustEngine(t, Options{})
	apps, err := table.FromRows([]string{"_id", "year"}, [][]model.Value{{model.Number(1), model.Number(2021)}})
	require.NoError(t, err)

	out, err := e.GetDataTable(context.Background(), scenarioDataset(t), apps, []model.Query{{FieldName: "profit"}})
	require.NoError(t, err)
	assert.Equal(t, []model.Value{model.Number(45)}, column(t, out, "profit"))
}
