package features

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feature-cli/internal/dataset"
	"github.com/sells-group/feature-cli/internal/features/featurestest"
	"github.com/sells-group/feature-cli/internal/model"
)

var errUnknown = eris.New("unknown company")

// mapLookup is a Lookup backed by plain maps.
type mapLookup struct {
	values     map[dataset.Key]model.Value
	registered map[int64]int
	known      map[int64]bool
}

func newMapLookup() *mapLookup {
	return &mapLookup{
		values:     make(map[dataset.Key]model.Value),
		registered: make(map[int64]int),
		known:      make(map[int64]bool),
	}
}

func (m *mapLookup) set(id int64, year int, field string, v model.Value) *mapLookup {
	m.known[id] = true
	m.values[dataset.Key{CompanyID: id, Year: year, Field: field}] = v
	return m
}

func (m *mapLookup) Get(id int64, year int, field string) (model.Value, error) {
	if !m.known[id] {
		return model.Absent, errUnknown
	}
	return m.values[dataset.Key{CompanyID: id, Year: year, Field: field}], nil
}

func (m *mapLookup) RegistrationYear(id int64) (int, error) {
	y, ok := m.registered[id]
	if !ok {
		return 0, errUnknown
	}
	return y, nil
}

// spanLookup adds a year span to mapLookup and counts Get calls.
type spanLookup struct {
	*mapLookup
	first, last int
	gets        int
}

func (s *spanLookup) Get(id int64, year int, field string) (model.Value, error) {
	s.gets++
	return s.mapLookup.Get(id, year, field)
}

func (s *spanLookup) YearSpan() (int, int, bool) {
	return s.first, s.last, len(s.values) > 0
}

func TestResolve_ExactYear(t *testing.T) {
	src := newMapLookup().set(1, 2021, "revenue", model.Number(100))

	assert.Equal(t, model.Number(100), Resolve(src, 1, 2021, "revenue", 0, 0))
	assert.True(t, Resolve(src, 1, 2022, "revenue", 0, 0).IsAbsent(), "no fallback without last_available")
}

func TestResolve_FallbackWindow(t *testing.T) {
	// Only 2019 is present; target 2021-1 = 2020, window [2018, 2020].
	src := newMapLookup().set(1, 2019, "X", model.Number(7))

	assert.Equal(t, model.Number(7), Resolve(src, 1, 2021, "X", 1, 2))
	assert.Equal(t, model.Number(7), Resolve(src, 1, 2021, "X", 1, 1))
	assert.True(t, Resolve(src, 1, 2021, "X", 1, 0).IsAbsent())
	assert.True(t, Resolve(src, 1, 2021, "X", 0, 1).IsAbsent(), "2019 is outside [2020, 2021]")
}

func TestResolve_PrefersMostRecent(t *testing.T) {
	src := newMapLookup().
		set(1, 2018, "X", model.Number(1)).
		set(1, 2020, "X", model.Number(2))

	assert.Equal(t, model.Number(2), Resolve(src, 1, 2021, "X", 0, 5))
	assert.Equal(t, model.Number(1), Resolve(src, 1, 2021, "X", 2, 5))
}

func TestResolve_NegativePrevLooksForward(t *testing.T) {
	src := newMapLookup().set(1, 2022, "X", model.Number(9))

	assert.Equal(t, model.Number(9), Resolve(src, 1, 2021, "X", -1, 0))
	assert.True(t, Resolve(src, 1, 2021, "X", 0, 0).IsAbsent())
}

func TestResolve_UnknownCompanyIsAbsent(t *testing.T) {
	src := newMapLookup().set(1, 2021, "X", model.Number(1))
	assert.True(t, Resolve(src, 42, 2021, "X", 0, 3).IsAbsent())
}

func TestResolve_TextPassesThrough(t *testing.T) {
	src := newMapLookup().set(1, 2021, "region", model.Text("north"))
	assert.Equal(t, model.Text("north"), Resolve(src, 1, 2021, "region", 0, 0))
}

func TestResolve_Properties(t *testing.T) {
	gen := featurestest.NewDataGen(7)
	raw, truth := gen.Dataset(40)
	view, err := dataset.Build(raw, dataset.Options{})
	require.NoError(t, err)

	// Stored values resolve exactly with a zero window.
	for key, want := range truth.Values {
		got := Resolve(view, key.CompanyID, key.Year, key.Field, 0, 0)
		require.Equal(t, model.Number(want), got, "key %+v", key)
	}

	// Closest available: the hit year y has nothing stored in (y, target].
	for range 500 {
		id := int64(gen.IntRange(1, 40))
		year := gen.IntRange(gen.FirstYear, gen.LastYear+2)
		prev := gen.IntRange(-1, 3)
		la := gen.IntRange(0, 4)
		field := featurestest.Fields[gen.IntRange(0, len(featurestest.Fields)-1)]
		target := year - prev

		got := Resolve(view, id, year, field, prev, la)

		hit := -1
		for y := target; y >= target-la; y-- {
			if _, ok := truth.Values[dataset.Key{CompanyID: id, Year: y, Field: field}]; ok {
				hit = y
				break
			}
		}
		if hit < 0 {
			assert.True(t, got.IsAbsent())
			continue
		}
		want := truth.Values[dataset.Key{CompanyID: id, Year: hit, Field: field}]
		assert.Equal(t, model.Number(want), got)
	}
}

func keyOf(id int64, year int, field string) dataset.Key {
	return dataset.Key{CompanyID: id, Year: year, Field: field}
}

func TestResolve_WindowClampedToStoredYears(t *testing.T) {
	src := &spanLookup{
		mapLookup: newMapLookup().set(1, 2019, "X", model.Number(7)).set(1, 2021, "Y", model.Number(1)),
		first:     2019,
		last:      2021,
	}

	assert.Equal(t, model.Number(7), Resolve(src, 1, 2021, "X", 0, 300000000))
	assert.LessOrEqual(t, src.gets, 3)

	src.gets = 0
	assert.True(t, Resolve(src, 1, 2021, "missing", -1000, 300000000).IsAbsent())
	assert.LessOrEqual(t, src.gets, 3)

	src.gets = 0
	assert.True(t, Resolve(src, 1, 2500, "X", 0, 100).IsAbsent(), "window [2400, 2500] holds no stored year")
	assert.Zero(t, src.gets)
}

func TestResolve_EmptySpanIsAbsent(t *testing.T) {
	src := &spanLookup{mapLookup: newMapLookup()}
	src.known[1] = true

	assert.True(t, Resolve(src, 1, 2021, "X", 0, 5).IsAbsent())
	assert.Zero(t, src.gets)
}

func TestResolve_ViewSpanMatchesUnbounded(t *testing.T) {
	gen := featurestest.NewDataGen(5)
	raw, _ := gen.Dataset(20)
	view, err := dataset.Build(raw, dataset.Options{})
	require.NoError(t, err)
	first, last, ok := view.YearSpan()
	require.True(t, ok)
	years := view.Years()
	assert.Equal(t, years[0], first)
	assert.Equal(t, years[len(years)-1], last)

	// An unspanned copy of the same lookup must resolve identically.
	plain := struct{ Lookup }{view}
	for _, id := range view.Companies() {
		for _, field := range view.Fields() {
			for _, q := range []struct{ prev, la int }{{0, 0}, {1, 2}, {-1, 3}, {0, 50}} {
				assert.Equal(t,
					Resolve(plain, id, last, field, q.prev, q.la),
					Resolve(view, id, last, field, q.prev, q.la),
				)
			}
		}
	}
}
