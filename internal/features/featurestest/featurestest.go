// Package featurestest generates sparse wide datasets for property tests.
package featurestest

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/sells-group/feature-cli/internal/dataset"
	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
)

// Fields are the stored fields the generator fills, the profit components
// included.
var Fields = []string{
	"revenue",
	"cost_of_sales",
	"administrative_expenses",
	"commercial_expenses",
	"employees",
}

// DataGen builds random companies with values scattered over a year range.
type DataGen struct {
	*gofakeit.Faker
	FirstYear int
	LastYear  int
	// Density is the probability that a (company, year, field) cell is filled.
	Density float64
}

// NewDataGen returns a generator seeded for reproducible runs.
func NewDataGen(seed int64) *DataGen {
	return &DataGen{
		Faker:     gofakeit.New(seed),
		FirstYear: 2012,
		LastYear:  2023,
		Density:   0.5,
	}
}

// Truth is the generator's record of what it stored.
type Truth struct {
	Values       map[dataset.Key]float64
	Registration map[int64]int
}

// Dataset builds a wide table with n companies and returns it with the truth.
func (g *DataGen) Dataset(n int) (*table.Table, Truth) {
	header := []string{dataset.DefaultIDColumn, dataset.DefaultRegistrationColumn}
	for y := g.FirstYear; y <= g.LastYear; y++ {
		for _, f := range Fields {
			header = append(header, fmt.Sprintf("%d, %s", y, f))
		}
	}

	truth := Truth{
		Values:       make(map[dataset.Key]float64),
		Registration: make(map[int64]int, n),
	}
	rows := make([][]model.Value, n)
	for i := range rows {
		id := int64(i + 1)
		regYear := g.IntRange(g.FirstYear-10, g.LastYear)
		truth.Registration[id] = regYear

		row := []model.Value{
			model.Number(float64(id)),
			model.Text(fmt.Sprintf("%04d-%02d-%02d", regYear, g.IntRange(1, 12), g.IntRange(1, 28))),
		}
		for y := g.FirstYear; y <= g.LastYear; y++ {
			for _, f := range Fields {
				if g.Float64Range(0, 1) >= g.Density {
					row = append(row, model.Absent)
					continue
				}
				v := float64(g.IntRange(0, 1_000_000))
				truth.Values[dataset.Key{CompanyID: id, Year: y, Field: f}] = v
				row = append(row, model.Number(v))
			}
		}
		rows[i] = row
	}

	tbl, err := table.FromRows(header, rows)
	if err != nil {
		panic(err)
	}
	return tbl, truth
}

// Applications draws n applications over the generated companies. Roughly one
// in ten references an unknown company.
func (g *DataGen) Applications(n, companies int) []model.Application {
	apps := make([]model.Application, n)
	for i := range apps {
		id := int64(g.IntRange(1, companies))
		if g.IntRange(0, 9) == 0 {
			id = int64(companies + 1 + g.IntRange(0, 100))
		}
		apps[i] = model.Application{CompanyID: id, Year: g.IntRange(g.FirstYear, g.LastYear+2)}
	}
	return apps
}
