package features

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/feature-cli/internal/dataset"
	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/query"
	"github.com/sells-group/feature-cli/internal/table"
)

const (
	DefaultProfitName = "profit"
	DefaultAgeName    = "company age"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	ProfitName  string
	AgeName     string
	ProfitTerms []Term
	AgePolicy   AgePolicy
	// Concurrency bounds how many queries are evaluated at once. 0 or 1 is sequential.
	Concurrency int
	Dataset     dataset.Options
}

// Engine evaluates query lists. It holds only its formula table and options,
// so one value can be shared or constructed per call.
type Engine struct {
	opts       Options
	profitName string
	ageName    string
	terms      []Term
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	if opts.ProfitName == "" {
		opts.ProfitName = DefaultProfitName
	}
	if opts.AgeName == "" {
		opts.AgeName = DefaultAgeName
	}
	if len(opts.ProfitTerms) == 0 {
		opts.ProfitTerms = DefaultProfitTerms
	}
	policy, err := ParseAgePolicy(string(opts.AgePolicy))
	if err != nil {
		return nil, err
	}
	opts.AgePolicy = policy
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	terms := make([]Term, len(opts.ProfitTerms))
	for i, t := range opts.ProfitTerms {
		if t.Field == "" {
			return nil, eris.Errorf("features: profit term %d has no field", i)
		}
		terms[i] = Term{Field: dataset.NormalizeField(t.Field), Sign: t.Sign}
	}

	return &Engine{
		opts:       opts,
		profitName: dataset.NormalizeField(opts.ProfitName),
		ageName:    dataset.NormalizeField(opts.AgeName),
		terms:      terms,
	}, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// cancelCheckEvery is how many applications Evaluate processes between
// context checks.
const cancelCheckEvery = 256

// Evaluate produces one value per application for q, in application order.
// It stops with the context error once ctx is done.
func (e *Engine) Evaluate(ctx context.Context, src Lookup, apps []model.Application, q model.Query) ([]model.Value, error) {
	field := dataset.NormalizeField(q.FieldName)
	out := make([]model.Value, len(apps))
	for i, a := range apps {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "features: evaluation cancelled")
			}
		}
		switch field {
		case e.profitName:
			out[i] = e.Profit(src, a.CompanyID, a.Year, q.Prev, q.LastAvailable)
		case e.ageName:
			out[i] = e.CompanyAge(src, a.CompanyID, a.Year)
		default:
			out[i] = Resolve(src, a.CompanyID, a.Year, field, q.Prev, q.LastAvailable)
		}
	}
	return out, nil
}

// GetData builds a dataset view from raw and evaluates every query for every
// application. The result has an _id column followed by one column per query.
// Queries whose column names collide overwrite the earlier column in place.
func (e *Engine) GetData(ctx context.Context, raw *table.Table, apps []model.Application, queries []model.Query) (*table.Table, error) {
	start := time.Now()

	if err := query.Validate(queries); err != nil {
		return nil, err
	}
	view, err := dataset.Build(raw, e.opts.Dataset)
	if err != nil {
		return nil, err
	}

	columns := make([][]model.Value, len(queries))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, q := range queries {
		g.Go(func() error {
			col, err := e.Evaluate(gCtx, view, apps, q)
			if err != nil {
				return err
			}
			columns[i] = col
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]model.Value, len(apps))
	for i, a := range apps {
		ids[i] = model.Number(float64(a.CompanyID))
	}
	out := table.New()
	if _, err := out.Set(e.opts.Dataset.IDColumnOrDefault(), ids); err != nil {
		return nil, eris.Wrap(err, "features: set id column")
	}
	for i, q := range queries {
		name := q.ColumnName()
		replaced, err := out.Set(name, columns[i])
		if err != nil {
			return nil, eris.Wrapf(err, "features: set column %q", name)
		}
		if replaced {
			zap.L().Debug("features: column overwritten by later query",
				zap.String("column", name),
				zap.Int("query", i),
			)
		}
	}

	zap.L().Info("features: batch complete",
		zap.Int("applications", len(apps)),
		zap.Int("queries", len(queries)),
		zap.Int("columns", len(out.Columns())),
		zap.Int("dataset_values", view.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return out, nil
}

// GetDataTable is GetData with the applications given as a table.
func (e *Engine) GetDataTable(ctx context.Context, raw, applications *table.Table, queries []model.Query) (*table.Table, error) {
	apps, err := ApplicationsFromTable(applications, e.opts.Dataset.IDColumnOrDefault())
	if err != nil {
		return nil, err
	}
	return e.GetData(ctx, raw, apps, queries)
}

// ApplicationsFromTable reads the id and "year" columns of t.
func ApplicationsFromTable(t *table.Table, idColumn string) ([]model.Application, error) {
	ids, ok := t.Column(idColumn)
	if !ok {
		return nil, model.Malformedf("applications: missing %q column", idColumn)
	}
	years, ok := t.Column("year")
	if !ok {
		return nil, model.Malformedf("applications: missing \"year\" column")
	}
	apps := make([]model.Application, t.Len())
	for r := range apps {
		id, ok := ids[r].Integer()
		if !ok {
			return nil, model.Malformedf("applications: row %d: %s %q is not an integer", r, idColumn, ids[r].String())
		}
		year, ok := years[r].Integer()
		if !ok {
			return nil, model.Malformedf("applications: row %d: year %q is not an integer", r, years[r].String())
		}
		apps[r] = model.Application{CompanyID: id, Year: int(year)}
	}
	return apps, nil
}
