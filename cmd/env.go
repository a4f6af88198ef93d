package main

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/feature-cli/internal/dataset"
	"github.com/sells-group/feature-cli/internal/features"
	"github.com/sells-group/feature-cli/internal/fetcher"
	"github.com/sells-group/feature-cli/internal/store"
	"github.com/sells-group/feature-cli/internal/table"
	"github.com/sells-group/feature-cli/internal/tableio"
)

// storePrefix marks a table location that is read from the configured database.
const storePrefix = "db:"

func datasetOptions() (dataset.Options, error) {
	re, err := regexp.Compile(cfg.Dataset.ColumnPattern)
	if err != nil {
		return dataset.Options{}, eris.Wrap(err, "compile dataset.column_pattern")
	}
	return dataset.Options{
		IDColumn:           cfg.Dataset.IDColumn,
		RegistrationColumn: cfg.Dataset.RegistrationColumn,
		ColumnPattern:      re,
	}, nil
}

func initEngine() (*features.Engine, error) {
	dsOpts, err := datasetOptions()
	if err != nil {
		return nil, err
	}
	terms := make([]features.Term, len(cfg.Features.ProfitTerms))
	for i, t := range cfg.Features.ProfitTerms {
		terms[i] = features.Term{Field: t.Field, Sign: t.Sign}
	}
	return features.New(features.Options{
		ProfitName:  cfg.Features.ProfitName,
		AgeName:     cfg.Features.AgeName,
		ProfitTerms: terms,
		AgePolicy:   features.AgePolicy(cfg.Features.AgePolicy),
		Concurrency: cfg.Features.Concurrency,
		Dataset:     dsOpts,
	})
}

func initFetcher() *fetcher.Client {
	return fetcher.New(fetcher.Options{
		HTTP: fetcher.HTTPOptions{
			UserAgent:   cfg.Fetch.UserAgent,
			Timeout:     cfg.Fetch.Timeout(),
			MaxRetries:  cfg.Fetch.MaxRetries,
			RatePerHost: rate.Limit(cfg.Fetch.RatePerHost),
		},
		FTP:     fetcher.FTPOptions{Timeout: cfg.Fetch.Timeout()},
		TempDir: cfg.Fetch.TempDir,
	})
}

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func readOptions(format string) (tableio.ReadOptions, error) {
	f, err := tableio.ParseFormat(format)
	if err != nil {
		return tableio.ReadOptions{}, err
	}
	var delim rune
	if d := []rune(cfg.Dataset.Delimiter); len(d) > 0 {
		delim = d[0]
	}
	opts := tableio.ReadOptions{Format: f}
	opts.CSV.Delimiter = delim
	opts.CSV.Charset = cfg.Dataset.Charset
	opts.CSV.LazyQuotes = true
	opts.XLSX.SheetName = cfg.Dataset.Sheet
	return opts, nil
}

// loadTable reads a table from a local path, an http(s)/ftp URL, or
// "db:<table>" when a store is configured.
func loadTable(ctx context.Context, location, format string, st store.Store) (*table.Table, error) {
	if name, ok := strings.CutPrefix(location, storePrefix); ok {
		if st == nil {
			return nil, eris.Errorf("%s needs store.database_url", location)
		}
		return st.LoadTable(ctx, name)
	}

	opts, err := readOptions(format)
	if err != nil {
		return nil, err
	}
	path, cleanup, err := initFetcher().Localize(ctx, location)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	t, err := tableio.ReadFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded table",
		zap.String("location", location),
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(t.Columns())),
	)
	return t, nil
}
