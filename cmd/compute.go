package main

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/feature-cli/internal/features"
	"github.com/sells-group/feature-cli/internal/query"
	"github.com/sells-group/feature-cli/internal/store"
	"github.com/sells-group/feature-cli/internal/table"
	"github.com/sells-group/feature-cli/internal/tableio"
)

var (
	computeDataset       string
	computeDatasetFormat string
	computeApps          string
	computeAppsFormat    string
	computeQueries       string
	computeOutput        string
	computeOutputFormat  string
	computeSave          bool
	computeResultTable   string
	computeRecordRun     bool
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Evaluate a query list for every application",
	Long: `Loads the wide company dataset and the application list, evaluates every
query, and writes one row per application with an _id column followed by one
column per query. Tables may be local files, http(s)/ftp URLs, or db:<table>.`,
	Example: `  feature-cli compute --dataset companies.csv --applications apps.csv --queries queries.yaml -o features.xlsx
  feature-cli compute --dataset db:companies --applications apps.json --queries queries.json --save`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("compute"); err != nil {
			return err
		}
		return runCompute(cmd.Context(), cmd.OutOrStdout())
	},
}

func needsStore() bool {
	return computeSave || computeRecordRun ||
		strings.HasPrefix(computeDataset, storePrefix) ||
		strings.HasPrefix(computeApps, storePrefix)
}

func runCompute(ctx context.Context, stdout io.Writer) (err error) {
	engine, err := initEngine()
	if err != nil {
		return err
	}

	var st store.Store
	if needsStore() {
		st, err = initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
	}

	var run *store.Run
	if computeRecordRun {
		run = store.NewRun(computeDataset)
		if err := st.SaveRun(ctx, run); err != nil {
			return err
		}
		defer func() {
			run.Finish(err)
			if saveErr := st.SaveRun(context.WithoutCancel(ctx), run); saveErr != nil {
				zap.L().Error("compute: record run", zap.String("run_id", run.ID), zap.Error(saveErr))
			}
		}()
	}

	queries, err := query.Load(computeQueries)
	if err != nil {
		return err
	}
	raw, err := loadTable(ctx, computeDataset, computeDatasetFormat, st)
	if err != nil {
		return eris.Wrap(err, "compute: dataset")
	}
	appsTable, err := loadTable(ctx, computeApps, computeAppsFormat, st)
	if err != nil {
		return eris.Wrap(err, "compute: applications")
	}
	apps, err := features.ApplicationsFromTable(appsTable, engine.Options().Dataset.IDColumnOrDefault())
	if err != nil {
		return err
	}
	if run != nil {
		run.Applications = len(apps)
		run.Queries = len(queries)
	}

	out, err := engine.GetData(ctx, raw, apps, queries)
	if err != nil {
		return err
	}
	if run != nil {
		run.Columns = len(out.Columns())
	}

	if err := writeResult(stdout, out); err != nil {
		return err
	}

	if computeSave {
		name := computeResultTable
		if name == "" {
			name = cfg.Store.ResultTable
		}
		if err := st.SaveTable(ctx, name, out); err != nil {
			return err
		}
		zap.L().Info("compute: saved result", zap.String("table", name), zap.Int("rows", out.Len()))
	}
	return nil
}

func writeResult(stdout io.Writer, out *table.Table) error {
	path := computeOutput
	if path == "" {
		path = cfg.Output.Path
	}
	format := computeOutputFormat
	if format == "" {
		format = cfg.Output.Format
	}
	f, err := tableio.ParseFormat(format)
	if err != nil {
		return err
	}

	var delim rune
	if d := []rune(cfg.Dataset.Delimiter); len(d) > 0 {
		delim = d[0]
	}

	if path == "" || path == "-" {
		if f == "" {
			f = tableio.FormatCSV
		}
		return tableio.Write(stdout, out, f, delim)
	}
	if err := tableio.WriteFile(path, out, f, delim); err != nil {
		return err
	}
	zap.L().Info("compute: wrote result", zap.String("path", path), zap.Int("rows", out.Len()))
	return nil
}

func init() {
	computeCmd.Flags().StringVar(&computeDataset, "dataset", "", "wide company dataset (path, URL, or db:<table>)")
	computeCmd.Flags().StringVar(&computeDatasetFormat, "dataset-format", "", "dataset format: csv, xlsx, json (default from extension)")
	computeCmd.Flags().StringVar(&computeApps, "applications", "", "applications table with _id and year columns")
	computeCmd.Flags().StringVar(&computeAppsFormat, "applications-format", "", "applications format: csv, xlsx, json (default from extension)")
	computeCmd.Flags().StringVar(&computeQueries, "queries", "", "query list file (.yaml or .json)")
	computeCmd.Flags().StringVarP(&computeOutput, "output", "o", "", "output file (default stdout)")
	computeCmd.Flags().StringVar(&computeOutputFormat, "output-format", "", "output format: csv, xlsx, json (default from extension, csv on stdout)")
	computeCmd.Flags().BoolVar(&computeSave, "save", false, "also save the result table to the store")
	computeCmd.Flags().StringVar(&computeResultTable, "result-table", "", "store table for --save (default store.result_table)")
	computeCmd.Flags().BoolVar(&computeRecordRun, "record-run", false, "record the run in the store's run log")
	_ = computeCmd.MarkFlagRequired("dataset")
	_ = computeCmd.MarkFlagRequired("applications")
	_ = computeCmd.MarkFlagRequired("queries")
	rootCmd.AddCommand(computeCmd)
}
