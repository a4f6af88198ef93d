package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/feature-cli/internal/dataset"
	"github.com/sells-group/feature-cli/internal/store"
)

var (
	inspectDataset string
	inspectFormat  string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize how a wide dataset is indexed",
	Long:  "Builds the (company, year, field) index for a dataset and prints the companies, years, and fields it recognised.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("compute"); err != nil {
			return err
		}

		dsOpts, err := datasetOptions()
		if err != nil {
			return err
		}

		var st store.Store
		if strings.HasPrefix(inspectDataset, storePrefix) {
			s, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		raw, err := loadTable(ctx, inspectDataset, inspectFormat, st)
		if err != nil {
			return err
		}
		view, err := dataset.Build(raw, dsOpts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		years := view.Years()
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Rows:\t%d\n", raw.Len())
		_, _ = fmt.Fprintf(w, "Companies:\t%d\n", len(view.Companies()))
		_, _ = fmt.Fprintf(w, "Values:\t%d\n", view.Len())
		if len(years) > 0 {
			_, _ = fmt.Fprintf(w, "Years:\t%d-%d (%d)\n", years[0], years[len(years)-1], len(years))
		}
		_ = w.Flush()

		fields := view.Fields()
		if len(fields) == 0 {
			return nil
		}
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "FIELD\tVALUES")
		_, _ = fmt.Fprintln(w, "-----\t------")
		companies := view.Companies()
		for _, f := range fields {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", f, countField(view, companies, years, f))
		}
		return w.Flush()
	},
}

// countField counts the stored values of field across every company and year.
func countField(v *dataset.View, companies []int64, years []int, field string) int {
	n := 0
	for _, id := range companies {
		for _, y := range years {
			if !v.Raw(id, y, field).IsAbsent() {
				n++
			}
		}
	}
	return n
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDataset, "dataset", "", "wide company dataset (path, URL, or db:<table>)")
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "", "dataset format: csv, xlsx, json (default from extension)")
	_ = inspectCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(inspectCmd)
}
