package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/feature-cli/internal/query"
)

var columnsQueries string

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Print the output column names a query list produces",
	RunE: func(cmd *cobra.Command, _ []string) error {
		queries, err := query.Load(columnsQueries)
		if err != nil {
			return err
		}
		for _, name := range query.Columns(queries) {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	columnsCmd.Flags().StringVar(&columnsQueries, "queries", "", "query list file (.yaml or .json)")
	_ = columnsCmd.MarkFlagRequired("queries")
	rootCmd.AddCommand(columnsCmd)
}
