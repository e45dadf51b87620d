package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/agentic-research/platinfo/internal/infodb"
	"github.com/agentic-research/platinfo/internal/query"
	"github.com/agentic-research/platinfo/internal/sysinfo"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query [jsonpath]",
	Short: "Select values from the exported tables with JSONPath",
	Example: `  platinfo -c platform.hcl query '$.iovirt.blocks[?(@.type == "smmu_v3")].base'
  platinfo -c platform.hcl query '$.peripheral.entries[*].bdf'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := loadInfo()
		if err != nil {
			return err
		}
		defer func() { _ = info.Close() }()
		return runQuery(cmd.OutOrStdout(), info, args[0])
	},
}

func runQuery(w io.Writer, info *sysinfo.Info, selector string) error {
	matches, err := query.Query(info.Export(), selector)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, query.JSON(query.Values(matches)))
	return err
}

var sqlCmd = &cobra.Command{
	Use:   "sql [statement]",
	Short: "Run SQL against an in-memory copy of the tables",
	Long: `sql loads the tables into an in-memory SQLite database with the tables
blocks, id_maps, timer_frames, watchdogs and peripherals, runs the
statement and prints the rows.`,
	Example: `  platinfo -c platform.hcl sql 'SELECT type, count(*) FROM blocks GROUP BY type'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := loadInfo()
		if err != nil {
			return err
		}
		defer func() { _ = info.Close() }()
		return runSQL(cmd.OutOrStdout(), info, args[0])
	},
}

func runSQL(w io.Writer, info *sysinfo.Info, stmt string) error {
	db, err := infodb.Open(info)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	cols, rows, err := db.Query(stmt)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	tw := tabwriter.NewWriter(w, 4, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(sqlCmd)
}
