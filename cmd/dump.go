package cmd

import (
	"fmt"
	"io"

	"github.com/agentic-research/platinfo/internal/query"
	"github.com/agentic-research/platinfo/internal/sysinfo"
	"github.com/spf13/cobra"
)

var (
	dumpFormat string
	dumpTable  string
)

var tableNames = []string{"iovirt", "timer", "watchdog", "peripheral"}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the information tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := loadInfo()
		if err != nil {
			return err
		}
		defer func() { _ = info.Close() }()
		return dump(cmd.OutOrStdout(), info, dumpFormat, dumpTable)
	},
}

func dump(w io.Writer, info *sysinfo.Info, format, table string) error {
	if table != "" && !validTable(table) {
		return fmt.Errorf("unknown table %q (want one of %v)", table, tableNames)
	}

	switch format {
	case "json":
		exported := info.Export()
		var v any = exported
		if table != "" {
			v = exported[table]
		}
		_, err := fmt.Fprintln(w, query.JSON(v))
		return err
	case "text":
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}

	dumpers := map[string]func(io.Writer) error{
		"iovirt":     info.IOVirt.Dump,
		"timer":      info.Timer.Dump,
		"watchdog":   info.Watchdog.Dump,
		"peripheral": info.Peripheral.Dump,
	}
	for _, name := range tableNames {
		if table != "" && name != table {
			continue
		}
		if _, err := fmt.Fprintf(w, "# %s\n", name); err != nil {
			return err
		}
		if err := dumpers[name](w); err != nil {
			return fmt.Errorf("dump %s: %w", name, err)
		}
	}
	return nil
}

func validTable(name string) bool {
	for _, n := range tableNames {
		if n == name {
			return true
		}
	}
	return false
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFormat, "format", "f", "text", "Output format: text or json")
	dumpCmd.Flags().StringVarP(&dumpTable, "table", "t", "", "Limit output to one table")
	rootCmd.AddCommand(dumpCmd)
}
