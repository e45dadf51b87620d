package cmd

import (
	"fmt"
	"io"

	"github.com/agentic-research/platinfo/internal/check"
	"github.com/agentic-research/platinfo/internal/sysinfo"
	"github.com/spf13/cobra"
)

var (
	checkRule string
	checkList bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate architectural rules over the tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkList {
			listRules(cmd.OutOrStdout())
			return nil
		}
		info, err := loadInfo()
		if err != nil {
			return err
		}
		defer func() { _ = info.Close() }()
		return runChecks(cmd.OutOrStdout(), info, checkRule)
	},
}

func listRules(w io.Writer) {
	for _, r := range check.Rules {
		fmt.Fprintf(w, "%-28s %s\n", r.Name, r.Description)
	}
}

func runChecks(w io.Writer, info *sysinfo.Info, prefix string) error {
	results := check.Run(info, prefix)
	if len(results) == 0 {
		return fmt.Errorf("no rule matches %q", prefix)
	}
	for _, r := range results {
		fmt.Fprintln(w, r)
	}
	t := check.Tally(results)
	fmt.Fprintf(w, "pass:%d fail:%d skip:%d\n", t.Pass, t.Fail, t.Skip)
	if t.Fail > 0 {
		return fmt.Errorf("%d of %d checks failed", t.Fail, len(results))
	}
	return nil
}

func init() {
	checkCmd.Flags().StringVarP(&checkRule, "rule", "r", "", "Run only rules with this name prefix")
	checkCmd.Flags().BoolVarP(&checkList, "list", "l", false, "List rules and exit")
	rootCmd.AddCommand(checkCmd)
}
