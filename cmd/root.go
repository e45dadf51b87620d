package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/agentic-research/platinfo/internal/sysinfo"
	log "github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dtbPath    string
)

func init() {
	// glog writes to files by default; a CLI wants stderr.
	_ = flag.Set("logtostderr", "true")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to platform configuration (HCL)")
	rootCmd.PersistentFlags().StringVarP(&dtbPath, "dtb", "d", "", "Path to flattened device tree (overrides the configured one)")
}

var rootCmd = &cobra.Command{
	Use:   "platinfo",
	Short: "Build and inspect platform information tables",
	Long: `platinfo builds the IO virtualization, generic timer, watchdog and
peripheral tables a compliance suite reads, from a platform configuration
and an optional device tree, and lets you dump, query and check them.`,
	SilenceUsage: true,
}

// loadInfo gathers the tables for the current flags. Construction errors
// are logged; the partial tables are still returned.
func loadInfo() (*sysinfo.Info, error) {
	info, err := sysinfo.Load(configPath, dtbPath)
	if info == nil {
		return nil, err
	}
	if err != nil {
		log.Warningf("incomplete tables: %v", err)
	}
	return info, nil
}

// Execute runs the root command.
func Execute() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes the command line and flushes the log before returning, so
// nothing buffered is lost when the caller exits.
func run(args []string) error {
	defer log.Flush()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}
