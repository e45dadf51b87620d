package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/agentic-research/platinfo/internal/iovirt"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [segment] [requester-id]",
	Short: "Find the SMMU and ITS group serving a PCIe requester ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		segment, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid segment %q: %w", args[0], err)
		}
		rid, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid requester id %q: %w", args[1], err)
		}

		info, err := loadInfo()
		if err != nil {
			return err
		}
		defer func() { _ = info.Close() }()
		return resolve(cmd.OutOrStdout(), info.IOVirt, uint32(segment), uint32(rid))
	},
}

func resolve(w io.Writer, t *iovirt.Table, segment, rid uint32) error {
	switch base := t.Resolve(segment, rid); base {
	case iovirt.NotFound:
		fmt.Fprintf(w, "smmu_base:not_found\n")
	case iovirt.NoSMMU:
		fmt.Fprintf(w, "smmu_base:none\n")
	default:
		fmt.Fprintf(w, "smmu_base:0x%x\n", base)
	}

	tr, err := t.Translate(segment, rid)
	if len(tr.Path) > 0 {
		hops := make([]string, len(tr.Path))
		for i, idx := range tr.Path {
			hops[i] = fmt.Sprintf("%s[%d]", t.Block(idx).Type, idx)
		}
		fmt.Fprintf(w, "stream_id:0x%x\n", tr.StreamID)
		fmt.Fprintf(w, "path:%s\n", strings.Join(hops, " -> "))
	}
	if err != nil {
		return err
	}
	if tr.ITSGroup != iovirt.NoRef {
		fmt.Fprintf(w, "device_id:0x%x its_group:%d\n", tr.DeviceID, tr.ITSGroup)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
