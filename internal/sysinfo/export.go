package sysinfo

import (
	"github.com/agentic-research/platinfo/internal/iovirt"
	"github.com/agentic-research/platinfo/internal/peripheral"
)

// Export returns the tables as nested maps and slices of strings and
// int64 values, ready for JSON encoding or JSONPath queries. A released
// handle exports an empty map.
func (i *Info) Export() map[string]any {
	if i.Closed() {
		return map[string]any{}
	}
	return map[string]any{
		"iovirt":     exportIOVirt(i.IOVirt),
		"timer":      i.exportTimer(),
		"watchdog":   i.exportWatchdog(),
		"peripheral": exportPeripheral(i.Peripheral),
		"summary": map[string]any{
			"network": int64(i.Summary.Network),
			"storage": int64(i.Summary.Storage),
			"display": int64(i.Summary.Display),
		},
	}
}

func n[T ~int | ~uint32 | ~uint64](v T) int64 { return int64(v) }

func exportIOVirt(t *iovirt.Table) map[string]any {
	out := map[string]any{
		"num_blocks":           n(t.NumBlocks()),
		"num_smmus":            int64(0),
		"num_root_complexes":   int64(0),
		"num_named_components": int64(0),
		"num_its_groups":       int64(0),
		"num_pmcgs":            int64(0),
	}
	blocks := []any{}
	if t != nil {
		out["num_smmus"] = n(t.NumSMMUs)
		out["num_root_complexes"] = n(t.NumRootComplexes)
		out["num_named_components"] = n(t.NumNamedComponents)
		out["num_its_groups"] = n(t.NumITSGroups)
		out["num_pmcgs"] = n(t.NumPMCGs)
		for idx, b := range t.Blocks {
			blocks = append(blocks, exportBlock(idx, b))
		}
	}
	out["blocks"] = blocks
	return out
}

func exportBlock(idx int, b *iovirt.Block) map[string]any {
	m := map[string]any{
		"index": n(idx),
		"type":  b.Type.String(),
		"flags": n(uint32(b.Flags)),
	}
	switch d := b.Data.(type) {
	case *iovirt.ITSGroup:
		ids := make([]any, len(d.IDs))
		for k, id := range d.IDs {
			ids[k] = n(id)
		}
		m["its_ids"] = ids
	case *iovirt.NamedComponent:
		m["name"] = d.Name
		m["cca"] = n(d.CCA)
		m["smmu_base"] = n(d.SMMUBase)
	case *iovirt.RootComplex:
		m["segment"] = n(d.Segment)
		m["cca"] = n(d.CCA)
		m["ats_attr"] = n(d.ATSAttr)
	case *iovirt.SMMU:
		m["base"] = n(d.Base)
		m["arch_major_rev"] = n(d.ArchMajorRev)
		m["num_context_interrupts"] = n(len(d.ContextInterrupts))
	case *iovirt.PMCG:
		m["base"] = n(d.Base)
		m["overflow_gsiv"] = n(d.OverflowGSIV)
		m["node_ref"] = n(d.NodeRef)
		m["smmu_base"] = n(d.SMMUBase)
	}
	maps := make([]any, len(b.Maps))
	for k, mp := range b.Maps {
		maps[k] = map[string]any{
			"input_base":  n(mp.InputBase),
			"id_count":    n(mp.IDCount),
			"output_base": n(mp.OutputBase),
			"output_ref":  n(mp.OutputRef),
		}
	}
	m["maps"] = maps
	return m
}

func (i *Info) exportTimer() map[string]any {
	t := i.Timer
	if t == nil {
		return map[string]any{"num_platform_timers": int64(0), "blocks": []any{}}
	}
	blocks := make([]any, len(t.Blocks))
	for k, b := range t.Blocks {
		frames := make([]any, len(b.Frames))
		for j, f := range b.Frames {
			frames[j] = map[string]any{
				"frame_num":    n(f.FrameNum),
				"cnt_base":     n(f.CntBase),
				"cnt_el0_base": n(f.CntEL0Base),
				"gsiv":         n(f.GSIV),
				"virt_gsiv":    n(f.VirtGSIV),
				"flags":        n(f.Flags),
			}
		}
		blocks[k] = map[string]any{
			"type":         n(b.Type),
			"cnt_ctl_base": n(b.CntCtlBase),
			"frames":       frames,
		}
	}
	return map[string]any{
		"counter_frequency":   n(t.CounterFrequency),
		"s_el1_timer_gsiv":    n(t.SEL1GSIV),
		"ns_el1_timer_gsiv":   n(t.NSEL1GSIV),
		"virtual_timer_gsiv":  n(t.VirtGSIV),
		"el2_timer_gsiv":      n(t.EL2GSIV),
		"el2_virt_timer_gsiv": n(t.EL2VirtGSIV),
		"s_el1_timer_flag":    n(t.SEL1Flags),
		"ns_el1_timer_flag":   n(t.NSEL1Flags),
		"virtual_timer_flag":  n(t.VirtFlags),
		"el2_timer_flag":      n(t.EL2Flags),
		"el2_virt_timer_flag": n(t.EL2VirtFlags),
		"num_platform_timers": n(t.NumPlatformTimers),
		"blocks":              blocks,
	}
}

func (i *Info) exportWatchdog() map[string]any {
	entries := []any{}
	if i.Watchdog != nil {
		for _, e := range i.Watchdog.Entries {
			entries = append(entries, map[string]any{
				"control_base": n(e.ControlBase),
				"refresh_base": n(e.RefreshBase),
				"gsiv":         n(e.GSIV),
				"flags":        n(e.Flags),
			})
		}
	}
	return map[string]any{"num_watchdogs": n(len(entries)), "entries": entries}
}

func exportPeripheral(t *peripheral.Table) map[string]any {
	if t == nil {
		t = &peripheral.Table{}
	}
	entries := make([]any, len(t.Entries))
	for k, e := range t.Entries {
		entries[k] = map[string]any{
			"type":           e.Type.String(),
			"base0":          n(e.Base0),
			"base1":          n(e.Base1),
			"width":          n(e.Width),
			"gsiv":           n(e.GSIV),
			"flags":          n(e.Flags),
			"bdf":            peripheral.FormatBDF(e.BDF),
			"baud_rate":      n(e.BaudRate),
			"interface_type": n(e.InterfaceType),
			"platform_type":  n(e.PlatformType),
			"max_pasids":     n(e.MaxPASIDs),
		}
	}
	return map[string]any{
		"num_usb":  n(t.NumUSB),
		"num_sata": n(t.NumSATA),
		"num_uart": n(t.NumUART),
		"num_all":  n(t.NumAll),
		"entries":  entries,
	}
}
