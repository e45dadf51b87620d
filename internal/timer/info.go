package timer

import (
	"bufio"
	"fmt"
	"io"
)

type TimerInfo int

const (
	InfoCounterFrequency TimerInfo = iota
	InfoPhyEL1IntID
	InfoPhyEL1Flags
	InfoVirEL1IntID
	InfoVirEL1Flags
	InfoPhyEL2IntID
	InfoPhyEL2Flags
	InfoVirEL2IntID
	InfoVirEL2Flags
	InfoSecPhyEL1IntID
	InfoSecPhyEL1Flags
	InfoNumPlatformTimers
	InfoIsPlatformTimerSecure
	InfoSysCntlBase
	InfoSysCntBaseN
	InfoFrameNum
	InfoSysIntID
	InfoSysVirtIntID
	InfoSysTimerFlags
)

const frameSecureBit = 16

// frame returns the block and frame for a global frame index.
func (t *Table) frame(instance int) (*GTBlock, *Frame) {
	if instance < 0 {
		return nil, nil
	}
	for i := range t.Blocks {
		b := &t.Blocks[i]
		if instance < len(b.Frames) {
			return b, &b.Frames[instance]
		}
		instance -= len(b.Frames)
	}
	return nil, nil
}

// Info returns one timer field. Per-frame fields take a frame index
// counted across all blocks; an unknown field or instance reads as 0.
func (t *Table) Info(info TimerInfo, instance int) uint64 {
	if t == nil {
		return 0
	}
	switch info {
	case InfoCounterFrequency:
		return t.CounterFrequency
	case InfoPhyEL1IntID:
		return uint64(t.NSEL1GSIV)
	case InfoPhyEL1Flags:
		return uint64(t.NSEL1Flags)
	case InfoVirEL1IntID:
		return uint64(t.VirtGSIV)
	case InfoVirEL1Flags:
		return uint64(t.VirtFlags)
	case InfoPhyEL2IntID:
		return uint64(t.EL2GSIV)
	case InfoPhyEL2Flags:
		return uint64(t.EL2Flags)
	case InfoVirEL2IntID:
		return uint64(t.EL2VirtGSIV)
	case InfoVirEL2Flags:
		return uint64(t.EL2VirtFlags)
	case InfoSecPhyEL1IntID:
		return uint64(t.SEL1GSIV)
	case InfoSecPhyEL1Flags:
		return uint64(t.SEL1Flags)
	case InfoNumPlatformTimers:
		return uint64(t.NumPlatformTimers)
	}

	b, f := t.frame(instance)
	if f == nil {
		return 0
	}
	switch info {
	case InfoIsPlatformTimerSecure:
		return uint64(f.Flags>>frameSecureBit) & 1
	case InfoSysCntlBase:
		return b.CntCtlBase
	case InfoSysCntBaseN:
		return f.CntBase
	case InfoFrameNum:
		return uint64(f.FrameNum)
	case InfoSysIntID:
		return uint64(f.GSIV)
	case InfoSysVirtIntID:
		return uint64(f.VirtGSIV)
	case InfoSysTimerFlags:
		return uint64(f.Flags)
	}
	return 0
}

func (t *Table) Dump(w io.Writer) error {
	if t == nil {
		t = &Table{}
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "s_el1_timer_flag:0x%x\n", t.SEL1Flags)
	fmt.Fprintf(bw, "ns_el1_timer_flag:0x%x\n", t.NSEL1Flags)
	fmt.Fprintf(bw, "el2_timer_flag:0x%x\n", t.EL2Flags)
	fmt.Fprintf(bw, "el2_virt_timer_flag:0x%x\n", t.EL2VirtFlags)
	fmt.Fprintf(bw, "s_el1_timer_gsiv:%d\n", t.SEL1GSIV)
	fmt.Fprintf(bw, "ns_el1_timer_gsiv:%d\n", t.NSEL1GSIV)
	fmt.Fprintf(bw, "el2_timer_gsiv:%d\n", t.EL2GSIV)
	fmt.Fprintf(bw, "virtual_timer_flag:0x%x\n", t.VirtFlags)
	fmt.Fprintf(bw, "virtual_timer_gsiv:%d\n", t.VirtGSIV)
	fmt.Fprintf(bw, "el2_virt_timer_gsiv:%d\n", t.EL2VirtGSIV)
	fmt.Fprintf(bw, "num_platform_timer:%d\n", t.NumPlatformTimers)
	fmt.Fprintf(bw, "counter_frequency:%d\n", t.CounterFrequency)
	for i, b := range t.Blocks {
		fmt.Fprintf(bw, "gt_block[%d] type:0x%x cnt_ctl_base:0x%x timer_count:%d\n",
			i, b.Type, b.CntCtlBase, len(b.Frames))
		for k, f := range b.Frames {
			fmt.Fprintf(bw, "  frame[%d] frame_num:%d cnt_base:0x%x cnt_el0_base:0x%x gsiv:%d virt_gsiv:%d flags:0x%x\n",
				k, f.FrameNum, f.CntBase, f.CntEL0Base, f.GSIV, f.VirtGSIV, f.Flags)
		}
	}
	return bw.Flush()
}
