package timer

import (
	"strings"
	"testing"

	"github.com/agentic-research/platinfo/api"
	"github.com/agentic-research/platinfo/internal/fwdesc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	tree   *fwdesc.Tree
	gic    fwdesc.Handle
	sys    fwdesc.Handle
	mem    fwdesc.Handle
	frames []fwdesc.Handle
	cntctl uint64
}

func newFixture() *fixture {
	f := &fixture{cntctl: 0x2a810000}
	f.tree = fwdesc.NewTree(
		fwdesc.U32Prop("#address-cells", 1),
		fwdesc.U32Prop("#size-cells", 1),
		fwdesc.U32Prop("interrupt-parent", 1),
	)
	root := f.tree.Root()
	f.gic = f.tree.AddNode(root, "interrupt-controller@2f000000",
		fwdesc.StringProp("compatible", "arm,gic-v3"),
		fwdesc.U32Prop("#interrupt-cells", 3),
		fwdesc.U32Prop("phandle", 1),
	)
	f.sys = f.tree.AddNode(root, "timer",
		fwdesc.StringProp("compatible", "arm,armv8-timer", "arm,armv7-timer"),
		fwdesc.U32Prop("interrupts",
			1, 13, 0xf08,
			1, 14, 0xf08,
			1, 11, 0xf08,
			1, 10, 0xf08,
			1, 12, 0xf08),
		fwdesc.EmptyProp("always-on"),
	)
	f.mem = f.tree.AddNode(root, "timer@2a810000",
		fwdesc.StringProp("compatible", "arm,armv7-timer-mem"),
		fwdesc.U32Prop("reg", 0x2a810000, 0x10000),
		fwdesc.U32Prop("#address-cells", 1),
		fwdesc.U32Prop("#size-cells", 1),
	)
	f.tree.AddNode(f.mem, "ranges-holder")
	f.frames = []fwdesc.Handle{
		f.tree.AddNode(f.mem, "frame@2a830000",
			fwdesc.U32Prop("frame-number", 1),
			fwdesc.U32Prop("interrupts", 0, 60, 4, 0, 61, 4),
			fwdesc.U32Prop("reg", 0x2a830000, 0x10000),
		),
		f.tree.AddNode(f.mem, "frame@20000",
			fwdesc.U32Prop("frame-number", 0),
			fwdesc.U32Prop("interrupts", 0, 62, 4),
			fwdesc.U32Prop("reg", 0x20000, 0x10000),
		),
	}
	return f
}

func TestBuild_SystemTimer(t *testing.T) {
	f := newFixture()
	tbl, err := Build(f.tree, nil)
	require.NoError(t, err)

	assert.Equal(t, uint32(29), tbl.SEL1GSIV)
	assert.Equal(t, uint32(30), tbl.NSEL1GSIV)
	assert.Equal(t, uint32(27), tbl.VirtGSIV)
	assert.Equal(t, uint32(26), tbl.EL2GSIV)
	assert.Equal(t, uint32(28), tbl.EL2VirtGSIV)
	for _, fl := range []uint32{tbl.SEL1Flags, tbl.NSEL1Flags, tbl.VirtFlags, tbl.EL2Flags, tbl.EL2VirtFlags} {
		assert.Equal(t, FlagAlwaysOn, fl)
	}
}

func TestBuild_SystemTimerVariants(t *testing.T) {
	t.Run("not always on", func(t *testing.T) {
		f := newFixture()
		f.tree.RemoveProp(f.sys, "always-on")
		f.tree.SetProp(f.sys, fwdesc.U32Prop("interrupts", 1, 13, 4, 1, 14, 4))
		tbl, err := Build(f.tree, nil)
		require.NoError(t, err)
		assert.Zero(t, tbl.NSEL1Flags)
		assert.Equal(t, uint32(30), tbl.NSEL1GSIV)
		assert.Zero(t, tbl.VirtGSIV, "only two interrupts listed")
	})

	t.Run("armv7 compatible", func(t *testing.T) {
		f := newFixture()
		f.tree.SetProp(f.sys, fwdesc.StringProp("compatible", "arm,armv7-timer"))
		tbl, err := Build(f.tree, nil)
		require.NoError(t, err)
		assert.Equal(t, uint32(30), tbl.NSEL1GSIV)
	})

	t.Run("non PPI interrupt is skipped", func(t *testing.T) {
		f := newFixture()
		f.tree.SetProp(f.sys, fwdesc.U32Prop("interrupts", 0, 13, 4, 1, 14, 4))
		tbl, err := Build(f.tree, nil)
		require.NoError(t, err)
		assert.Zero(t, tbl.SEL1GSIV)
		assert.Equal(t, uint32(30), tbl.NSEL1GSIV)
	})

	t.Run("two cell specifiers are raw ids", func(t *testing.T) {
		f := newFixture()
		f.tree.SetProp(f.gic, fwdesc.U32Prop("#interrupt-cells", 2))
		f.tree.SetProp(f.sys, fwdesc.U32Prop("interrupts", 29, 4, 30, 4, 27, 4))
		f.tree.SetProp(f.frames[0], fwdesc.U32Prop("interrupts", 92, 4, 93, 4))
		f.tree.SetProp(f.frames[1], fwdesc.U32Prop("interrupts", 94, 4))
		tbl, err := Build(f.tree, nil)
		require.NoError(t, err)
		assert.Equal(t, uint32(29), tbl.SEL1GSIV)
		assert.Equal(t, uint32(30), tbl.NSEL1GSIV)
		assert.Equal(t, uint32(27), tbl.VirtGSIV)
		assert.Equal(t, uint32(92), tbl.Blocks[0].Frames[0].GSIV)
		assert.Equal(t, uint32(93), tbl.Blocks[0].Frames[0].VirtGSIV)
	})

	t.Run("invalid interrupt cells", func(t *testing.T) {
		f := newFixture()
		f.tree.SetProp(f.gic, fwdesc.U32Prop("#interrupt-cells", 5))
		_, err := Build(f.tree, nil)
		assert.ErrorIs(t, err, ErrInvalidCells)
	})

	t.Run("missing interrupts", func(t *testing.T) {
		tree := fwdesc.NewTree(fwdesc.U32Prop("#interrupt-cells", 3))
		tree.AddNode(tree.Root(), "timer", fwdesc.StringProp("compatible", "arm,armv8-timer"))
		_, err := Build(tree, nil)
		assert.ErrorIs(t, err, ErrMissingProperty)
	})
}

func TestBuild_MemTimer(t *testing.T) {
	f := newFixture()
	tbl, err := Build(f.tree, nil)
	require.NoError(t, err)

	require.Len(t, tbl.Blocks, 1)
	blk := tbl.Blocks[0]
	assert.Equal(t, TypeSysTimer, blk.Type)
	assert.Equal(t, f.cntctl, blk.CntCtlBase)
	require.Len(t, blk.Frames, 2)
	assert.Equal(t, 2, tbl.NumPlatformTimers)

	assert.Equal(t, Frame{FrameNum: 1, CntBase: 0x2a830000, GSIV: 92, VirtGSIV: 93}, blk.Frames[0])
	// The second frame's base is an offset from the control frame.
	assert.Equal(t, uint64(0x2a830000), blk.Frames[1].CntBase)
	assert.Equal(t, uint32(94), blk.Frames[1].GSIV)
}

func TestBuild_VirtualGSIVNeedsTwoSpecifiers(t *testing.T) {
	f := newFixture()
	f.tree.SetProp(f.frames[0], fwdesc.U32Prop("interrupts", 0, 60, 4, 0, 61))
	tbl, err := Build(f.tree, nil)
	require.NoError(t, err)

	fr := tbl.Blocks[0].Frames[0]
	assert.Equal(t, uint32(92), fr.GSIV)
	assert.Zero(t, fr.VirtGSIV)
	assert.Zero(t, tbl.Blocks[0].Frames[1].VirtGSIV)
}

func TestBuild_FrameInterruptMustBeSPI(t *testing.T) {
	f := newFixture()
	f.tree.SetProp(f.frames[0], fwdesc.U32Prop("interrupts", 1, 60, 4, 0, 61, 4))
	tbl, err := Build(f.tree, nil)
	require.NoError(t, err)
	assert.Zero(t, tbl.Blocks[0].Frames[0].GSIV)
	assert.Equal(t, uint32(93), tbl.Blocks[0].Frames[0].VirtGSIV)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("no description", func(t *testing.T) {
		tbl, err := Build(nil, nil)
		assert.ErrorIs(t, err, ErrNoTimerNode)
		require.NotNil(t, tbl)
		assert.Zero(t, tbl.NumPlatformTimers)
	})

	t.Run("no system timer", func(t *testing.T) {
		tree := fwdesc.NewTree()
		_, err := Build(tree, nil)
		assert.ErrorIs(t, err, ErrNoTimerNode)
	})

	t.Run("no memory-mapped timer keeps header", func(t *testing.T) {
		f := newFixture()
		f.tree.SetProp(f.mem, fwdesc.StringProp("compatible", "vendor,other"))
		tbl, err := Build(f.tree, nil)
		assert.ErrorIs(t, err, ErrNoMemTimerNode)
		assert.Equal(t, uint32(30), tbl.NSEL1GSIV)
		assert.Zero(t, tbl.NumPlatformTimers)
		assert.Empty(t, tbl.Blocks)
	})

	t.Run("bad parent cells", func(t *testing.T) {
		f := newFixture()
		f.tree.SetProp(f.tree.Root(), fwdesc.U32Prop("#address-cells", 3))
		_, err := Build(f.tree, nil)
		assert.ErrorIs(t, err, ErrInvalidCells)
	})

	t.Run("bad frame cells", func(t *testing.T) {
		f := newFixture()
		f.tree.SetProp(f.mem, fwdesc.U32Prop("#size-cells", 0))
		_, err := Build(f.tree, nil)
		assert.ErrorIs(t, err, ErrInvalidCells)
	})

	t.Run("frame without interrupts keeps earlier frames", func(t *testing.T) {
		f := newFixture()
		f.tree.AddNode(f.mem, "frame@2a850000",
			fwdesc.U32Prop("reg", 0x2a850000, 0x10000))
		tbl, err := Build(f.tree, nil)
		assert.ErrorIs(t, err, ErrMissingProperty)
		assert.Equal(t, 2, tbl.NumPlatformTimers)
		assert.Len(t, tbl.Blocks[0].Frames, 2)
	})
}

func TestBuild_NoFrames(t *testing.T) {
	tree := fwdesc.NewTree(fwdesc.U32Prop("#interrupt-cells", 3))
	tree.AddNode(tree.Root(), "timer",
		fwdesc.StringProp("compatible", "arm,armv8-timer"),
		fwdesc.U32Prop("interrupts", 1, 13, 4))
	tree.AddNode(tree.Root(), "timer@2a810000",
		fwdesc.StringProp("compatible", "arm,armv7-timer-mem"),
		fwdesc.U32Prop("reg", 0, 0x2a810000, 0x10000),
		fwdesc.U32Prop("#address-cells", 1),
		fwdesc.U32Prop("#size-cells", 1))

	tbl, err := Build(tree, nil)
	require.NoError(t, err)
	require.Len(t, tbl.Blocks, 1)
	assert.Equal(t, uint64(0x2a810000), tbl.Blocks[0].CntCtlBase)
	assert.Empty(t, tbl.Blocks[0].Frames)
	assert.Zero(t, tbl.NumPlatformTimers)
}

func TestBuild_Override(t *testing.T) {
	f := newFixture()
	tbl, err := Build(f.tree, &api.Timer{
		CounterFrequency: 100_000_000,
		EL2VirtTimerGSIV: 19,
		PlatformTimer: &api.PlatformTimer{
			CntCtlBase: "0x2a400000",
			CntBase:    "0x2a410000",
			GSIV:       0x40,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(100_000_000), tbl.CounterFrequency)
	assert.Equal(t, uint32(19), tbl.EL2VirtGSIV)
	assert.Equal(t, 1, tbl.NumPlatformTimers)
	require.Len(t, tbl.Blocks, 1)
	assert.Equal(t, uint64(0x2a400000), tbl.Blocks[0].CntCtlBase)
	assert.Equal(t, []Frame{{CntBase: 0x2a410000, GSIV: 0x40}}, tbl.Blocks[0].Frames)

	t.Run("applies without a description", func(t *testing.T) {
		tbl, err := Build(nil, &api.Timer{EL2VirtTimerGSIV: 19})
		assert.ErrorIs(t, err, ErrNoTimerNode)
		assert.Equal(t, uint32(19), tbl.EL2VirtGSIV)
	})
}

func TestInfo(t *testing.T) {
	f := newFixture()
	tbl, err := Build(f.tree, &api.Timer{CounterFrequency: 50_000_000})
	require.NoError(t, err)
	tbl.Blocks[0].Frames[1].Flags = 1 << 16

	assert.Equal(t, uint64(50_000_000), tbl.Info(InfoCounterFrequency, 0))
	assert.Equal(t, uint64(30), tbl.Info(InfoPhyEL1IntID, 0))
	assert.Equal(t, uint64(FlagAlwaysOn), tbl.Info(InfoPhyEL1Flags, 0))
	assert.Equal(t, uint64(27), tbl.Info(InfoVirEL1IntID, 0))
	assert.Equal(t, uint64(26), tbl.Info(InfoPhyEL2IntID, 0))
	assert.Equal(t, uint64(28), tbl.Info(InfoVirEL2IntID, 0))
	assert.Equal(t, uint64(29), tbl.Info(InfoSecPhyEL1IntID, 0))
	assert.Equal(t, uint64(2), tbl.Info(InfoNumPlatformTimers, 0))

	assert.Equal(t, f.cntctl, tbl.Info(InfoSysCntlBase, 1))
	assert.Equal(t, uint64(0x2a830000), tbl.Info(InfoSysCntBaseN, 0))
	assert.Equal(t, uint64(1), tbl.Info(InfoFrameNum, 0))
	assert.Equal(t, uint64(94), tbl.Info(InfoSysIntID, 1))
	assert.Equal(t, uint64(93), tbl.Info(InfoSysVirtIntID, 0))
	assert.Zero(t, tbl.Info(InfoIsPlatformTimerSecure, 0))
	assert.Equal(t, uint64(1), tbl.Info(InfoIsPlatformTimerSecure, 1))

	assert.Zero(t, tbl.Info(InfoSysIntID, 2))
	assert.Zero(t, tbl.Info(InfoSysIntID, -1))
	assert.Zero(t, tbl.Info(TimerInfo(99), 0))

	var nilTable *Table
	assert.Zero(t, nilTable.Info(InfoCounterFrequency, 0))
}

func TestDump(t *testing.T) {
	f := newFixture()
	tbl, err := Build(f.tree, nil)
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, tbl.Dump(&sb))
	out := sb.String()
	for _, want := range []string{
		"s_el1_timer_flag:0x4\n",
		"ns_el1_timer_gsiv:30\n",
		"el2_virt_timer_gsiv:28\n",
		"num_platform_timer:2\n",
		"gt_block[0] type:0x2001 cnt_ctl_base:0x2a810000 timer_count:2\n",
		"  frame[0] frame_num:1 cnt_base:0x2a830000 cnt_el0_base:0x0 gsiv:92 virt_gsiv:93 flags:0x0\n",
	} {
		assert.Contains(t, out, want)
	}
}
