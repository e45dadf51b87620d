// Package timer builds the generic timer table: the per-PE system timer
// interrupts and the memory-mapped timer frames.
package timer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/platinfo/api"
	"github.com/agentic-research/platinfo/internal/fwdesc"
	"github.com/agentic-research/platinfo/internal/irq"
	log "github.com/golang/glog"
)

const (
	// FlagAlwaysOn marks a timer that keeps counting in low power states.
	FlagAlwaysOn uint32 = 0x4
	// TypeSysTimer is the only GT block type a device tree can describe.
	TypeSysTimer uint32 = 0x2001

	maxSystemInterrupts = 5
)

var (
	sysTimerCompatible = []string{"arm,armv8-timer", "arm,armv7-timer"}
	memTimerCompatible = []string{"arm,armv7-timer-mem"}
)

var (
	ErrNoTimerNode     = errors.New("system timer node not found")
	ErrNoMemTimerNode  = errors.New("memory-mapped timer node not found")
	ErrInvalidCells    = errors.New("invalid cell width")
	ErrMissingProperty = errors.New("missing or short property")
)

// Header holds the per-PE timer interrupts.
type Header struct {
	SEL1GSIV    uint32
	NSEL1GSIV   uint32
	VirtGSIV    uint32
	EL2GSIV     uint32
	EL2VirtGSIV uint32

	SEL1Flags    uint32
	NSEL1Flags   uint32
	VirtFlags    uint32
	EL2Flags     uint32
	EL2VirtFlags uint32

	NumPlatformTimers int
}

// Frame is one memory-mapped timer frame.
type Frame struct {
	FrameNum   uint32
	CntBase    uint64
	CntEL0Base uint64
	GSIV       uint32
	VirtGSIV   uint32
	// Flags carries physical flags in bits 0-7, virtual flags in 8-15 and
	// common flags in 16-23.
	Flags uint32
}

// GTBlock is a memory-mapped timer block and its frames.
type GTBlock struct {
	Type       uint32
	CntCtlBase uint64
	Frames     []Frame
}

type Table struct {
	Header
	Blocks           []GTBlock
	CounterFrequency uint64
}

func firstCompatible(dec fwdesc.Decoder, compat []string) (fwdesc.Handle, bool) {
	for _, c := range compat {
		if hs := fwdesc.FindCompatible(dec, c); len(hs) > 0 {
			return hs[0], true
		}
	}
	return fwdesc.NoNode, false
}

// Build discovers the timers described by dec and applies the platform
// override. The table built up to a failure is returned with the error;
// the override is applied in every case.
func Build(dec fwdesc.Decoder, cfg *api.Timer) (*Table, error) {
	t := &Table{}
	err := discover(dec, t)
	if err != nil {
		log.Errorf("timer: %v", err)
	}
	applyOverride(t, cfg)

	log.Infof("timer: %d platform timers", t.NumPlatformTimers)
	if log.V(2) {
		var sb strings.Builder
		_ = t.Dump(&sb)
		log.Info("timer: table dump\n" + sb.String())
	}
	return t, err
}

func discover(dec fwdesc.Decoder, t *Table) error {
	if dec == nil {
		return ErrNoTimerNode
	}
	if err := buildSystemTimer(dec, t); err != nil {
		return err
	}
	return buildMemTimer(dec, t)
}

func buildSystemTimer(dec fwdesc.Decoder, t *Table) error {
	node, ok := firstCompatible(dec, sysTimerCompatible)
	if !ok {
		return ErrNoTimerNode
	}

	cells, err := fwdesc.InterruptCells(dec, node)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCells, err)
	}
	if !irq.ValidCells(cells) {
		return fmt.Errorf("%w: interrupt cells %d", ErrInvalidCells, cells)
	}

	raw, ok := dec.Property(node, "interrupts")
	if !ok {
		return fmt.Errorf("%w: %s interrupts", ErrMissingProperty, dec.Name(node))
	}
	specifier := fwdesc.Cells(raw)
	n := min(len(specifier)/cells, maxSystemInterrupts)
	log.V(2).Infof("timer: %s: %d interrupts of %d cells", dec.Name(node), n, cells)

	targets := []*uint32{&t.SEL1GSIV, &t.NSEL1GSIV, &t.VirtGSIV, &t.EL2GSIV, &t.EL2VirtGSIV}
	names := []string{"secure EL1 physical", "non-secure EL1 physical", "virtual", "EL2 physical", "EL2 virtual"}
	for k := 0; k < n; k++ {
		e := specifier[k*cells : (k+1)*cells]
		if cells < 3 {
			*targets[k] = e[0]
			continue
		}
		if e[0] != irq.TypePPI {
			log.Warningf("timer: %s timer interrupt type is not PPI", names[k])
			continue
		}
		*targets[k] = e[1] + irq.PPIOffset
	}

	if _, ok := dec.Property(node, "always-on"); ok {
		t.SEL1Flags = FlagAlwaysOn
		t.NSEL1Flags = FlagAlwaysOn
		t.VirtFlags = FlagAlwaysOn
		t.EL2Flags = FlagAlwaysOn
		t.EL2VirtFlags = FlagAlwaysOn
	}
	return nil
}

func validRegCells(n int) bool { return n == 1 || n == 2 }

func buildMemTimer(dec fwdesc.Decoder, t *Table) error {
	node, ok := firstCompatible(dec, memTimerCompatible)
	if !ok {
		return ErrNoMemTimerNode
	}
	name := dec.Name(node)

	parent, _ := dec.Parent(node)
	ac, sc := fwdesc.AddressCells(dec, parent), fwdesc.SizeCells(dec, parent)
	if !validRegCells(ac) || !validRegCells(sc) {
		return fmt.Errorf("%w: %s parent address cells %d size cells %d", ErrInvalidCells, name, ac, sc)
	}

	raw, ok := dec.Property(node, "reg")
	if !ok {
		return fmt.Errorf("%w: %s reg", ErrMissingProperty, name)
	}
	ctl, _, ok := fwdesc.ReadAddr(fwdesc.Cells(raw), 0, ac)
	if !ok {
		return fmt.Errorf("%w: %s reg", ErrMissingProperty, name)
	}

	fac, fsc := fwdesc.AddressCells(dec, node), fwdesc.SizeCells(dec, node)
	if !validRegCells(fac) || !validRegCells(fsc) {
		return fmt.Errorf("%w: %s address cells %d size cells %d", ErrInvalidCells, name, fac, fsc)
	}

	t.Blocks = append(t.Blocks, GTBlock{Type: TypeSysTimer, CntCtlBase: ctl})
	blk := &t.Blocks[len(t.Blocks)-1]

	frames := fwdesc.Subnodes(dec, node, "frame")
	if len(frames) == 0 {
		log.V(1).Infof("timer: %s has no frame subnodes", name)
		return nil
	}
	for _, f := range frames {
		fr, err := buildFrame(dec, f, fac, ctl)
		if err != nil {
			return err
		}
		blk.Frames = append(blk.Frames, fr)
		t.NumPlatformTimers++
	}
	return nil
}

func buildFrame(dec fwdesc.Decoder, f fwdesc.Handle, ac int, ctl uint64) (Frame, error) {
	name := dec.Name(f)
	var fr Frame
	fr.FrameNum, _ = fwdesc.U32(dec, f, "frame-number")

	raw, ok := dec.Property(f, "reg")
	if !ok {
		return fr, fmt.Errorf("%w: %s reg", ErrMissingProperty, name)
	}
	base, _, ok := fwdesc.ReadAddr(fwdesc.Cells(raw), 0, ac)
	if !ok {
		return fr, fmt.Errorf("%w: %s reg", ErrMissingProperty, name)
	}
	// A base below the control frame is an offset from it.
	if base < ctl {
		base += ctl
	}
	fr.CntBase = base

	intr, ok := dec.Property(f, "interrupts")
	if !ok {
		return fr, fmt.Errorf("%w: %s interrupts", ErrMissingProperty, name)
	}
	cells, err := fwdesc.InterruptCells(dec, f)
	if err != nil {
		return fr, fmt.Errorf("%w: %v", ErrInvalidCells, err)
	}
	if !irq.ValidCells(cells) {
		return fr, fmt.Errorf("%w: %s interrupt cells %d", ErrInvalidCells, name, cells)
	}
	specifier := fwdesc.Cells(intr)
	if len(specifier) < cells {
		return fr, fmt.Errorf("%w: %s interrupts", ErrMissingProperty, name)
	}

	fr.GSIV = frameGSIV(specifier[:cells])
	if len(specifier) >= 2*cells {
		fr.VirtGSIV = frameGSIV(specifier[cells : 2*cells])
	}
	return fr, nil
}

// frameGSIV decodes a frame interrupt. Frame interrupts must be SPIs.
func frameGSIV(e []uint32) uint32 {
	if len(e) < 3 {
		return e[0]
	}
	if e[0] != irq.TypeSPI {
		return 0
	}
	return e[1] + irq.SPIOffset
}

func applyOverride(t *Table, cfg *api.Timer) {
	if cfg == nil {
		return
	}
	t.CounterFrequency = cfg.CounterFrequency
	if pt := cfg.PlatformTimer; pt != nil {
		t.Blocks = []GTBlock{{
			Type:       TypeSysTimer,
			CntCtlBase: api.Addr(pt.CntCtlBase),
			Frames:     []Frame{{CntBase: api.Addr(pt.CntBase), GSIV: pt.GSIV}},
		}}
		t.NumPlatformTimers = 1
	}
	if cfg.EL2VirtTimerGSIV != 0 {
		t.EL2VirtGSIV = cfg.EL2VirtTimerGSIV
	}
}
