// Package watchdog builds the generic watchdog table from arm,sbsa-gwdt
// nodes, or from the platform override.
package watchdog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/platinfo/api"
	"github.com/agentic-research/platinfo/internal/fwdesc"
	"github.com/agentic-research/platinfo/internal/irq"
	log "github.com/golang/glog"
)

const compatible = "arm,sbsa-gwdt"

// Entry flag bits.
const (
	FlagEdge      uint32 = 1 << 0
	FlagActiveLow uint32 = 1 << 1
	FlagSecure    uint32 = 1 << 2
)

var (
	ErrInvalidCells    = errors.New("invalid cell width")
	ErrMissingProperty = errors.New("missing or short property")
	ErrInvalidTrigger  = irq.ErrInvalidTrigger
)

type Entry struct {
	ControlBase uint64
	RefreshBase uint64
	GSIV        uint32
	Flags       uint32
}

type Table struct {
	Entries []Entry
}

func (t *Table) NumWatchdogs() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// Build collects every generic watchdog described by dec. A platform
// override, when given, replaces whatever was discovered. Entries built
// before a failure stay in the returned table.
func Build(dec fwdesc.Decoder, override *api.Watchdog) (*Table, error) {
	t := &Table{}
	var err error
	if dec != nil {
		err = discover(dec, t)
		if err != nil {
			log.Errorf("watchdog: %v", err)
		}
	}
	if override != nil {
		t.Entries = []Entry{{
			ControlBase: api.Addr(override.ControlBase),
			RefreshBase: api.Addr(override.RefreshBase),
			GSIV:        override.GSIV,
		}}
	}

	log.Infof("watchdog: %d watchdogs", len(t.Entries))
	if log.V(2) {
		var sb strings.Builder
		_ = t.Dump(&sb)
		log.Info("watchdog: table dump\n" + sb.String())
	}
	return t, err
}

func discover(dec fwdesc.Decoder, t *Table) error {
	nodes := fwdesc.FindCompatible(dec, compatible)
	if len(nodes) == 0 {
		log.V(1).Infof("watchdog: no %s node", compatible)
		return nil
	}
	for _, n := range nodes {
		e, err := buildEntry(dec, n)
		if err != nil {
			return err
		}
		t.Entries = append(t.Entries, e)
	}
	return nil
}

func buildEntry(dec fwdesc.Decoder, n fwdesc.Handle) (Entry, error) {
	var e Entry
	name := dec.Name(n)

	parent, _ := dec.Parent(n)
	ac, sc := fwdesc.AddressCells(dec, parent), fwdesc.SizeCells(dec, parent)
	if ac < 1 || ac > 2 || sc < 1 || sc > 2 {
		return e, fmt.Errorf("%w: %s parent address cells %d size cells %d", ErrInvalidCells, name, ac, sc)
	}

	raw, ok := dec.Property(n, "reg")
	if !ok {
		return e, fmt.Errorf("%w: %s reg", ErrMissingProperty, name)
	}
	reg := fwdesc.Cells(raw)
	ctrl, next, ok := fwdesc.ReadAddr(reg, 0, ac)
	if !ok {
		return e, fmt.Errorf("%w: %s reg", ErrMissingProperty, name)
	}
	refresh, _, ok := fwdesc.ReadAddr(reg, next+sc, ac)
	if !ok {
		return e, fmt.Errorf("%w: %s reg refresh frame", ErrMissingProperty, name)
	}
	e.ControlBase, e.RefreshBase = ctrl, refresh

	intr, ok := dec.Property(n, "interrupts")
	if !ok {
		return e, fmt.Errorf("%w: %s interrupts", ErrMissingProperty, name)
	}
	cells, err := fwdesc.InterruptCells(dec, n)
	if err != nil {
		return e, fmt.Errorf("%w: %v", ErrInvalidCells, err)
	}
	if !irq.ValidCells(cells) {
		return e, fmt.Errorf("%w: %s interrupt cells %d", ErrInvalidCells, name, cells)
	}
	specifier := fwdesc.Cells(intr)
	if len(specifier) < cells {
		return e, fmt.Errorf("%w: %s interrupts", ErrMissingProperty, name)
	}

	trigger := uint32(irq.TriggerNone)
	switch {
	case cells >= 3:
		if specifier[0] != irq.TypeSPI {
			e.GSIV = specifier[1] + irq.PPIOffset
		} else {
			e.GSIV = specifier[1] + irq.SPIOffset
		}
		trigger = specifier[2]
	case cells == 2:
		e.GSIV, trigger = specifier[0], specifier[1]
	default:
		e.GSIV = specifier[0]
	}

	mode, pol, err := irq.DecodeTrigger(trigger)
	if err != nil {
		return e, fmt.Errorf("%s: %w", name, err)
	}
	e.Flags = uint32(pol)<<1 | uint32(mode)
	log.V(2).Infof("watchdog: %s ctrl 0x%x refresh 0x%x gsiv %d", name, ctrl, refresh, e.GSIV)
	return e, nil
}

type WDInfo int

const (
	InfoCount WDInfo = iota
	InfoCtrlBase
	InfoRefreshBase
	InfoGSIV
	InfoIsSecure
	InfoIsEdge
	InfoIsActiveLow
)

// Info returns one watchdog field; an unknown field or instance reads
// as 0.
func (t *Table) Info(info WDInfo, instance int) uint64 {
	if info == InfoCount {
		return uint64(t.NumWatchdogs())
	}
	if instance < 0 || instance >= t.NumWatchdogs() {
		return 0
	}
	e := t.Entries[instance]
	switch info {
	case InfoCtrlBase:
		return e.ControlBase
	case InfoRefreshBase:
		return e.RefreshBase
	case InfoGSIV:
		return uint64(e.GSIV)
	case InfoIsSecure:
		return bit(e.Flags, FlagSecure)
	case InfoIsEdge:
		return bit(e.Flags, FlagEdge)
	case InfoIsActiveLow:
		return bit(e.Flags, FlagActiveLow)
	}
	return 0
}

func bit(flags, mask uint32) uint64 {
	if flags&mask != 0 {
		return 1
	}
	return 0
}

func (t *Table) Dump(w io.Writer) error {
	if t == nil {
		t = &Table{}
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "num_wd:%d\n", t.NumWatchdogs())
	for i, e := range t.Entries {
		fmt.Fprintf(bw, "wd[%d] refresh_base:0x%x control_base:0x%x gsiv:%d flags:0x%x\n",
			i, e.RefreshBase, e.ControlBase, e.GSIV, e.Flags)
	}
	return bw.Flush()
}
