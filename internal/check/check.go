// Package check evaluates architectural rules over the information tables.
package check

import (
	"fmt"
	"strings"

	"github.com/agentic-research/platinfo/internal/iovirt"
	"github.com/agentic-research/platinfo/internal/irq"
	"github.com/agentic-research/platinfo/internal/peripheral"
	"github.com/agentic-research/platinfo/internal/sysinfo"
	"github.com/agentic-research/platinfo/internal/timer"
	"github.com/agentic-research/platinfo/internal/watchdog"
)

type Verdict int

const (
	Pass Verdict = iota
	Fail
	Skip
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	}
	return "SKIP"
}

type Result struct {
	Rule    string
	Verdict Verdict
	Message string
}

func (r Result) String() string {
	return fmt.Sprintf("%-4s %s: %s", r.Verdict, r.Rule, r.Message)
}

type Rule struct {
	Name        string
	Description string
	run         func(*sysinfo.Info) Result
}

// Rules is the catalog in evaluation order.
var Rules = []Rule{
	{"iovirt.context-interrupts", "SMMUv2 context interrupts are distinct", contextInterrupts},
	{"iovirt.rid-streamid-map", "root complex ID maps do not overlap", ridStreamIDMap},
	{"iovirt.device-id-map", "device ID input ranges do not overlap", deviceIDMap},
	{"iovirt.translation-chain", "every root complex mapping reaches an ITS group", translationChain},
	{"timer.ppi", "per-PE timer interrupts are PPIs", timerPPI},
	{"timer.frame-spi", "memory-mapped timer frames use SPIs", timerFrameSPI},
	{"watchdog.spi", "watchdog signals are SPIs", watchdogSPI},
	{"peripheral.uart", "a console UART is described", uartPresent},
	{"peripheral.controller-base", "USB and SATA controllers expose a BAR", controllerBase},
}

// Run evaluates the rules whose name starts with prefix ("" for all). A
// released handle skips every rule.
func Run(info *sysinfo.Info, prefix string) []Result {
	var out []Result
	for _, r := range Rules {
		if !strings.HasPrefix(r.Name, prefix) {
			continue
		}
		var res Result
		if info.Closed() {
			res = Result{Verdict: Skip, Message: "tables not populated"}
		} else {
			res = r.run(info)
		}
		res.Rule = r.Name
		out = append(out, res)
	}
	return out
}

type Totals struct {
	Pass, Fail, Skip int
}

func Tally(results []Result) Totals {
	var t Totals
	for _, r := range results {
		switch r.Verdict {
		case Pass:
			t.Pass++
		case Fail:
			t.Fail++
		default:
			t.Skip++
		}
	}
	return t
}

func pass(format string, args ...any) Result {
	return Result{Verdict: Pass, Message: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{Verdict: Fail, Message: fmt.Sprintf(format, args...)}
}

func skip(format string, args ...any) Result {
	return Result{Verdict: Skip, Message: fmt.Sprintf(format, args...)}
}

// blockRule applies ok to every block selected by match.
func blockRule(t *iovirt.Table, match func(*iovirt.Block) bool, ok func(*iovirt.Block) bool, what string) Result {
	var checked int
	var bad []string
	for i := 0; i < t.NumBlocks(); i++ {
		b := t.Block(i)
		if !match(b) {
			continue
		}
		checked++
		if !ok(b) {
			bad = append(bad, fmt.Sprint(i))
		}
	}
	switch {
	case checked == 0:
		return skip("no %s blocks", what)
	case len(bad) > 0:
		return fail("blocks %s", strings.Join(bad, ","))
	}
	return pass("%d %s blocks", checked, what)
}

func contextInterrupts(info *sysinfo.Info) Result {
	return blockRule(info.IOVirt,
		func(b *iovirt.Block) bool { return b.Type == iovirt.NodeSMMU },
		iovirt.UniqueContextInterrupts, "smmu_v2")
}

func ridStreamIDMap(info *sysinfo.Info) Result {
	return blockRule(info.IOVirt,
		func(b *iovirt.Block) bool { return b.Type == iovirt.NodeRootComplex },
		iovirt.UniqueRIDStreamIDMap, "root complex")
}

func deviceIDMap(info *sysinfo.Info) Result {
	return blockRule(info.IOVirt,
		func(b *iovirt.Block) bool { return b.Type != iovirt.NodeITSGroup },
		iovirt.UniqueDeviceIDMap, "mapping")
}

func translationChain(info *sysinfo.Info) Result {
	t := info.IOVirt
	var checked int
	var bad []string
	for i := 0; i < t.NumBlocks(); i++ {
		b := t.Block(i)
		rc, ok := b.Data.(*iovirt.RootComplex)
		if !ok {
			continue
		}
		for _, m := range b.Maps {
			checked++
			tr, err := t.Translate(rc.Segment, m.InputBase)
			switch {
			case err != nil:
				bad = append(bad, fmt.Sprintf("segment %d rid 0x%x: %v", rc.Segment, m.InputBase, err))
			case tr.ITSGroup == iovirt.NoRef:
				bad = append(bad, fmt.Sprintf("segment %d rid 0x%x: no ITS group", rc.Segment, m.InputBase))
			}
		}
	}
	switch {
	case checked == 0:
		return skip("no root complex mappings")
	case len(bad) > 0:
		return fail("%s", strings.Join(bad, "; "))
	}
	return pass("%d mappings", checked)
}

func isPPI(gsiv uint64) bool {
	return gsiv >= irq.PPIOffset && gsiv < irq.SPIOffset
}

func timerPPI(info *sysinfo.Info) Result {
	t := info.Timer
	fields := []struct {
		name string
		info timer.TimerInfo
	}{
		{"non-secure EL1 physical", timer.InfoPhyEL1IntID},
		{"virtual", timer.InfoVirEL1IntID},
		{"EL2 physical", timer.InfoPhyEL2IntID},
		{"EL2 virtual", timer.InfoVirEL2IntID},
	}
	var checked int
	var bad []string
	for _, f := range fields {
		v := t.Info(f.info, 0)
		if v == 0 {
			continue
		}
		checked++
		if !isPPI(v) {
			bad = append(bad, fmt.Sprintf("%s %d", f.name, v))
		}
	}
	switch {
	case checked == 0:
		return skip("no timer interrupts described")
	case len(bad) > 0:
		return fail("%s", strings.Join(bad, ", "))
	}
	return pass("%d timer interrupts", checked)
}

func timerFrameSPI(info *sysinfo.Info) Result {
	t := info.Timer
	n := int(t.Info(timer.InfoNumPlatformTimers, 0))
	if n == 0 {
		return skip("no platform timers")
	}
	var bad []string
	for i := 0; i < n; i++ {
		if v := t.Info(timer.InfoSysIntID, i); v < irq.SPIOffset {
			bad = append(bad, fmt.Sprintf("frame %d gsiv %d", i, v))
		}
	}
	if len(bad) > 0 {
		return fail("%s", strings.Join(bad, ", "))
	}
	return pass("%d platform timers", n)
}

func watchdogSPI(info *sysinfo.Info) Result {
	w := info.Watchdog
	n := int(w.Info(watchdog.InfoCount, 0))
	if n == 0 {
		return skip("no watchdogs")
	}
	var bad []string
	for i := 0; i < n; i++ {
		if v := w.Info(watchdog.InfoGSIV, i); v < irq.SPIOffset {
			bad = append(bad, fmt.Sprintf("watchdog %d gsiv %d", i, v))
		}
	}
	if len(bad) > 0 {
		return fail("%s", strings.Join(bad, ", "))
	}
	return pass("%d watchdogs", n)
}

func uartPresent(info *sysinfo.Info) Result {
	if n := info.Peripheral.Info(peripheral.NumUART, 0); n > 0 {
		return pass("%d uarts", n)
	}
	return fail("no uart described")
}

func controllerBase(info *sysinfo.Info) Result {
	p := info.Peripheral
	kinds := []struct {
		name       string
		num, base0 peripheral.PeriphInfo
	}{
		{"usb", peripheral.NumUSB, peripheral.USBBase0},
		{"sata", peripheral.NumSATA, peripheral.SATABase0},
	}
	var checked int
	var bad []string
	for _, k := range kinds {
		n := int(p.Info(k.num, 0))
		for i := 0; i < n; i++ {
			checked++
			if p.Info(k.base0, i) == 0 {
				bad = append(bad, fmt.Sprintf("%s %d", k.name, i))
			}
		}
	}
	switch {
	case checked == 0:
		return skip("no usb or sata controllers")
	case len(bad) > 0:
		return fail("no base address: %s", strings.Join(bad, ", "))
	}
	return pass("%d controllers", checked)
}
