// Package peripheral builds the peripheral inventory: USB and SATA
// controllers found by class code, the console UART and the generic UART.
package peripheral

import (
	"strings"

	"github.com/agentic-research/platinfo/api"
	log "github.com/golang/glog"
)

type Type uint32

const (
	TypeUSB Type = 0x2000 + iota
	TypeSATA
	TypeUART
	TypeOther
	// TypeNone matches every entry in lookups.
	TypeNone

	TypeInvalid Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeUSB:
		return "usb"
	case TypeSATA:
		return "sata"
	case TypeUART:
		return "uart"
	case TypeOther:
		return "other"
	case TypeNone:
		return "none"
	}
	return "invalid"
}

const (
	PlatformACPI uint32 = 0
	PlatformDT   uint32 = 1
)

// Class codes, base class and subclass with programming interface 0.
const (
	ClassUSB  uint32 = 0x0C0300
	ClassSATA uint32 = 0x010600
)

var spcrBaudRates = [...]uint32{0, 0, 0, 9600, 19200, 0, 57600, 115200}

type Header struct {
	NumUSB  int
	NumSATA int
	NumUART int
	NumAll  int
}

type Entry struct {
	Type          Type
	Base0         uint64
	Base1         uint64
	Width         uint32
	GSIV          uint32
	Flags         uint32
	BDF           uint32
	BaudRate      uint32
	InterfaceType uint32
	PlatformType  uint32
	MaxPASIDs     uint32
}

type Table struct {
	Header
	Entries []Entry
}

// matchesClass compares base class and subclass; the programming
// interface distinguishes controller generations (OHCI, xHCI, AHCI...)
// that are all in scope.
func matchesClass(class, want uint32) bool {
	return class>>8 == want>>8
}

// Build scans enum for USB then SATA controllers and appends the console
// UART and generic UART from cfg. Either input may be nil.
func Build(enum Enumerator, cfg *api.Peripheral) *Table {
	t := &Table{}
	var devs []Device
	if enum != nil {
		devs = enum.Devices()
	}

	t.addPCIe(devs, ClassUSB, TypeUSB, &t.NumUSB)
	t.addPCIe(devs, ClassSATA, TypeSATA, &t.NumSATA)

	if cfg != nil && cfg.SPCR != nil {
		t.addSPCR(cfg.SPCR)
	} else {
		log.V(1).Info("peripheral: no console description, firmware console must be serial")
	}
	if cfg != nil && cfg.GenericUART != nil && api.Addr(cfg.GenericUART.Base) != 0 {
		t.add(Entry{
			Type:  TypeUART,
			Base0: api.Addr(cfg.GenericUART.Base),
			GSIV:  cfg.GenericUART.INTID,
		}, &t.NumUART)
	}

	log.Infof("peripheral: %d usb, %d sata, %d uart controllers", t.NumUSB, t.NumSATA, t.NumUART)
	if log.V(2) {
		var sb strings.Builder
		_ = t.Dump(&sb)
		log.Info("peripheral: table dump\n" + sb.String())
	}
	return t
}

func (t *Table) add(e Entry, count *int) {
	t.Entries = append(t.Entries, e)
	*count++
	t.NumAll++
}

func (t *Table) addPCIe(devs []Device, class uint32, typ Type, count *int) {
	for _, d := range devs {
		if !matchesClass(d.ClassCode, class) {
			continue
		}
		e := Entry{
			Type:         typ,
			BDF:          d.BDF,
			GSIV:         d.GSIV,
			MaxPASIDs:    d.MaxPASIDs,
			PlatformType: PlatformACPI,
		}
		for k, bar := range d.BARs {
			if bar == 0 {
				continue
			}
			e.Base0 = bar
			for _, next := range d.BARs[k+1:] {
				if next != 0 {
					e.Base1 = next
					break
				}
			}
			break
		}
		log.V(1).Infof("peripheral: found %s controller %s base 0x%x", typ, FormatBDF(d.BDF), e.Base0)
		t.add(e, count)
	}
}

func (t *Table) addSPCR(s *api.SPCR) {
	e := Entry{
		Type:          TypeUART,
		Base0:         api.Addr(s.Base),
		Width:         1 << (s.AccessSize + 2),
		GSIV:          s.GSIV,
		InterfaceType: s.InterfaceType,
	}
	if int(s.BaudRate) < len(spcrBaudRates) {
		e.BaudRate = spcrBaudRates[s.BaudRate]
	}
	t.add(e, &t.NumUART)
}
