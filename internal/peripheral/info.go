package peripheral

import (
	"bufio"
	"fmt"
	"io"
)

// NotFound is returned by EntryIndex when no entry matches.
const NotFound = 0xFFFF

type PeriphInfo int

const (
	NumUSB PeriphInfo = iota
	NumSATA
	NumUART
	NumAll
	USBBase0
	USBFlags
	USBGSIV
	USBBDF
	USBInterfaceType
	USBPlatformType
	SATABase0
	SATABase1
	SATAFlags
	SATABDF
	SATAGSIV
	SATAInterfaceType
	SATAPlatformType
	UARTBase0
	UARTWidth
	UARTGSIV
	UARTFlags
	AnyBase0
	UARTBaudRate
	UARTInterfaceType
	AnyFlags
	AnyGSIV
	AnyBDF
	MaxPASIDs
)

// EntryIndex returns the index of the instance-th entry of type typ,
// counting from 0, or NotFound.
func (t *Table) EntryIndex(typ Type, instance int) int {
	if t == nil || instance < 0 {
		return NotFound
	}
	for i, e := range t.Entries {
		if e.Type == TypeInvalid {
			break
		}
		if typ != TypeNone && e.Type != typ {
			continue
		}
		if instance == 0 {
			return i
		}
		instance--
	}
	return NotFound
}

type field func(*Entry) uint64

var infoFields = map[PeriphInfo]struct {
	typ Type
	get field
}{
	USBBase0:          {TypeUSB, func(e *Entry) uint64 { return e.Base0 }},
	USBFlags:          {TypeUSB, func(e *Entry) uint64 { return uint64(e.Flags) }},
	USBGSIV:           {TypeUSB, func(e *Entry) uint64 { return uint64(e.GSIV) }},
	USBBDF:            {TypeUSB, func(e *Entry) uint64 { return uint64(e.BDF) }},
	USBInterfaceType:  {TypeUSB, func(e *Entry) uint64 { return uint64(e.InterfaceType) }},
	USBPlatformType:   {TypeUSB, func(e *Entry) uint64 { return uint64(e.PlatformType) }},
	SATABase0:         {TypeSATA, func(e *Entry) uint64 { return e.Base0 }},
	SATABase1:         {TypeSATA, func(e *Entry) uint64 { return e.Base1 }},
	SATAFlags:         {TypeSATA, func(e *Entry) uint64 { return uint64(e.Flags) }},
	SATABDF:           {TypeSATA, func(e *Entry) uint64 { return uint64(e.BDF) }},
	SATAGSIV:          {TypeSATA, func(e *Entry) uint64 { return uint64(e.GSIV) }},
	SATAInterfaceType: {TypeSATA, func(e *Entry) uint64 { return uint64(e.InterfaceType) }},
	SATAPlatformType:  {TypeSATA, func(e *Entry) uint64 { return uint64(e.PlatformType) }},
	UARTBase0:         {TypeUART, func(e *Entry) uint64 { return e.Base0 }},
	UARTWidth:         {TypeUART, func(e *Entry) uint64 { return uint64(e.Width) }},
	UARTGSIV:          {TypeUART, func(e *Entry) uint64 { return uint64(e.GSIV) }},
	UARTFlags:         {TypeUART, func(e *Entry) uint64 { return uint64(e.Flags) }},
	UARTBaudRate:      {TypeUART, func(e *Entry) uint64 { return uint64(e.BaudRate) }},
	UARTInterfaceType: {TypeUART, func(e *Entry) uint64 { return uint64(e.InterfaceType) }},
	AnyBase0:          {TypeNone, func(e *Entry) uint64 { return e.Base0 }},
	AnyFlags:          {TypeNone, func(e *Entry) uint64 { return uint64(e.Flags) }},
	AnyGSIV:           {TypeNone, func(e *Entry) uint64 { return uint64(e.GSIV) }},
	AnyBDF:            {TypeNone, func(e *Entry) uint64 { return uint64(e.BDF) }},
	MaxPASIDs:         {TypeNone, func(e *Entry) uint64 { return uint64(e.MaxPASIDs) }},
}

// Info returns one peripheral field for the instance-th matching entry.
// A missing table, entry or field reads as 0.
func (t *Table) Info(info PeriphInfo, instance int) uint64 {
	if t == nil {
		return 0
	}
	switch info {
	case NumUSB:
		return uint64(t.NumUSB)
	case NumSATA:
		return uint64(t.NumSATA)
	case NumUART:
		return uint64(t.NumUART)
	case NumAll:
		return uint64(t.NumAll)
	}
	f, ok := infoFields[info]
	if !ok {
		return 0
	}
	i := t.EntryIndex(f.typ, instance)
	if i == NotFound {
		return 0
	}
	return f.get(&t.Entries[i])
}

// Base classes counted by Summary.
const (
	BaseClassStorage = 0x01
	BaseClassNetwork = 0x02
	BaseClassDisplay = 0x03
)

type Summary struct {
	Network int
	Storage int
	Display int
}

// Summarize counts network, storage and display functions by base class.
func Summarize(enum Enumerator) Summary {
	var s Summary
	if enum == nil {
		return s
	}
	for _, d := range enum.Devices() {
		switch d.ClassCode >> 16 {
		case BaseClassNetwork:
			s.Network++
		case BaseClassStorage:
			s.Storage++
		case BaseClassDisplay:
			s.Display++
		}
	}
	return s
}

func (t *Table) Dump(w io.Writer) error {
	if t == nil {
		t = &Table{}
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "num_usb:%d num_sata:%d num_uart:%d num_all:%d\n", t.NumUSB, t.NumSATA, t.NumUART, t.NumAll)
	for i, e := range t.Entries {
		fmt.Fprintf(bw, "entry[%d] type:%s base0:0x%x gsiv:%d flags:0x%x bdf:%s",
			i, e.Type, e.Base0, e.GSIV, e.Flags, FormatBDF(e.BDF))
		if e.Type == TypeUART {
			fmt.Fprintf(bw, " width:%d baud_rate:%d interface_type:%d", e.Width, e.BaudRate, e.InterfaceType)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}
