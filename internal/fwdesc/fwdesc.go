// Package fwdesc exposes firmware description sources (device trees and
// their in-memory equivalents) through a small property lookup interface.
// Values are returned as raw big-endian cells; interpretation is left to
// the table builders.
package fwdesc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// Handle identifies a node within a Decoder.
type Handle int

// NoNode is returned where a lookup has no result.
const NoNode Handle = -1

// Defaults applied when a node does not carry the property, as libfdt does.
const (
	DefaultAddressCells = 2
	DefaultSizeCells    = 1
)

var (
	ErrNoInterruptParent = errors.New("no interrupt parent")
	ErrNoInterruptCells  = errors.New("interrupt controller has no #interrupt-cells")
)

// Decoder is the property lookup surface of a firmware description.
type Decoder interface {
	Root() Handle
	Parent(h Handle) (Handle, bool)
	Children(h Handle) []Handle
	Name(h Handle) string
	// Property returns the raw value of the named property. The second
	// result distinguishes an absent property from an empty one.
	Property(h Handle, name string) ([]byte, bool)
	NodeByPhandle(phandle uint32) (Handle, bool)
}

// Cells splits a raw property value into big-endian 32-bit cells. Trailing
// bytes that do not fill a cell are ignored.
func Cells(raw []byte) []uint32 {
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return out
}

// U32 reads a single-cell property.
func U32(d Decoder, h Handle, name string) (uint32, bool) {
	raw, ok := d.Property(h, name)
	if !ok || len(raw) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(raw), true
}

// Strings splits a NUL separated string list property.
func Strings(d Decoder, h Handle, name string) []string {
	raw, ok := d.Property(h, name)
	if !ok || len(raw) == 0 {
		return nil
	}
	raw = bytes.TrimRight(raw, "\x00")
	return strings.Split(string(raw), "\x00")
}

// IsCompatible reports whether the node lists compat in its compatible property.
func IsCompatible(d Decoder, h Handle, compat string) bool {
	for _, c := range Strings(d, h, "compatible") {
		if c == compat {
			return true
		}
	}
	return false
}

// FindCompatible returns every node compatible with compat in document order.
func FindCompatible(d Decoder, compat string) []Handle {
	var out []Handle
	Walk(d, func(h Handle) {
		if IsCompatible(d, h, compat) {
			out = append(out, h)
		}
	})
	return out
}

// Walk visits every node depth first, parents before children.
func Walk(d Decoder, fn func(Handle)) {
	var visit func(Handle)
	visit = func(h Handle) {
		fn(h)
		for _, c := range d.Children(h) {
			visit(c)
		}
	}
	visit(d.Root())
}

// AddressCells returns #address-cells of h, or the default when absent.
func AddressCells(d Decoder, h Handle) int {
	if v, ok := U32(d, h, "#address-cells"); ok {
		return int(v)
	}
	return DefaultAddressCells
}

// SizeCells returns #size-cells of h, or the default when absent.
func SizeCells(d Decoder, h Handle) int {
	if v, ok := U32(d, h, "#size-cells"); ok {
		return int(v)
	}
	return DefaultSizeCells
}

// InterruptCells returns the #interrupt-cells of the interrupt controller
// serving h. The controller is named by the nearest interrupt-parent found
// on h or its ancestors; without one, the nearest ancestor carrying
// #interrupt-cells is used.
func InterruptCells(d Decoder, h Handle) (int, error) {
	for n, ok := h, true; ok; n, ok = d.Parent(n) {
		ph, found := U32(d, n, "interrupt-parent")
		if !found {
			continue
		}
		ctrl, ok := d.NodeByPhandle(ph)
		if !ok {
			return 0, ErrNoInterruptParent
		}
		v, ok := U32(d, ctrl, "#interrupt-cells")
		if !ok {
			return 0, ErrNoInterruptCells
		}
		return int(v), nil
	}
	for n, ok := d.Parent(h); ok; n, ok = d.Parent(n) {
		if v, found := U32(d, n, "#interrupt-cells"); found {
			return int(v), nil
		}
	}
	return 0, ErrNoInterruptParent
}

// Subnodes returns the children of h starting at the first one whose name
// matches name. A name without a unit address also matches "name@unit".
// Later siblings are included whatever their name.
func Subnodes(d Decoder, h Handle, name string) []Handle {
	children := d.Children(h)
	for i, c := range children {
		if nodeNameMatches(d.Name(c), name) {
			return children[i:]
		}
	}
	return nil
}

func nodeNameMatches(full, want string) bool {
	if full == want {
		return true
	}
	if strings.Contains(want, "@") {
		return false
	}
	base, _, _ := strings.Cut(full, "@")
	return base == want
}

// ReadAddr assembles an n-cell big-endian value starting at cells[i].
// It returns the value and the index past it, or ok=false when the cells
// run out.
func ReadAddr(cells []uint32, i, n int) (v uint64, next int, ok bool) {
	if i < 0 || i+n > len(cells) {
		return 0, i, false
	}
	for k := 0; k < n; k++ {
		v = v<<32 | uint64(cells[i+k])
	}
	return v, i + n, true
}
