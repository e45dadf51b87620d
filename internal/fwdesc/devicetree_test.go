package fwdesc

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/u-root/u-root/pkg/dt"
)

const (
	fdtBeginNode = 0x1
	fdtEndNode   = 0x2
	fdtProp      = 0x3
	fdtEnd       = 0x9
)

// blobBuilder writes a version 17 flattened device tree.
type blobBuilder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	offsets   map[string]uint32
}

func newBlobBuilder() *blobBuilder {
	return &blobBuilder{offsets: make(map[string]uint32)}
}

func (b *blobBuilder) u32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.structure.Write(buf[:])
}

func (b *blobBuilder) pad() {
	for b.structure.Len()%4 != 0 {
		b.structure.WriteByte(0)
	}
}

func (b *blobBuilder) begin(name string) {
	b.u32(fdtBeginNode)
	b.structure.WriteString(name)
	b.structure.WriteByte(0)
	b.pad()
}

func (b *blobBuilder) end() { b.u32(fdtEndNode) }

func (b *blobBuilder) prop(p Prop) {
	off, ok := b.offsets[p.Name]
	if !ok {
		off = uint32(b.strings.Len())
		b.strings.WriteString(p.Name)
		b.strings.WriteByte(0)
		b.offsets[p.Name] = off
	}
	b.u32(fdtProp)
	b.u32(uint32(len(p.Value)))
	b.u32(off)
	b.structure.Write(p.Value)
	b.pad()
}

func (b *blobBuilder) bytes() []byte {
	b.u32(fdtEnd)
	for b.strings.Len()%4 != 0 {
		b.strings.WriteByte(0)
	}
	const headerSize, rsvSize = 40, 16
	structOff := uint32(headerSize + rsvSize)
	stringsOff := structOff + uint32(b.structure.Len())
	total := stringsOff + uint32(b.strings.Len())

	out := make([]byte, total)
	for i, v := range []uint32{
		FDTMagic, total, structOff, stringsOff, headerSize,
		17, 16, 0, uint32(b.strings.Len()), uint32(b.structure.Len()),
	} {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	copy(out[structOff:], b.structure.Bytes())
	copy(out[stringsOff:], b.strings.Bytes())
	return out
}

func sampleBlob() []byte {
	b := newBlobBuilder()
	b.begin("")
	b.prop(U32Prop("#address-cells", 2))
	b.prop(U32Prop("#size-cells", 2))
	b.prop(U32Prop("interrupt-parent", 1))

	b.begin("interrupt-controller@2f000000")
	b.prop(StringProp("compatible", "arm,gic-v3"))
	b.prop(U32Prop("#interrupt-cells", 3))
	b.prop(U32Prop("phandle", 1))
	b.end()

	b.begin("watchdog@2a440000")
	b.prop(StringProp("compatible", "arm,sbsa-gwdt"))
	b.prop(U32Prop("reg", 0x0, 0x2a440000, 0x0, 0x1000, 0x0, 0x2a450000, 0x0, 0x1000))
	b.prop(U32Prop("interrupts", 0, 27, 4))
	b.end()

	b.end()
	return b.bytes()
}

func TestFromFDT(t *testing.T) {
	fdt := &dt.FDT{RootNode: &dt.Node{
		Name: "",
		Properties: []dt.Property{
			{Name: "#address-cells", Value: U32Prop("", 1).Value},
		},
		Children: []*dt.Node{
			{
				Name: "wdt@1000",
				Properties: []dt.Property{
					{Name: "compatible", Value: []byte("arm,sbsa-gwdt\x00")},
					{Name: "phandle", Value: U32Prop("", 5).Value},
				},
			},
		},
	}}

	tree := FromFDT(fdt)
	require.Equal(t, 2, tree.Len())
	assert.Equal(t, 1, AddressCells(tree, tree.Root()))

	wdts := FindCompatible(tree, "arm,sbsa-gwdt")
	require.Len(t, wdts, 1)
	assert.Equal(t, "wdt@1000", tree.Name(wdts[0]))

	h, ok := tree.NodeByPhandle(5)
	require.True(t, ok)
	assert.Equal(t, wdts[0], h)
}

func TestFromFDT_Nil(t *testing.T) {
	tree := FromFDT(nil)
	assert.Equal(t, 1, tree.Len())
}

func TestParseDTB(t *testing.T) {
	tree, err := ParseDTB(sampleBlob())
	require.NoError(t, err)

	wdts := FindCompatible(tree, "arm,sbsa-gwdt")
	require.Len(t, wdts, 1)

	raw, ok := tree.Property(wdts[0], "interrupts")
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 27, 4}, Cells(raw))

	n, err := InterruptCells(tree, wdts[0])
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestParseDTB_Errors(t *testing.T) {
	_, err := ParseDTB(nil)
	assert.ErrorIs(t, err, ErrEmptyBlob)

	_, err = ParseDTB([]byte("not a device tree blob at all, clearly"))
	assert.Error(t, err)
}

func TestLoadDTB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.dtb")
	require.NoError(t, os.WriteFile(path, sampleBlob(), 0o644))

	tree, err := LoadDTB(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.Len())

	empty := filepath.Join(dir, "empty.dtb")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadDTB(empty)
	assert.ErrorIs(t, err, ErrEmptyBlob)

	_, err = LoadDTB(filepath.Join(dir, "missing.dtb"))
	assert.Error(t, err)
}
