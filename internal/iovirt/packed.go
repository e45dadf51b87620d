package iovirt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Packed layout, little endian:
//
//	header  num_blocks smmus rcs named its pmcgs      (6 x u32)
//	block   type num_data_map flags length            (4 x u32)
//	        payload                                   (per type)
//	        slots                                     (16 bytes each)
//
// References between blocks are byte offsets from the start of the buffer;
// offset 0 means no reference.
const (
	TableHeaderSize = 24
	BlockHeaderSize = 16
	SlotSize        = 16

	itsPayloadSize   = 8
	namedPayloadSize = MaxNameLength + 16
	rcPayloadSize    = 16
	smmuPayloadSize  = 16
	pmcgPayloadSize  = 24
)

var (
	ErrTruncated    = errors.New("packed table truncated")
	ErrInconsistent = errors.New("packed table inconsistent")
	ErrDanglingRef  = errors.New("map entry references a missing block")
)

func payloadSize(t NodeType) (int, bool) {
	switch t {
	case NodeITSGroup:
		return itsPayloadSize, true
	case NodeNamedComponent:
		return namedPayloadSize, true
	case NodeRootComplex:
		return rcPayloadSize, true
	case NodeSMMU, NodeSMMUv3:
		return smmuPayloadSize, true
	case NodePMCG:
		return pmcgPayloadSize, true
	}
	return 0, false
}

// Len returns the packed size of b in bytes.
func (b *Block) Len() int {
	n, _ := payloadSize(b.Type)
	return BlockHeaderSize + n + SlotSize*b.NumSlots()
}

// offsets returns the byte offset of every block in the packed form.
func (t *Table) offsets() []uint32 {
	offs := make([]uint32, len(t.Blocks))
	off := TableHeaderSize
	for i, b := range t.Blocks {
		offs[i] = uint32(off)
		off += b.Len()
	}
	return offs
}

// MarshalBinary encodes the table in its packed form.
func (t *Table) MarshalBinary() ([]byte, error) {
	offs := t.offsets()
	ref := func(i int) (uint32, error) {
		if i == NoRef {
			return 0, nil
		}
		if i < 0 || i >= len(offs) {
			return 0, fmt.Errorf("%w: %d", ErrDanglingRef, i)
		}
		return offs[i], nil
	}

	le := binary.LittleEndian
	var buf bytes.Buffer
	u32 := func(v uint32) { _ = binary.Write(&buf, le, v) }
	u64 := func(v uint64) { _ = binary.Write(&buf, le, v) }

	for _, v := range []int{len(t.Blocks), t.NumSMMUs, t.NumRootComplexes, t.NumNamedComponents, t.NumITSGroups, t.NumPMCGs} {
		u32(uint32(v))
	}

	for i, b := range t.Blocks {
		u32(uint32(b.Type))
		u32(uint32(b.NumSlots()))
		u32(uint32(b.Flags))
		u32(uint32(b.Len()))

		switch d := b.Data.(type) {
		case *ITSGroup:
			u32(uint32(len(d.IDs)))
			u32(0)
			ids := make([]uint32, b.NumSlots()*ITSIDsPerSlot)
			copy(ids, d.IDs)
			for _, id := range ids {
				u32(id)
			}
			continue
		case *NamedComponent:
			var name [MaxNameLength]byte
			copy(name[:MaxNameLength-1], d.Name)
			buf.Write(name[:])
			u32(d.CCA)
			u32(0)
			u64(d.SMMUBase)
		case *RootComplex:
			u32(d.Segment)
			u32(d.CCA)
			u32(d.ATSAttr)
			u32(0)
		case *SMMU:
			u64(d.Base)
			u32(d.ArchMajorRev)
			u32(0)
		case *PMCG:
			self, err := ref(d.NodeRef)
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", i, err)
			}
			u64(d.Base)
			u32(d.OverflowGSIV)
			u32(self)
			u64(d.SMMUBase)
		default:
			return nil, fmt.Errorf("block %d: %w: %s", i, ErrUnknownNodeType, b.Type)
		}

		for j, m := range b.Maps {
			r, err := ref(m.OutputRef)
			if err != nil {
				return nil, fmt.Errorf("block %d map %d: %w", i, j, err)
			}
			u32(m.InputBase)
			u32(m.IDCount)
			u32(m.OutputBase)
			u32(r)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a packed table. Blocks are walked by their length
// field; every reference must land on a block start.
func (t *Table) UnmarshalBinary(data []byte) error {
	le := binary.LittleEndian
	if len(data) < TableHeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, TableHeaderSize, len(data))
	}
	var hdr [6]int
	for i := range hdr {
		hdr[i] = int(le.Uint32(data[i*4:]))
	}

	out := Table{}
	byOffset := make(map[uint32]int)
	type pendingRef struct {
		target *int
		off    uint32
	}
	var pending []pendingRef

	off := TableHeaderSize
	for i := 0; i < hdr[0]; i++ {
		if off+BlockHeaderSize > len(data) {
			return fmt.Errorf("%w: block %d header at %d", ErrTruncated, i, off)
		}
		typ := NodeType(le.Uint32(data[off:]))
		slots := int(le.Uint32(data[off+4:]))
		flags := Flags(le.Uint32(data[off+8:]))
		length := int(le.Uint32(data[off+12:]))

		psize, ok := payloadSize(typ)
		if !ok {
			return fmt.Errorf("block %d: %w: %d", i, ErrUnknownNodeType, uint32(typ))
		}
		if want := BlockHeaderSize + psize + SlotSize*slots; length != want {
			return fmt.Errorf("%w: block %d length %d, expected %d", ErrInconsistent, i, length, want)
		}
		if off+length > len(data) {
			return fmt.Errorf("%w: block %d ends at %d, buffer is %d", ErrTruncated, i, off+length, len(data))
		}

		p := data[off+BlockHeaderSize : off+BlockHeaderSize+psize]
		s := data[off+BlockHeaderSize+psize : off+length]
		b := &Block{Type: typ, Flags: flags}

		switch typ {
		case NodeITSGroup:
			n := int(le.Uint32(p))
			if (n+ITSIDsPerSlot-1)/ITSIDsPerSlot != slots {
				return fmt.Errorf("%w: block %d its count %d in %d slots", ErrInconsistent, i, n, slots)
			}
			ids := make([]uint32, n)
			for k := range ids {
				ids[k] = le.Uint32(s[k*4:])
			}
			b.Data = &ITSGroup{IDs: ids}
		case NodeNamedComponent:
			name := p[:MaxNameLength]
			if k := bytes.IndexByte(name, 0); k >= 0 {
				name = name[:k]
			}
			b.Data = &NamedComponent{
				Name:     string(name),
				CCA:      le.Uint32(p[MaxNameLength:]),
				SMMUBase: le.Uint64(p[MaxNameLength+8:]),
			}
		case NodeRootComplex:
			b.Data = &RootComplex{Segment: le.Uint32(p), CCA: le.Uint32(p[4:]), ATSAttr: le.Uint32(p[8:])}
		case NodeSMMU, NodeSMMUv3:
			b.Data = &SMMU{Base: le.Uint64(p), ArchMajorRev: le.Uint32(p[8:])}
		case NodePMCG:
			pm := &PMCG{Base: le.Uint64(p), OverflowGSIV: le.Uint32(p[8:]), NodeRef: NoRef, SMMUBase: le.Uint64(p[16:])}
			if r := le.Uint32(p[12:]); r != 0 {
				pending = append(pending, pendingRef{&pm.NodeRef, r})
			}
			b.Data = pm
		}

		if typ != NodeITSGroup && slots > 0 {
			b.Maps = make([]IDMap, slots)
			for k := range b.Maps {
				e := s[k*SlotSize:]
				b.Maps[k] = IDMap{
					InputBase:  le.Uint32(e),
					IDCount:    le.Uint32(e[4:]),
					OutputBase: le.Uint32(e[8:]),
					OutputRef:  NoRef,
				}
				if r := le.Uint32(e[12:]); r != 0 {
					pending = append(pending, pendingRef{&b.Maps[k].OutputRef, r})
				}
			}
		}

		byOffset[uint32(off)] = i
		out.Blocks = append(out.Blocks, b)
		*out.count(typ)++
		off += length
	}

	for _, r := range pending {
		idx, ok := byOffset[r.off]
		if !ok {
			return fmt.Errorf("%w: offset %d", ErrDanglingRef, r.off)
		}
		*r.target = idx
	}

	got := [6]int{len(out.Blocks), out.NumSMMUs, out.NumRootComplexes, out.NumNamedComponents, out.NumITSGroups, out.NumPMCGs}
	if got != hdr {
		return fmt.Errorf("%w: header counts %v, blocks give %v", ErrInconsistent, hdr, got)
	}
	*t = out
	return nil
}
