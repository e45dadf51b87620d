package iovirt

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacked_RoundTrip(t *testing.T) {
	want := buildSample(t)
	want.Blocks[2].Flags |= FlagStreamIDOverlap

	data, err := want.MarshalBinary()
	require.NoError(t, err)

	var got Table
	require.NoError(t, got.UnmarshalBinary(data))
	if diff := cmp.Diff(want, &got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPacked_Layout(t *testing.T) {
	tbl := buildSample(t)
	data, err := tbl.MarshalBinary()
	require.NoError(t, err)

	le := binary.LittleEndian
	assert.Equal(t, uint32(5), le.Uint32(data[0:]))
	assert.Equal(t, uint32(1), le.Uint32(data[16:]), "its count")

	// Blocks are variable length and contiguous.
	lengths := []int{
		BlockHeaderSize + itsPayloadSize + SlotSize,
		BlockHeaderSize + smmuPayloadSize + SlotSize,
		BlockHeaderSize + rcPayloadSize + SlotSize,
		BlockHeaderSize + namedPayloadSize + SlotSize,
		BlockHeaderSize + pmcgPayloadSize + SlotSize,
	}
	off := TableHeaderSize
	for i, n := range lengths {
		assert.Equal(t, uint32(tbl.Blocks[i].Type), le.Uint32(data[off:]), "block %d type", i)
		assert.Equal(t, uint32(n), le.Uint32(data[off+12:]), "block %d length", i)
		off += n
	}
	assert.Equal(t, off, len(data))

	// The root complex entry references the SMMU by its byte offset.
	offs := tbl.offsets()
	rcSlot := int(offs[2]) + BlockHeaderSize + rcPayloadSize
	assert.Equal(t, offs[1], le.Uint32(data[rcSlot+12:]))
}

func TestPacked_ITSSlots(t *testing.T) {
	tbl := &Table{NumITSGroups: 1, Blocks: []*Block{
		{Type: NodeITSGroup, Data: &ITSGroup{IDs: []uint32{1, 2, 3, 4, 5}}},
	}}
	assert.Equal(t, 2, tbl.Blocks[0].NumSlots())

	data, err := tbl.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, TableHeaderSize+BlockHeaderSize+itsPayloadSize+2*SlotSize)

	var got Table
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, got.Blocks[0].Data.(*ITSGroup).IDs)
}

func TestPacked_Errors(t *testing.T) {
	tbl := buildSample(t)
	data, err := tbl.MarshalBinary()
	require.NoError(t, err)
	le := binary.LittleEndian

	t.Run("short header", func(t *testing.T) {
		var got Table
		assert.ErrorIs(t, got.UnmarshalBinary(data[:10]), ErrTruncated)
	})

	t.Run("truncated block", func(t *testing.T) {
		var got Table
		assert.ErrorIs(t, got.UnmarshalBinary(data[:len(data)-1]), ErrTruncated)
	})

	t.Run("length mismatch", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		le.PutUint32(bad[TableHeaderSize+12:], 64)
		var got Table
		assert.ErrorIs(t, got.UnmarshalBinary(bad), ErrInconsistent)
	})

	t.Run("header counts", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		le.PutUint32(bad[4:], 2)
		var got Table
		assert.ErrorIs(t, got.UnmarshalBinary(bad), ErrInconsistent)
	})

	t.Run("reference into a block", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		offs := tbl.offsets()
		rcSlot := int(offs[2]) + BlockHeaderSize + rcPayloadSize
		le.PutUint32(bad[rcSlot+12:], offs[1]+4)
		var got Table
		assert.ErrorIs(t, got.UnmarshalBinary(bad), ErrDanglingRef)
	})

	t.Run("unknown type", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		le.PutUint32(bad[TableHeaderSize:], 11)
		var got Table
		assert.ErrorIs(t, got.UnmarshalBinary(bad), ErrUnknownNodeType)
	})

	t.Run("failed decode leaves table untouched", func(t *testing.T) {
		got := Table{NumPMCGs: 9}
		require.Error(t, got.UnmarshalBinary(data[:30]))
		assert.Equal(t, 9, got.NumPMCGs)
	})
}

func TestPacked_MarshalDanglingRef(t *testing.T) {
	cfg := sampleConfig()
	cfg.ITSCount = intPtr(40)
	tbl, err := Build(cfg)
	require.NoError(t, err)

	_, err = tbl.MarshalBinary()
	assert.ErrorIs(t, err, ErrDanglingRef)
}
