package iovirt

import (
	"testing"

	"github.com/agentic-research/platinfo/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tbl := buildSample(t)

	t.Run("behind smmu", func(t *testing.T) {
		assert.Equal(t, uint64(0x10000000), tbl.Resolve(0, 0x10))
	})

	t.Run("inclusive upper bound", func(t *testing.T) {
		assert.Equal(t, uint64(0x10000000), tbl.Resolve(0, 0xFF))
		assert.Equal(t, NotFound, tbl.Resolve(0, 0x100))
	})

	t.Run("unknown segment", func(t *testing.T) {
		assert.Equal(t, uint64(0xFFFFFFFF), tbl.Resolve(1, 0x10))
	})

	t.Run("nil table", func(t *testing.T) {
		var empty *Table
		assert.Equal(t, NotFound, empty.Resolve(0, 0))
	})
}

func TestResolve_NotBehindSMMU(t *testing.T) {
	t.Run("target is an its group", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.ITSCount = intPtr(0)
		tbl, err := Build(cfg)
		require.NoError(t, err)
		assert.Equal(t, NoSMMU, tbl.Resolve(0, 0x10))
	})

	t.Run("target is missing", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.ITSCount = intPtr(40)
		tbl, err := Build(cfg)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), tbl.Resolve(0, 0x10))
	})

	t.Run("smmu does not map the stream id", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.Nodes[1].Maps[0] = api.IDMap{InputBase: 0x1000, IDCount: 0xF}
		tbl, err := Build(cfg)
		require.NoError(t, err)
		assert.Equal(t, NoSMMU, tbl.Resolve(0, 0x10))
	})
}

func TestResolve_FirstMatchWins(t *testing.T) {
	cfg := &api.IOVirt{
		Address: "0x1",
		Nodes: []api.Node{
			{Type: "smmu_v2", Maps: []api.IDMap{{InputBase: 0, IDCount: 0xFFFF}}},
			{Type: "smmu_v2", Maps: []api.IDMap{{InputBase: 0, IDCount: 0xFFFF}}},
			{Type: "root_complex", Maps: []api.IDMap{{InputBase: 0, IDCount: 0xFF}}},
			{Type: "root_complex", Maps: []api.IDMap{{InputBase: 0x1000, IDCount: 0xFF}, {InputBase: 0, IDCount: 0xFF}}},
		},
		SMMUs:         []api.SMMU{{Base: "0xa000"}, {Base: "0xb000"}},
		RootComplexes: []api.RootComplex{{Segment: 0}, {Segment: 0}},
		ITSCount:      intPtr(0),
	}
	tbl, err := Build(cfg)
	require.NoError(t, err)

	// Both root complexes match; the second would route to block 1.
	assert.Equal(t, uint64(0xa000), tbl.Resolve(0, 0x42))
}

func TestTranslate(t *testing.T) {
	tbl := buildSample(t)

	tr, err := tbl.Translate(0, 0x10)
	require.NoError(t, err)
	assert.Equal(t, Translation{
		Segment:     0,
		RequesterID: 0x10,
		StreamID:    0x10,
		DeviceID:    0x10,
		SMMUBase:    0x10000000,
		ITSGroup:    0,
		Path:        []int{2, 1, 0},
	}, tr)
}

func TestTranslate_DirectToITS(t *testing.T) {
	cfg := &api.IOVirt{
		Address: "0x1",
		Nodes: []api.Node{
			{Type: "its_group", ITSIDs: []uint32{1, 2}},
			{Type: "root_complex", Maps: []api.IDMap{{InputBase: 0x100, IDCount: 0xFF, OutputBase: 0x8000}}},
		},
		RootComplexes: []api.RootComplex{{Segment: 3}},
		ITSCount:      intPtr(0),
	}
	tbl, err := Build(cfg)
	require.NoError(t, err)

	tr, err := tbl.Translate(3, 0x105)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x8005), tr.StreamID)
	assert.Equal(t, uint32(0x8005), tr.DeviceID)
	assert.Equal(t, NoSMMU, tr.SMMUBase)
	assert.Equal(t, 0, tr.ITSGroup)
	assert.Equal(t, []int{1, 0}, tr.Path)
}

func TestTranslate_Errors(t *testing.T) {
	tbl := buildSample(t)

	_, err := tbl.Translate(7, 0)
	assert.ErrorIs(t, err, ErrNoMapping)

	t.Run("dangling", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.ITSCount = intPtr(40)
		tbl, err := Build(cfg)
		require.NoError(t, err)
		_, err = tbl.Translate(0, 0x10)
		assert.ErrorIs(t, err, ErrBrokenChain)
	})

	t.Run("cycle", func(t *testing.T) {
		cfg := &api.IOVirt{
			Address: "0x1",
			Nodes: []api.Node{
				{Type: "smmu_v2", Maps: []api.IDMap{{IDCount: 0xFFFF, OutputRef: intPtr(1)}}},
				{Type: "smmu_v2", Maps: []api.IDMap{{IDCount: 0xFFFF, OutputRef: intPtr(0)}}},
				{Type: "root_complex", Maps: []api.IDMap{{IDCount: 0xFF}}},
			},
			SMMUs:         []api.SMMU{{Base: "0x1000"}, {Base: "0x2000"}},
			RootComplexes: []api.RootComplex{{}},
			ITSCount:      intPtr(0),
		}
		tbl, err := Build(cfg)
		require.NoError(t, err)
		tr, err := tbl.Translate(0, 1)
		assert.ErrorIs(t, err, ErrBrokenChain)
		assert.Equal(t, uint64(0x1000), tr.SMMUBase)
	})

	t.Run("forwarding through named component", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.ITSCount = intPtr(3)
		tbl, err := Build(cfg)
		require.NoError(t, err)
		_, err = tbl.Translate(0, 0x10)
		assert.ErrorIs(t, err, ErrBrokenChain)
	})

	t.Run("smmu without mapping", func(t *testing.T) {
		cfg := sampleConfig()
		cfg.Nodes[1].Maps[0] = api.IDMap{InputBase: 0x1000, IDCount: 0xF}
		tbl, err := Build(cfg)
		require.NoError(t, err)
		_, err = tbl.Translate(0, 0x10)
		assert.ErrorIs(t, err, ErrNoMapping)
	})
}

func TestTranslate_EndsWithoutTarget(t *testing.T) {
	cfg := &api.IOVirt{
		Address: "0x1",
		Nodes: []api.Node{
			{Type: "smmu_v2", Maps: []api.IDMap{{IDCount: 0xFFFF, OutputBase: 0x400}}},
			{Type: "root_complex", Maps: []api.IDMap{{IDCount: 0xFF}}},
		},
		SMMUs:         []api.SMMU{{Base: "0x1000"}},
		RootComplexes: []api.RootComplex{{}},
		ITSCount:      intPtr(0),
	}
	tbl, err := Build(cfg)
	require.NoError(t, err)

	tr, err := tbl.Translate(0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), tr.StreamID)
	assert.Equal(t, uint32(0x402), tr.DeviceID)
	assert.Equal(t, NoRef, tr.ITSGroup)
	assert.Equal(t, []int{1, 0}, tr.Path)
}
