package iovirt

import (
	"github.com/RoaringBitmap/roaring"
	log "github.com/golang/glog"
)

// validateBlock records consistency verdicts in b.Flags. It runs once per
// block while the table is built; flags are never cleared afterwards.
func validateBlock(b *Block) {
	switch d := b.Data.(type) {
	case *ITSGroup:
		return
	case *SMMU:
		if !distinctInterrupts(d.ContextInterrupts) {
			log.Warningf("iovirt: smmu 0x%x context interrupts are not distinct", d.Base)
			b.Flags |= FlagCtxIntNotDistinct
		}
	}

	if b.Type == NodeRootComplex {
		if inputsOverlap(b.Maps) {
			log.Warningf("iovirt: root complex requester id map is not unique")
			b.Flags |= FlagStreamIDOverlap
		}
		return
	}
	if inputsOverlap(b.Maps) {
		log.Warningf("iovirt: %s block has overlapping id maps", b.Type)
		b.Flags |= FlagDevIDOverlap
	}
}

// distinctInterrupts compares the low 32 bits of at most
// MaxContextInterrupts entries.
func distinctInterrupts(ints []uint64) bool {
	if len(ints) > MaxContextInterrupts {
		ints = ints[:MaxContextInterrupts]
	}
	seen := roaring.New()
	for _, v := range ints {
		if !seen.CheckedAdd(uint32(v)) {
			return false
		}
	}
	return true
}

func idRange(base, count uint32) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(uint64(base), uint64(base)+uint64(count)+1)
	return bm
}

func inputsOverlap(maps []IDMap) bool {
	acc := roaring.New()
	for _, m := range maps {
		r := idRange(m.InputBase, m.IDCount)
		if acc.Intersects(r) {
			return true
		}
		acc.Or(r)
	}
	return false
}

// UniqueContextInterrupts reports whether the SMMU block's context bank
// interrupts were found distinct at construction.
func UniqueContextInterrupts(b *Block) bool {
	return b.Flags&FlagCtxIntNotDistinct == 0
}

// UniqueRIDStreamIDMap reports whether the root complex block maps each
// requester ID to a single stream ID.
func UniqueRIDStreamIDMap(b *Block) bool {
	return b.Flags&FlagStreamIDOverlap == 0
}

// UniqueDeviceIDMap reports whether neither overlap flag is set on b.
func UniqueDeviceIDMap(b *Block) bool {
	return b.Flags&(FlagDevIDOverlap|FlagStreamIDOverlap) == 0
}
