package iovirt

import (
	"fmt"

	log "github.com/golang/glog"
)

// lookupRootComplex finds the first root complex of segment whose map
// contains rid and returns its index with the matching entry.
func (t *Table) lookupRootComplex(segment, rid uint32) (int, IDMap, bool) {
	for i, b := range t.Blocks {
		rc, ok := b.Data.(*RootComplex)
		if !ok || rc.Segment != segment {
			continue
		}
		if m, ok := b.Lookup(rid); ok {
			return i, m, true
		}
	}
	return NoRef, IDMap{}, false
}

// Resolve returns the base address of the SMMU translating requester ID rid
// of PCI segment segment. It returns NotFound when no root complex maps rid
// and NoSMMU when the root complex is not behind a translating SMMU.
func (t *Table) Resolve(segment, rid uint32) uint64 {
	if t == nil {
		return NotFound
	}
	_, m, ok := t.lookupRootComplex(segment, rid)
	if !ok {
		log.V(1).Infof("iovirt: rid 0x%x segment %d: requester id map not found", rid, segment)
		return NotFound
	}

	sid := m.Translate(rid)
	target := t.Block(m.OutputRef)
	if target != nil && target.Type.IsSMMU() {
		if _, ok := target.Lookup(sid); ok {
			return target.Data.(*SMMU).Base
		}
	}
	log.V(1).Infof("iovirt: no smmu behind root complex segment %d", segment)
	return NoSMMU
}

// Translation is the full path of a requester ID through the topology.
type Translation struct {
	Segment     uint32
	RequesterID uint32
	// StreamID is the ID leaving the root complex.
	StreamID uint32
	// DeviceID is the ID presented to the ITS group, when one is reached.
	DeviceID uint32
	// SMMUBase is the first SMMU on the path, or NoSMMU.
	SMMUBase uint64
	// ITSGroup is the index of the terminating ITS group block, or NoRef.
	ITSGroup int
	// Path lists the visited block indexes, root complex first.
	Path []int
}

// Translate follows rid from its root complex across every hop until an
// ITS group is reached or a map entry has no target.
func (t *Table) Translate(segment, rid uint32) (Translation, error) {
	tr := Translation{Segment: segment, RequesterID: rid, ITSGroup: NoRef}
	if t == nil {
		return tr, ErrNoMapping
	}
	rcIdx, m, ok := t.lookupRootComplex(segment, rid)
	if !ok {
		return tr, fmt.Errorf("%w: segment %d rid 0x%x", ErrNoMapping, segment, rid)
	}

	id := m.Translate(rid)
	tr.StreamID = id
	tr.DeviceID = id
	tr.Path = append(tr.Path, rcIdx)
	visited := map[int]bool{rcIdx: true}

	for next := m.OutputRef; next != NoRef; {
		b := t.Block(next)
		if b == nil {
			return tr, fmt.Errorf("%w: block %d references missing block %d", ErrBrokenChain, tr.Path[len(tr.Path)-1], next)
		}
		if visited[next] {
			return tr, fmt.Errorf("%w: cycle at block %d", ErrBrokenChain, next)
		}
		visited[next] = true
		tr.Path = append(tr.Path, next)

		switch {
		case b.Type == NodeITSGroup:
			tr.DeviceID = id
			tr.ITSGroup = next
			return tr, nil
		case b.Type.IsSMMU():
			if tr.SMMUBase == NoSMMU {
				tr.SMMUBase = b.Data.(*SMMU).Base
			}
			hop, ok := b.Lookup(id)
			if !ok {
				return tr, fmt.Errorf("%w: id 0x%x at %s block %d", ErrNoMapping, id, b.Type, next)
			}
			id = hop.Translate(id)
			tr.DeviceID = id
			next = hop.OutputRef
		default:
			return tr, fmt.Errorf("%w: %s block %d cannot forward ids", ErrBrokenChain, b.Type, next)
		}
	}
	return tr, nil
}
