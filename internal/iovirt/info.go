package iovirt

// SMMUField selects a value returned by Table.SMMUInfo.
type SMMUField int

const (
	SMMUNumCtrl SMMUField = iota
	SMMUCtrlBase
	SMMUCtrlArchMajorRev
	SMMUBlockIndex
)

// RCField selects a value returned by Table.RCInfo.
type RCField int

const (
	RCNum RCField = iota
	RCSegment
	RCATSAttr
	RCMemAttr
	RCBlockIndex
	RCSMMUBase
)

// NamedField selects a value returned by Table.NamedComponentInfo.
type NamedField int

const (
	NamedNum NamedField = iota
	NamedCCA
	NamedSMMUBase
	NamedBlockIndex
)

// PMCGField selects a value returned by Table.PMCGInfo.
type PMCGField int

const (
	PMCGNumCtrl PMCGField = iota
	PMCGCtrlBase
	PMCGOverflowGSIV
	PMCGNodeRef
	PMCGSMMUBase
)

// ITSField selects a value returned by Table.ITSInfo.
type ITSField int

const (
	ITSNumGroups ITSField = iota
	ITSGroupNumIDs
	ITSGroupBlockIndex
)

func isType(types ...NodeType) func(*Block) bool {
	return func(b *Block) bool {
		for _, t := range types {
			if b.Type == t {
				return true
			}
		}
		return false
	}
}

// SMMUInfo returns a field of the instance-th SMMU block, v2 and v3 counted
// together. Unknown instances read as 0.
func (t *Table) SMMUInfo(f SMMUField, instance int) uint64 {
	if t == nil {
		return 0
	}
	if f == SMMUNumCtrl {
		return uint64(t.NumSMMUs)
	}
	i := t.nth(instance, isType(NodeSMMU, NodeSMMUv3))
	if i == NoRef {
		return 0
	}
	s := t.Blocks[i].Data.(*SMMU)
	switch f {
	case SMMUCtrlBase:
		return s.Base
	case SMMUCtrlArchMajorRev:
		return uint64(s.ArchMajorRev)
	case SMMUBlockIndex:
		return uint64(i)
	}
	return 0
}

// RCInfo returns a field of the instance-th root complex block.
func (t *Table) RCInfo(f RCField, instance int) uint64 {
	if t == nil {
		return 0
	}
	if f == RCNum {
		return uint64(t.NumRootComplexes)
	}
	i := t.nth(instance, isType(NodeRootComplex))
	if i == NoRef {
		return 0
	}
	b := t.Blocks[i]
	rc := b.Data.(*RootComplex)
	switch f {
	case RCSegment:
		return uint64(rc.Segment)
	case RCATSAttr:
		return uint64(rc.ATSAttr)
	case RCMemAttr:
		return uint64(rc.CCA)
	case RCBlockIndex:
		return uint64(i)
	case RCSMMUBase:
		for _, m := range b.Maps {
			if target := t.Block(m.OutputRef); target != nil && target.Type.IsSMMU() {
				return target.Data.(*SMMU).Base
			}
		}
	}
	return 0
}

// NamedComponentInfo returns a field of the instance-th named component.
func (t *Table) NamedComponentInfo(f NamedField, instance int) uint64 {
	if t == nil {
		return 0
	}
	if f == NamedNum {
		return uint64(t.NumNamedComponents)
	}
	i := t.nth(instance, isType(NodeNamedComponent))
	if i == NoRef {
		return 0
	}
	nc := t.Blocks[i].Data.(*NamedComponent)
	switch f {
	case NamedCCA:
		return uint64(nc.CCA)
	case NamedSMMUBase:
		return nc.SMMUBase
	case NamedBlockIndex:
		return uint64(i)
	}
	return 0
}

// NamedComponentName returns the device object name of the instance-th
// named component, or "".
func (t *Table) NamedComponentName(instance int) string {
	if t == nil {
		return ""
	}
	i := t.nth(instance, isType(NodeNamedComponent))
	if i == NoRef {
		return ""
	}
	return t.Blocks[i].Data.(*NamedComponent).Name
}

// PMCGInfo returns a field of the instance-th PMCG block.
func (t *Table) PMCGInfo(f PMCGField, instance int) uint64 {
	if t == nil {
		return 0
	}
	if f == PMCGNumCtrl {
		return uint64(t.NumPMCGs)
	}
	i := t.nth(instance, isType(NodePMCG))
	if i == NoRef {
		return 0
	}
	p := t.Blocks[i].Data.(*PMCG)
	switch f {
	case PMCGCtrlBase:
		return p.Base
	case PMCGOverflowGSIV:
		return uint64(p.OverflowGSIV)
	case PMCGNodeRef:
		return uint64(p.NodeRef)
	case PMCGSMMUBase:
		return p.SMMUBase
	}
	return 0
}

// ITSInfo returns a field of the instance-th ITS group.
func (t *Table) ITSInfo(f ITSField, instance int) uint64 {
	if t == nil {
		return 0
	}
	if f == ITSNumGroups {
		return uint64(t.NumITSGroups)
	}
	i := t.nth(instance, isType(NodeITSGroup))
	if i == NoRef {
		return 0
	}
	switch f {
	case ITSGroupNumIDs:
		return uint64(len(t.Blocks[i].Data.(*ITSGroup).IDs))
	case ITSGroupBlockIndex:
		return uint64(i)
	}
	return 0
}

// ITSGroupFor returns the instance number of the ITS group listing id.
func (t *Table) ITSGroupFor(id uint32) (int, bool) {
	if t == nil {
		return 0, false
	}
	group := 0
	for _, b := range t.Blocks {
		its, ok := b.Data.(*ITSGroup)
		if !ok {
			continue
		}
		for _, v := range its.IDs {
			if v == id {
				return group, true
			}
		}
		group++
	}
	return 0, false
}
