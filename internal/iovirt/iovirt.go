// Package iovirt models the IOMMU and interrupt-translation topology of a
// platform as an ordered list of typed blocks joined by ID mappings.
package iovirt

import (
	"errors"
	"fmt"
)

// NodeType discriminates blocks. Values follow the IORT node numbering.
type NodeType uint32

const (
	NodeITSGroup NodeType = iota
	NodeNamedComponent
	NodeRootComplex
	NodeSMMU
	NodeSMMUv3
	NodePMCG
)

var nodeTypeNames = [...]string{
	NodeITSGroup:       "its_group",
	NodeNamedComponent: "named_component",
	NodeRootComplex:    "root_complex",
	NodeSMMU:           "smmu_v2",
	NodeSMMUv3:         "smmu_v3",
	NodePMCG:           "pmcg",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// IsSMMU reports whether blocks of this type translate IDs for devices
// behind them.
func (t NodeType) IsSMMU() bool {
	return t == NodeSMMU || t == NodeSMMUv3
}

// ParseNodeType maps a configuration name to its NodeType.
func ParseNodeType(s string) (NodeType, error) {
	for i, name := range nodeTypeNames {
		if name == s {
			return NodeType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownNodeType, s)
}

// Flags are consistency bits set once while the table is built.
type Flags uint32

const (
	FlagDevIDOverlap Flags = 1 << iota
	FlagStreamIDOverlap
	FlagCtxIntNotDistinct
)

const (
	// NoRef marks a map entry without a target block.
	NoRef = -1
	// NotFound is returned by Resolve when no root complex maps the ID.
	NotFound uint64 = 0xFFFFFFFF
	// NoSMMU is returned by Resolve when the root complex is not behind
	// a translating SMMU.
	NoSMMU uint64 = 0

	CCAMask uint32 = 0xFFFFFFFF

	// MaxContextInterrupts bounds the context interrupts considered per SMMU.
	MaxContextInterrupts = 128
	// MaxNameLength is the size of the named component name field,
	// terminator included.
	MaxNameLength = 64
	// ITSIDsPerSlot is how many ITS identifiers share one map slot.
	ITSIDsPerSlot = 4
)

var (
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrMalformedMap    = errors.New("malformed id map")
	ErrMissingPayload  = errors.New("node payload not configured")
	ErrBrokenChain     = errors.New("broken translation chain")
	ErrNoMapping       = errors.New("no id mapping")
	ErrInvalidAddress  = errors.New("invalid address")
)

// IDMap maps the inclusive input range [InputBase, InputBase+IDCount] onto
// OutputBase, routed to the block at index OutputRef.
type IDMap struct {
	InputBase  uint32
	IDCount    uint32
	OutputBase uint32
	OutputRef  int
}

// Contains reports whether id lies in the input range. Both ends are
// inclusive.
func (m IDMap) Contains(id uint32) bool {
	return id >= m.InputBase && uint64(id) <= uint64(m.InputBase)+uint64(m.IDCount)
}

// Translate maps id, which must be contained in the range, to its output.
func (m IDMap) Translate(id uint32) uint32 {
	return id - m.InputBase + m.OutputBase
}

// Payload is the type-specific part of a block.
type Payload interface {
	nodeType() NodeType
}

type ITSGroup struct {
	IDs []uint32
}

type NamedComponent struct {
	Name     string
	CCA      uint32
	SMMUBase uint64
}

type RootComplex struct {
	Segment uint32
	CCA     uint32
	ATSAttr uint32
}

// SMMU covers both SMMUv2 and SMMUv3 blocks.
type SMMU struct {
	Base         uint64
	ArchMajorRev uint32
	// ContextInterrupts is kept for the distinctness check; it is not part
	// of the packed encoding.
	ContextInterrupts []uint64
}

type PMCG struct {
	Base         uint64
	OverflowGSIV uint32
	// NodeRef is the index of the PMCG block itself.
	NodeRef  int
	SMMUBase uint64
}

func (*ITSGroup) nodeType() NodeType       { return NodeITSGroup }
func (*NamedComponent) nodeType() NodeType { return NodeNamedComponent }
func (*RootComplex) nodeType() NodeType    { return NodeRootComplex }
func (*SMMU) nodeType() NodeType           { return NodeSMMU }
func (*PMCG) nodeType() NodeType           { return NodePMCG }

// Block is one node of the topology.
type Block struct {
	Type  NodeType
	Flags Flags
	Data  Payload
	Maps  []IDMap
}

// NumSlots is the number of map slots the block occupies. ITS groups pack
// their identifiers four to a slot.
func (b *Block) NumSlots() int {
	if its, ok := b.Data.(*ITSGroup); ok {
		return (len(its.IDs) + ITSIDsPerSlot - 1) / ITSIDsPerSlot
	}
	return len(b.Maps)
}

// Lookup returns the first map entry containing id.
func (b *Block) Lookup(id uint32) (IDMap, bool) {
	for _, m := range b.Maps {
		if m.Contains(id) {
			return m, true
		}
	}
	return IDMap{}, false
}

// Table is the built topology. Blocks keep configuration order; map entries
// refer to each other by index into Blocks.
type Table struct {
	NumSMMUs           int
	NumRootComplexes   int
	NumNamedComponents int
	NumITSGroups       int
	NumPMCGs           int

	Blocks []*Block
}

// NumBlocks returns the total number of blocks.
func (t *Table) NumBlocks() int {
	if t == nil {
		return 0
	}
	return len(t.Blocks)
}

// Block returns the block at index i, or nil when i is out of range.
func (t *Table) Block(i int) *Block {
	if t == nil || i < 0 || i >= len(t.Blocks) {
		return nil
	}
	return t.Blocks[i]
}

// Count returns the per-type counter for typ. SMMUv2 and SMMUv3 share one.
func (t *Table) Count(typ NodeType) int {
	switch typ {
	case NodeITSGroup:
		return t.NumITSGroups
	case NodeNamedComponent:
		return t.NumNamedComponents
	case NodeRootComplex:
		return t.NumRootComplexes
	case NodeSMMU, NodeSMMUv3:
		return t.NumSMMUs
	case NodePMCG:
		return t.NumPMCGs
	}
	return 0
}

func (t *Table) count(typ NodeType) *int {
	switch typ {
	case NodeITSGroup:
		return &t.NumITSGroups
	case NodeNamedComponent:
		return &t.NumNamedComponents
	case NodeRootComplex:
		return &t.NumRootComplexes
	case NodeSMMU, NodeSMMUv3:
		return &t.NumSMMUs
	case NodePMCG:
		return &t.NumPMCGs
	}
	return nil
}

// nth returns the index of the instance-th block matching match.
func (t *Table) nth(instance int, match func(*Block) bool) int {
	if instance < 0 {
		return NoRef
	}
	for i, b := range t.Blocks {
		if !match(b) {
			continue
		}
		if instance == 0 {
			return i
		}
		instance--
	}
	return NoRef
}
