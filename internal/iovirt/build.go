package iovirt

import (
	"fmt"
	"math"
	"strings"

	"github.com/agentic-research/platinfo/api"
	log "github.com/golang/glog"
)

// payloadCursor hands out the typed configuration entries in order. Each
// list advances only when a block of its type is built; SMMUv2 and SMMUv3
// blocks share the smmu list.
type payloadCursor struct {
	cfg                 *api.IOVirt
	smmu, rc, named, pm int
}

func (c *payloadCursor) nextSMMU() (api.SMMU, error) {
	if c.smmu >= len(c.cfg.SMMUs) {
		return api.SMMU{}, fmt.Errorf("%w: smmu %d", ErrMissingPayload, c.smmu)
	}
	s := c.cfg.SMMUs[c.smmu]
	c.smmu++
	return s, nil
}

func (c *payloadCursor) rootComplex() (api.RootComplex, error) {
	if c.rc >= len(c.cfg.RootComplexes) {
		return api.RootComplex{}, fmt.Errorf("%w: root_complex %d", ErrMissingPayload, c.rc)
	}
	r := c.cfg.RootComplexes[c.rc]
	c.rc++
	return r, nil
}

func (c *payloadCursor) namedComponent() (api.NamedComponent, error) {
	if c.named >= len(c.cfg.NamedComponents) {
		return api.NamedComponent{}, fmt.Errorf("%w: named_component %d", ErrMissingPayload, c.named)
	}
	n := c.cfg.NamedComponents[c.named]
	c.named++
	return n, nil
}

func (c *payloadCursor) pmcg() (api.PMCG, error) {
	if c.pm >= len(c.cfg.PMCGs) {
		return api.PMCG{}, fmt.Errorf("%w: pmcg %d", ErrMissingPayload, c.pm)
	}
	p := c.cfg.PMCGs[c.pm]
	c.pm++
	return p, nil
}

// Build constructs the topology table described by cfg.
//
// A nil description or a zero address yields an empty table and no error;
// an address that does not parse is ErrInvalidAddress. Construction stops
// at the first unknown node type, missing payload, malformed base address
// or wrapping map entry; the blocks built so far are returned with the
// error.
func Build(cfg *api.IOVirt) (*Table, error) {
	t := &Table{}
	if cfg == nil {
		log.V(1).Info("iovirt: no topology description")
		return t, nil
	}
	addr, err := parseAddr("address", cfg.Address)
	if err != nil {
		log.Errorf("iovirt: %v", err)
		return t, err
	}
	if addr == 0 {
		log.V(1).Info("iovirt: no topology description")
		return t, nil
	}

	itsCount := 0
	for _, n := range cfg.Nodes {
		if n.Type == NodeITSGroup.String() {
			itsCount++
		}
	}
	if cfg.ITSCount != nil {
		itsCount = *cfg.ITSCount
	}

	cur := &payloadCursor{cfg: cfg}
	z := 0
	for i, n := range cfg.Nodes {
		typ, err := ParseNodeType(n.Type)
		if err != nil {
			log.Errorf("iovirt: node %d: %v", i, err)
			return t, fmt.Errorf("node %d: %w", i, err)
		}

		b, err := buildBlock(cur, typ, n, i)
		if err != nil {
			log.Errorf("iovirt: node %d (%s): %v", i, typ, err)
			return t, fmt.Errorf("node %d: %w", i, err)
		}

		if typ != NodeITSGroup {
			maps, err := buildMaps(typ, n.Maps, itsCount, z)
			if err != nil {
				log.Errorf("iovirt: node %d (%s): %v", i, typ, err)
				return t, fmt.Errorf("node %d: %w", i, err)
			}
			b.Maps = maps
			z++
		}

		validateBlock(b)
		t.Blocks = append(t.Blocks, b)
		*t.count(typ)++
	}

	log.Infof("iovirt: %d blocks (smmu %d, root complex %d, named %d, its %d, pmcg %d)",
		t.NumBlocks(), t.NumSMMUs, t.NumRootComplexes, t.NumNamedComponents, t.NumITSGroups, t.NumPMCGs)
	if log.V(2) {
		var sb strings.Builder
		_ = t.Dump(&sb)
		log.Info("iovirt: table dump\n" + sb.String())
	}
	return t, nil
}

func buildBlock(cur *payloadCursor, typ NodeType, n api.Node, index int) (*Block, error) {
	b := &Block{Type: typ}
	switch typ {
	case NodeITSGroup:
		b.Data = &ITSGroup{IDs: append([]uint32(nil), n.ITSIDs...)}
	case NodeNamedComponent:
		nc, err := cur.namedComponent()
		if err != nil {
			return nil, err
		}
		name := nc.Name
		if len(name) >= MaxNameLength {
			log.Warningf("iovirt: named component %q truncated to %d bytes", name, MaxNameLength-1)
			name = name[:MaxNameLength-1]
		}
		smmuBase, err := parseAddr("named_component smmu_base", nc.SMMUBase)
		if err != nil {
			return nil, err
		}
		b.Data = &NamedComponent{
			Name:     name,
			CCA:      nc.MemoryProperties & CCAMask,
			SMMUBase: smmuBase,
		}
	case NodeRootComplex:
		rc, err := cur.rootComplex()
		if err != nil {
			return nil, err
		}
		b.Data = &RootComplex{Segment: rc.Segment, CCA: rc.CCA & CCAMask, ATSAttr: rc.ATSAttr}
	case NodeSMMU, NodeSMMUv3:
		s, err := cur.nextSMMU()
		if err != nil {
			return nil, err
		}
		rev := uint32(2)
		if typ == NodeSMMUv3 {
			rev = 3
		}
		base, err := parseAddr("smmu base", s.Base)
		if err != nil {
			return nil, err
		}
		b.Data = &SMMU{
			Base:              base,
			ArchMajorRev:      rev,
			ContextInterrupts: append([]uint64(nil), s.ContextInterrupts...),
		}
	case NodePMCG:
		p, err := cur.pmcg()
		if err != nil {
			return nil, err
		}
		base, err := parseAddr("pmcg base", p.Base)
		if err != nil {
			return nil, err
		}
		smmuBase, err := parseAddr("pmcg smmu_base", p.SMMUBase)
		if err != nil {
			return nil, err
		}
		b.Data = &PMCG{
			Base:         base,
			OverflowGSIV: p.OverflowGSIV,
			NodeRef:      index,
			SMMUBase:     smmuBase,
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownNodeType, typ)
	}
	return b, nil
}

func parseAddr(field, s string) (uint64, error) {
	v, err := api.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, field, err)
	}
	return v, nil
}

// buildMaps converts configured entries. Root complex entry j targets block
// j+itsCount and SMMUv3 entries target block z, the number of non-ITS
// blocks built before this one; all other types keep the configured
// reference.
func buildMaps(typ NodeType, in []api.IDMap, itsCount, z int) ([]IDMap, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]IDMap, 0, len(in))
	for j, m := range in {
		if uint64(m.InputBase)+uint64(m.IDCount) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: entry %d input_base 0x%x id_count 0x%x wraps",
				ErrMalformedMap, j, m.InputBase, m.IDCount)
		}
		e := IDMap{
			InputBase:  m.InputBase,
			IDCount:    m.IDCount,
			OutputBase: m.OutputBase,
			OutputRef:  NoRef,
		}
		switch typ {
		case NodeRootComplex:
			e.OutputRef = j + itsCount
		case NodeSMMUv3:
			e.OutputRef = z
		default:
			if m.OutputRef != nil {
				e.OutputRef = *m.OutputRef
			}
		}
		out = append(out, e)
	}
	return out, nil
}
