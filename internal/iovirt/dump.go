package iovirt

import (
	"bufio"
	"fmt"
	"io"
)

func refString(i int) string {
	if i == NoRef {
		return "none"
	}
	return fmt.Sprint(i)
}

// Dump writes the table as key:value lines, one block header per block
// followed by its payload and map entries.
func (t *Table) Dump(w io.Writer) error {
	if t == nil {
		t = &Table{}
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "blocks:%d smmus:%d root_complexes:%d named_components:%d its_groups:%d pmcgs:%d\n",
		t.NumBlocks(), t.NumSMMUs, t.NumRootComplexes, t.NumNamedComponents, t.NumITSGroups, t.NumPMCGs)

	for i, b := range t.Blocks {
		fmt.Fprintf(bw, "block[%d] type:%s flags:0x%x\n", i, b.Type, uint32(b.Flags))
		switch d := b.Data.(type) {
		case *ITSGroup:
			fmt.Fprintf(bw, "  its_count:%d\n", len(d.IDs))
			for k, id := range d.IDs {
				fmt.Fprintf(bw, "  its_id[%d]:%d\n", k, id)
			}
			continue
		case *NamedComponent:
			fmt.Fprintf(bw, "  name:%s cca:0x%x smmu_base:0x%x\n", d.Name, d.CCA, d.SMMUBase)
		case *RootComplex:
			fmt.Fprintf(bw, "  segment:%d cca:0x%x ats_attr:0x%x\n", d.Segment, d.CCA, d.ATSAttr)
		case *SMMU:
			fmt.Fprintf(bw, "  base:0x%x arch_major_rev:%d context_interrupts:%d\n",
				d.Base, d.ArchMajorRev, len(d.ContextInterrupts))
		case *PMCG:
			fmt.Fprintf(bw, "  base:0x%x overflow_gsiv:0x%x node_ref:%s smmu_base:0x%x\n",
				d.Base, d.OverflowGSIV, refString(d.NodeRef), d.SMMUBase)
		}
		fmt.Fprintf(bw, "  num_maps:%d\n", len(b.Maps))
		for k, m := range b.Maps {
			fmt.Fprintf(bw, "  map[%d] input_base:0x%x id_count:0x%x output_base:0x%x output_ref:%s\n",
				k, m.InputBase, m.IDCount, m.OutputBase, refString(m.OutputRef))
		}
	}
	return bw.Flush()
}
