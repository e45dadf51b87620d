package api

import (
	"fmt"
	"strconv"
)

// Platform is the static description of the system under test. It stands in
// for the firmware override tables consulted while the information tables are
// built; nothing in it is read after construction.
type Platform struct {
	// DeviceTree is an optional path to a flattened device tree blob used
	// for timer and watchdog discovery.
	DeviceTree string `hcl:"devicetree,optional" json:"devicetree,omitempty"`
	// IOVirt describes the IOMMU/interrupt-translation node graph.
	IOVirt *IOVirt `hcl:"iovirt,block" json:"iovirt,omitempty"`
	// Timer carries counter frequency and timer overrides.
	Timer *Timer `hcl:"timer,block" json:"timer,omitempty"`
	// WatchdogOverride replaces the discovered watchdog list when present.
	WatchdogOverride *Watchdog `hcl:"watchdog_override,block" json:"watchdog_override,omitempty"`
	// Peripheral describes the PCIe inventory and console UARTs.
	Peripheral *Peripheral `hcl:"peripheral,block" json:"peripheral,omitempty"`
}

// IOVirt is the platform-supplied IORT equivalent. Nodes are listed in table
// order; per-type payloads are drawn from the typed lists in the order the
// nodes of that type appear.
type IOVirt struct {
	// Address of the description table. "0" or "" means the platform has
	// no topology description.
	Address string `hcl:"address,optional" json:"address,omitempty"`
	// ITSCount offsets root-complex references into the block list.
	// Defaults to the number of ITS group nodes.
	ITSCount *int `hcl:"its_count,optional" json:"its_count,omitempty"`

	Nodes           []Node           `hcl:"node,block" json:"nodes,omitempty"`
	SMMUs           []SMMU           `hcl:"smmu,block" json:"smmus,omitempty"`
	RootComplexes   []RootComplex    `hcl:"root_complex,block" json:"root_complexes,omitempty"`
	NamedComponents []NamedComponent `hcl:"named_component,block" json:"named_components,omitempty"`
	PMCGs           []PMCG           `hcl:"pmcg,block" json:"pmcgs,omitempty"`
}

// Node is one entry of the node graph.
type Node struct {
	// Type is one of its_group, named_component, root_complex, smmu_v2,
	// smmu_v3 or pmcg.
	Type string `hcl:"type" json:"type"`
	// ITSIDs lists the ITS identifiers of an its_group node.
	ITSIDs []uint32 `hcl:"its_ids,optional" json:"its_ids,omitempty"`
	// Maps are the ID mappings of the node.
	Maps []IDMap `hcl:"map,block" json:"maps,omitempty"`
}

// IDMap maps [InputBase, InputBase+IDCount] onto OutputBase.
type IDMap struct {
	InputBase  uint32 `hcl:"input_base" json:"input_base"`
	IDCount    uint32 `hcl:"id_count" json:"id_count"`
	OutputBase uint32 `hcl:"output_base" json:"output_base"`
	// OutputRef is the index of the target node. Ignored for root
	// complexes and SMMUv3 nodes, whose targets are derived.
	OutputRef *int `hcl:"output_ref,optional" json:"output_ref,omitempty"`
}

type SMMU struct {
	Base string `hcl:"base" json:"base"`
	// ContextInterrupts are the context bank interrupts (SMMUv2).
	ContextInterrupts []uint64 `hcl:"context_interrupts,optional" json:"context_interrupts,omitempty"`
}

type RootComplex struct {
	Segment uint32 `hcl:"segment" json:"segment"`
	CCA     uint32 `hcl:"cca,optional" json:"cca,omitempty"`
	ATSAttr uint32 `hcl:"ats_attr,optional" json:"ats_attr,omitempty"`
}

type NamedComponent struct {
	Name             string `hcl:"name" json:"name"`
	MemoryProperties uint32 `hcl:"memory_properties,optional" json:"memory_properties,omitempty"`
	SMMUBase         string `hcl:"smmu_base,optional" json:"smmu_base,omitempty"`
}

type PMCG struct {
	Base         string `hcl:"base" json:"base"`
	OverflowGSIV uint32 `hcl:"overflow_gsiv,optional" json:"overflow_gsiv,omitempty"`
	// SMMUBase is set when the PMCG belongs to an SMMU.
	SMMUBase string `hcl:"smmu_base,optional" json:"smmu_base,omitempty"`
}

// Timer holds generic timer settings that firmware tables do not carry.
type Timer struct {
	CounterFrequency uint64 `hcl:"counter_frequency,optional" json:"counter_frequency,omitempty"`
	// EL2VirtTimerGSIV overrides the EL2 virtual timer interrupt.
	EL2VirtTimerGSIV uint32 `hcl:"el2_virt_timer_gsiv,optional" json:"el2_virt_timer_gsiv,omitempty"`
	// PlatformTimer replaces the memory-mapped timer list with one frame.
	PlatformTimer *PlatformTimer `hcl:"platform_timer,block" json:"platform_timer,omitempty"`
}

type PlatformTimer struct {
	CntCtlBase string `hcl:"cntctl_base" json:"cntctl_base"`
	CntBase    string `hcl:"cnt_base" json:"cnt_base"`
	GSIV       uint32 `hcl:"gsiv" json:"gsiv"`
}

// Watchdog describes a single generic watchdog.
type Watchdog struct {
	RefreshBase string `hcl:"refresh_base" json:"refresh_base"`
	ControlBase string `hcl:"control_base" json:"control_base"`
	GSIV        uint32 `hcl:"gsiv" json:"gsiv"`
}

// Peripheral lists the devices a PCIe class-code scan would report plus the
// console UART descriptions.
type Peripheral struct {
	PCIeDevices []PCIeDevice `hcl:"pcie_device,block" json:"pcie_devices,omitempty"`
	SPCR        *SPCR        `hcl:"spcr,block" json:"spcr,omitempty"`
	GenericUART *GenericUART `hcl:"generic_uart,block" json:"generic_uart,omitempty"`
}

type PCIeDevice struct {
	BDF       string   `hcl:"bdf" json:"bdf"`
	ClassCode string   `hcl:"class_code" json:"class_code"`
	BARs      []string `hcl:"bars,optional" json:"bars,omitempty"`
	GSIV      uint32   `hcl:"gsiv,optional" json:"gsiv,omitempty"`
	MaxPASIDs uint32   `hcl:"max_pasids,optional" json:"max_pasids,omitempty"`
}

// SPCR is the serial port console redirection description.
type SPCR struct {
	Base          string `hcl:"base" json:"base"`
	AccessSize    uint32 `hcl:"access_size,optional" json:"access_size,omitempty"`
	GSIV          uint32 `hcl:"gsiv,optional" json:"gsiv,omitempty"`
	BaudRate      uint32 `hcl:"baud_rate,optional" json:"baud_rate,omitempty"`
	InterfaceType uint32 `hcl:"interface_type,optional" json:"interface_type,omitempty"`
}

type GenericUART struct {
	Base  string `hcl:"base" json:"base"`
	INTID uint32 `hcl:"intid,optional" json:"intid,omitempty"`
}

// ParseAddr parses an address or identifier written with a base prefix
// ("0x2b400000", "0o17", "4096"). The empty string is zero.
func ParseAddr(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

// Addr is ParseAddr for values that were already validated at load time.
func Addr(s string) uint64 {
	v, _ := ParseAddr(s)
	return v
}
