// Package config loads the platform description from HCL or HCL-JSON.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/agentic-research/platinfo/api"
	"github.com/agentic-research/platinfo/internal/iovirt"
	"github.com/agentic-research/platinfo/internal/peripheral"
	log "github.com/golang/glog"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

var ErrInvalid = errors.New("invalid platform configuration")

// Load decodes the file at path. The format follows the extension: ".hcl"
// for native syntax, ".json" for HCL-JSON. A relative devicetree path is
// resolved against the directory of the file.
func Load(path string) (*api.Platform, error) {
	var p api.Platform
	if err := hclsimple.DecodeFile(path, nil, &p); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if p.DeviceTree != "" && !filepath.IsAbs(p.DeviceTree) {
		p.DeviceTree = filepath.Join(filepath.Dir(path), p.DeviceTree)
	}
	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	log.V(1).Infof("config: loaded %s", path)
	return &p, nil
}

// Decode parses src as if read from filename.
func Decode(filename string, src []byte) (*api.Platform, error) {
	var p api.Platform
	if err := hclsimple.Decode(filename, src, nil, &p); err != nil {
		return nil, err
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the values the builders parse lazily: addresses, node
// types, payload counts and PCIe function addresses. All problems are
// reported together.
func Validate(p *api.Platform) error {
	var errs []error
	addr := func(field, s string) {
		if _, err := api.ParseAddr(s); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, field, err))
		}
	}

	if v := p.IOVirt; v != nil {
		addr("iovirt.address", v.Address)
		if v.ITSCount != nil && *v.ITSCount < 0 {
			errs = append(errs, fmt.Errorf("%w: iovirt.its_count %d is negative", ErrInvalid, *v.ITSCount))
		}
		need := map[iovirt.NodeType]int{}
		for i, n := range v.Nodes {
			typ, err := iovirt.ParseNodeType(n.Type)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: iovirt.node[%d]: %v", ErrInvalid, i, err))
				continue
			}
			need[typ]++
		}
		payloads := []struct {
			name       string
			nodes, got int
		}{
			{"smmu", need[iovirt.NodeSMMU] + need[iovirt.NodeSMMUv3], len(v.SMMUs)},
			{"root_complex", need[iovirt.NodeRootComplex], len(v.RootComplexes)},
			{"named_component", need[iovirt.NodeNamedComponent], len(v.NamedComponents)},
			{"pmcg", need[iovirt.NodePMCG], len(v.PMCGs)},
		}
		for _, pl := range payloads {
			if pl.got < pl.nodes {
				errs = append(errs, fmt.Errorf("%w: iovirt: %d %s nodes but %d %s blocks",
					ErrInvalid, pl.nodes, pl.name, pl.got, pl.name))
			}
		}
		for i, s := range v.SMMUs {
			addr(fmt.Sprintf("iovirt.smmu[%d].base", i), s.Base)
		}
		for i, nc := range v.NamedComponents {
			addr(fmt.Sprintf("iovirt.named_component[%d].smmu_base", i), nc.SMMUBase)
		}
		for i, pm := range v.PMCGs {
			addr(fmt.Sprintf("iovirt.pmcg[%d].base", i), pm.Base)
			addr(fmt.Sprintf("iovirt.pmcg[%d].smmu_base", i), pm.SMMUBase)
		}
	}

	if t := p.Timer; t != nil && t.PlatformTimer != nil {
		addr("timer.platform_timer.cntctl_base", t.PlatformTimer.CntCtlBase)
		addr("timer.platform_timer.cnt_base", t.PlatformTimer.CntBase)
	}
	if w := p.WatchdogOverride; w != nil {
		addr("watchdog_override.control_base", w.ControlBase)
		addr("watchdog_override.refresh_base", w.RefreshBase)
	}
	if pe := p.Peripheral; pe != nil {
		if _, err := peripheral.NewStatic(pe); err != nil {
			errs = append(errs, fmt.Errorf("%w: peripheral: %v", ErrInvalid, err))
		}
		if pe.SPCR != nil {
			addr("peripheral.spcr.base", pe.SPCR.Base)
		}
		if pe.GenericUART != nil {
			addr("peripheral.generic_uart.base", pe.GenericUART.Base)
		}
	}
	return errors.Join(errs...)
}
