package peripheral

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/platinfo/api"
)

// MaxBARs is the number of base address registers in a type 0 header.
const MaxBARs = 6

var ErrInvalidBDF = errors.New("invalid bdf")

// Device is one PCIe function seen by an enumerator.
type Device struct {
	BDF       uint32
	ClassCode uint32
	BARs      [MaxBARs]uint64
	GSIV      uint32
	MaxPASIDs uint32
}

// Enumerator lists the PCIe functions of the platform in bus order.
type Enumerator interface {
	Devices() []Device
}

// Static is an Enumerator over a fixed device list.
type Static []Device

func (s Static) Devices() []Device { return s }

// NewStatic builds an enumerator from the configured device list.
func NewStatic(cfg *api.Peripheral) (Static, error) {
	if cfg == nil {
		return nil, nil
	}
	devs := make(Static, 0, len(cfg.PCIeDevices))
	for i, pd := range cfg.PCIeDevices {
		bdf, err := ParseBDF(pd.BDF)
		if err != nil {
			return nil, fmt.Errorf("pcie_device[%d]: %w", i, err)
		}
		class, err := api.ParseAddr(pd.ClassCode)
		if err != nil {
			return nil, fmt.Errorf("pcie_device[%d] class_code: %w", i, err)
		}
		if len(pd.BARs) > MaxBARs {
			return nil, fmt.Errorf("pcie_device[%d]: %d bars, at most %d", i, len(pd.BARs), MaxBARs)
		}
		d := Device{BDF: bdf, ClassCode: uint32(class), GSIV: pd.GSIV, MaxPASIDs: pd.MaxPASIDs}
		for k, b := range pd.BARs {
			if d.BARs[k], err = api.ParseAddr(b); err != nil {
				return nil, fmt.Errorf("pcie_device[%d] bar %d: %w", i, k, err)
			}
		}
		devs = append(devs, d)
	}
	return devs, nil
}

// MakeBDF packs a PCIe function address.
func MakeBDF(seg, bus, dev, fn uint32) uint32 {
	return seg<<24 | bus<<16 | dev<<8 | fn
}

// ParseBDF reads "SSSS:BB:DD.F" or "BB:DD.F" in hex.
func ParseBDF(s string) (uint32, error) {
	parts := strings.Split(s, ":")
	var seg uint64
	switch len(parts) {
	case 2:
	case 3:
		var err error
		if seg, err = strconv.ParseUint(parts[0], 16, 8); err != nil {
			return 0, fmt.Errorf("%w %q: segment", ErrInvalidBDF, s)
		}
		parts = parts[1:]
	default:
		return 0, fmt.Errorf("%w %q", ErrInvalidBDF, s)
	}
	devStr, fnStr, ok := strings.Cut(parts[1], ".")
	if !ok {
		return 0, fmt.Errorf("%w %q: missing function", ErrInvalidBDF, s)
	}
	bus, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w %q: bus", ErrInvalidBDF, s)
	}
	dev, err := strconv.ParseUint(devStr, 16, 5)
	if err != nil {
		return 0, fmt.Errorf("%w %q: device", ErrInvalidBDF, s)
	}
	fn, err := strconv.ParseUint(fnStr, 16, 3)
	if err != nil {
		return 0, fmt.Errorf("%w %q: function", ErrInvalidBDF, s)
	}
	return MakeBDF(uint32(seg), uint32(bus), uint32(dev), uint32(fn)), nil
}

// FormatBDF is the inverse of ParseBDF.
func FormatBDF(bdf uint32) string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", bdf>>24, (bdf>>16)&0xff, (bdf>>8)&0xff, bdf&0xff)
}
