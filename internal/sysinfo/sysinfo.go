// Package sysinfo owns the information tables for one run: it builds them
// in order, hands them to readers and releases them.
package sysinfo

import (
	"errors"
	"fmt"

	"github.com/agentic-research/platinfo/api"
	"github.com/agentic-research/platinfo/internal/config"
	"github.com/agentic-research/platinfo/internal/fwdesc"
	"github.com/agentic-research/platinfo/internal/iovirt"
	"github.com/agentic-research/platinfo/internal/peripheral"
	"github.com/agentic-research/platinfo/internal/timer"
	"github.com/agentic-research/platinfo/internal/watchdog"
	log "github.com/golang/glog"
)

var ErrClosed = errors.New("information tables already released")

// Info is the harness handle. Tables stay readable until Close; a table
// whose construction failed holds whatever was built before the failure.
type Info struct {
	IOVirt     *iovirt.Table
	Timer      *timer.Table
	Watchdog   *watchdog.Table
	Peripheral *peripheral.Table
	Summary    peripheral.Summary

	closed bool
}

// Gather validates cfg and builds every table in the order IOVIRT, timer,
// watchdog, peripheral. Validation and construction errors do not stop
// later tables; they are joined into the returned error. dec and enum may
// be nil; without enum the configured PCIe device list is scanned.
func Gather(cfg *api.Platform, dec fwdesc.Decoder, enum peripheral.Enumerator) (*Info, error) {
	if cfg == nil {
		cfg = &api.Platform{}
	}
	info := &Info{}
	var errs []error

	err := config.Validate(cfg)
	if err != nil {
		log.Warningf("sysinfo: %v", err)
		errs = append(errs, err)
	}
	if info.IOVirt, err = iovirt.Build(cfg.IOVirt); err != nil {
		errs = append(errs, fmt.Errorf("iovirt: %w", err))
	}
	if info.Timer, err = timer.Build(dec, cfg.Timer); err != nil {
		errs = append(errs, fmt.Errorf("timer: %w", err))
	}
	if info.Watchdog, err = watchdog.Build(dec, cfg.WatchdogOverride); err != nil {
		errs = append(errs, fmt.Errorf("watchdog: %w", err))
	}

	if enum == nil {
		static, err := peripheral.NewStatic(cfg.Peripheral)
		if err != nil {
			errs = append(errs, fmt.Errorf("peripheral: %w", err))
		} else {
			enum = static
		}
	}
	info.Peripheral = peripheral.Build(enum, cfg.Peripheral)
	info.Summary = peripheral.Summarize(enum)
	log.V(1).Infof("sysinfo: %d network, %d storage, %d display controllers",
		info.Summary.Network, info.Summary.Storage, info.Summary.Display)

	return info, errors.Join(errs...)
}

// Load reads the configuration at configPath, then the device tree at
// dtbPath (or the one the configuration names), and gathers the tables.
// Either path may be empty.
func Load(configPath, dtbPath string) (*Info, error) {
	cfg := &api.Platform{}
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if dtbPath == "" {
		dtbPath = cfg.DeviceTree
	}

	var dec fwdesc.Decoder
	if dtbPath != "" {
		tree, err := fwdesc.LoadDTB(dtbPath)
		if err != nil {
			return nil, err
		}
		dec = tree
	}
	return Gather(cfg, dec, nil)
}

// Closed reports whether the tables have been released.
func (i *Info) Closed() bool { return i == nil || i.closed }

// Close releases the tables. Readers see empty tables afterwards.
func (i *Info) Close() error {
	if i.Closed() {
		log.Warning("sysinfo: tables already released")
		return ErrClosed
	}
	i.IOVirt, i.Timer, i.Watchdog, i.Peripheral = nil, nil, nil, nil
	i.Summary = peripheral.Summary{}
	i.closed = true
	return nil
}
