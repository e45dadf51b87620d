package fwdesc

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	log "github.com/golang/glog"
	"github.com/u-root/u-root/pkg/dt"
	"golang.org/x/sys/unix"
)

// FDTMagic is the first word of every flattened device tree blob.
const FDTMagic = 0xd00dfeed

var ErrEmptyBlob = errors.New("device tree blob is empty")

// FromFDT copies a decoded device tree into a Tree.
func FromFDT(fdt *dt.FDT) *Tree {
	if fdt == nil || fdt.RootNode == nil {
		return NewTree()
	}
	t := NewTree(fdtProps(fdt.RootNode)...)
	var add func(parent Handle, n *dt.Node)
	add = func(parent Handle, n *dt.Node) {
		for _, c := range n.Children {
			h := t.AddNode(parent, c.Name, fdtProps(c)...)
			add(h, c)
		}
	}
	add(t.Root(), fdt.RootNode)
	return t
}

func fdtProps(n *dt.Node) []Prop {
	props := make([]Prop, 0, len(n.Properties))
	for _, p := range n.Properties {
		props = append(props, Prop{Name: p.Name, Value: append([]byte(nil), p.Value...)})
	}
	return props
}

// ParseDTB decodes a flattened device tree blob held in memory.
func ParseDTB(blob []byte) (*Tree, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}
	fdt, err := dt.ReadFDT(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("read fdt: %w", err)
	}
	return FromFDT(fdt), nil
}

// LoadDTB maps the blob at path read-only and decodes it. The mapping is
// released before returning; the Tree owns copies of every property.
func LoadDTB(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dtb: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrEmptyBlob
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	defer func() {
		if err := unix.Munmap(data); err != nil {
			log.Warningf("fwdesc: munmap %s: %v", path, err)
		}
	}()

	t, err := ParseDTB(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.V(1).Infof("fwdesc: loaded %s (%d bytes, %d nodes)", path, info.Size(), t.Len())
	return t, nil
}
