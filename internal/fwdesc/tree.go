package fwdesc

import (
	"encoding/binary"
)

// Prop is a named raw property value.
type Prop struct {
	Name  string
	Value []byte
}

// U32Prop builds a property from big-endian cells.
func U32Prop(name string, cells ...uint32) Prop {
	b := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.BigEndian.PutUint32(b[i*4:], c)
	}
	return Prop{Name: name, Value: b}
}

// StringProp builds a NUL separated string list property.
func StringProp(name string, values ...string) Prop {
	var b []byte
	for _, v := range values {
		b = append(b, v...)
		b = append(b, 0)
	}
	return Prop{Name: name, Value: b}
}

// EmptyProp builds a marker property with no value.
func EmptyProp(name string) Prop {
	return Prop{Name: name, Value: []byte{}}
}

type treeNode struct {
	name     string
	parent   Handle
	children []Handle
	props    map[string][]byte
}

// Tree is an in-memory Decoder. Handles are indexes into the node list and
// stay valid for the lifetime of the tree.
type Tree struct {
	nodes    []treeNode
	phandles map[uint32]Handle
}

// NewTree returns a tree holding only the unnamed root node.
func NewTree(rootProps ...Prop) *Tree {
	t := &Tree{phandles: make(map[uint32]Handle)}
	t.nodes = append(t.nodes, treeNode{parent: NoNode, props: make(map[string][]byte)})
	t.setProps(0, rootProps)
	return t
}

// AddNode appends a child of parent and returns its handle.
func (t *Tree) AddNode(parent Handle, name string, props ...Prop) Handle {
	h := Handle(len(t.nodes))
	t.nodes = append(t.nodes, treeNode{name: name, parent: parent, props: make(map[string][]byte)})
	t.nodes[parent].children = append(t.nodes[parent].children, h)
	t.setProps(h, props)
	return h
}

// SetProp adds or replaces a property on h.
func (t *Tree) SetProp(h Handle, p Prop) {
	t.setProps(h, []Prop{p})
}

// RemoveProp deletes a property from h. A phandle stays registered.
func (t *Tree) RemoveProp(h Handle, name string) {
	if t.valid(h) {
		delete(t.nodes[h].props, name)
	}
}

func (t *Tree) setProps(h Handle, props []Prop) {
	for _, p := range props {
		t.nodes[h].props[p.Name] = p.Value
		if (p.Name == "phandle" || p.Name == "linux,phandle") && len(p.Value) >= 4 {
			t.phandles[binary.BigEndian.Uint32(p.Value)] = h
		}
	}
}

func (t *Tree) valid(h Handle) bool {
	return h >= 0 && int(h) < len(t.nodes)
}

func (t *Tree) Root() Handle { return 0 }

func (t *Tree) Parent(h Handle) (Handle, bool) {
	if !t.valid(h) || t.nodes[h].parent == NoNode {
		return NoNode, false
	}
	return t.nodes[h].parent, true
}

func (t *Tree) Children(h Handle) []Handle {
	if !t.valid(h) {
		return nil
	}
	return t.nodes[h].children
}

func (t *Tree) Name(h Handle) string {
	if !t.valid(h) {
		return ""
	}
	return t.nodes[h].name
}

func (t *Tree) Property(h Handle, name string) ([]byte, bool) {
	if !t.valid(h) {
		return nil, false
	}
	v, ok := t.nodes[h].props[name]
	return v, ok
}

func (t *Tree) NodeByPhandle(phandle uint32) (Handle, bool) {
	h, ok := t.phandles[phandle]
	return h, ok
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int { return len(t.nodes) }
