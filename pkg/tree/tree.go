// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tree implements the in-memory ordered tree that FfsParser and its
// collaborators populate while walking a firmware image. Nodes are stored in
// a single arena (spec.md §9 DESIGN NOTES: "Parent links and tree ownership")
// and referenced by integer handles rather than pointers, so the tree can be
// built top-down without the cycle problems a naive parent/child pointer
// graph would have.
package tree

import "fmt"

// Ref is a handle to an Item within a Model. The zero value is not a valid
// reference to anything but the root; use NoRef for "no node".
type Ref int

// NoRef represents the absence of a node (e.g. the root's parent, or a
// failed lookup).
const NoRef Ref = -1

// Kind is the coarse classification of a tree node (spec.md §3).
type Kind int

// Node kinds.
const (
	KindRoot Kind = iota
	KindImage
	KindCapsule
	KindRegion
	KindVolume
	KindFile
	KindSection
	KindPadding
	KindFreeSpace
	KindMicrocode
	KindNVRAMStore
	KindNVRAMEntry
	KindFPT
	KindBPDT
	KindBPDTEntry
	KindCPD
	KindCPDEntry
	KindCPDExtension
	KindFIT
	KindFITEntry
)

func (k Kind) String() string {
	names := [...]string{
		"Root", "Image", "Capsule", "Region", "Volume", "File", "Section",
		"Padding", "FreeSpace", "Microcode", "NVRAMStore", "NVRAMEntry",
		"FPT", "BPDT", "BPDTEntry", "CPD", "CPDEntry", "CPDExtension",
		"FIT", "FITEntry",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return names[k]
}

// Subtype is a finer classification within Kind, interpreted per-Kind (e.g.
// Region subtypes are flash region types, Padding subtypes distinguish
// Zero/One/Data fill).
type Subtype int

// Generic subtypes shared across kinds. Kind-specific subtype values (region
// types, FFS file types, section types, ...) live in their owning packages
// and are stored here as plain ints to keep Model free of upward
// dependencies on pkg/descriptor, pkg/ffs, etc.
const (
	SubtypeNone Subtype = iota
	SubtypePaddingZero
	SubtypePaddingOne
	SubtypePaddingData
)

// InsertMode controls where AddItem places a new child relative to parent's
// existing children, or relative to a sibling reference node.
type InsertMode int

// Insert modes.
const (
	Append InsertMode = iota
	Prepend
	Before
	After
)

// Marking is the color a node is tagged with by the second pass when it
// falls inside a protected range (spec.md §4.9).
type Marking int

// Markings.
const (
	MarkingNone Marking = iota
	MarkingRed    // fully inside an IBB range
	MarkingCyan   // fully inside a non-IBB protected range
	MarkingYellow // partial overlap with a protected range
)

// Item is a single tree node. Byte spans (Header/Body/Tail) are slices into
// the Model's single owned copy of the original input buffer, except where a
// node lives beneath a compressed ancestor, in which case they slice into
// that ancestor's UncompressedData instead (spec.md §3 invariants).
type Item struct {
	parent   Ref
	children []Ref

	Offset uint64
	Kind   Kind
	Subtype
	Name string
	Text string
	Info []string

	Header []byte
	Body   []byte
	Tail   []byte

	ParsingData interface{}

	// UncompressedData holds decoded bytes when this node represents
	// compressed content; children addressed "inside" this node use offsets
	// into UncompressedData rather than Body.
	UncompressedData []byte

	Fixed      bool
	Compressed bool

	Action  string
	Marking Marking
}

// Model owns every Item in a parsed tree. The zero Model is not usable; use
// New.
type Model struct {
	items []Item
	// buf is the single owned copy of the original input made at
	// construction time; every Item's Header/Body/Tail slice into it (or
	// into some ancestor's UncompressedData).
	buf []byte
}

// New creates a Model over a private copy of buf and returns it along with
// the Ref of the root node. The root has Kind KindRoot, offset 0, and no
// byte spans of its own.
func New(buf []byte) (*Model, Ref) {
	owned := make([]byte, len(buf))
	copy(owned, buf)
	m := &Model{buf: owned}
	root := m.newItem(NoRef, Item{Kind: KindRoot})
	return m, root
}

// Buf returns the Model's owned copy of the original input buffer.
func (m *Model) Buf() []byte {
	return m.buf
}

func (m *Model) newItem(parent Ref, it Item) Ref {
	it.parent = parent
	ref := Ref(len(m.items))
	m.items = append(m.items, it)
	return ref
}

// Get returns a copy of the Item at ref. Mutators below operate on the
// stored Item directly; Get is for read access.
func (m *Model) Get(ref Ref) Item {
	return m.items[ref]
}

// Parent returns the parent of ref, or NoRef for the root.
func (m *Model) Parent(ref Ref) Ref {
	return m.items[ref].parent
}

// Children returns the ordered list of children of ref.
func (m *Model) Children(ref Ref) []Ref {
	return m.items[ref].children
}

// AddItem creates a new Item as described, attaches it to parent per mode,
// and returns its Ref. Before/After require refAt to have a parent (i.e. not
// be the root); passing the root returns ErrInvalidParameter, matching
// spec.md §4.1.
func (m *Model) AddItem(parent Ref, offset uint64, kind Kind, subtype Subtype, name, text string, info []string, header, body, tail []byte, fixed bool, mode InsertMode, refAt Ref) (Ref, error) {
	it := Item{
		Offset:  offset,
		Kind:    kind,
		Subtype: subtype,
		Name:    name,
		Text:    text,
		Info:    append([]string(nil), info...),
		Header:  header,
		Body:    body,
		Tail:    tail,
		Fixed:   fixed,
	}
	ref := m.newItem(parent, it)

	switch mode {
	case Append:
		m.items[parent].children = append(m.items[parent].children, ref)
	case Prepend:
		m.items[parent].children = append([]Ref{ref}, m.items[parent].children...)
	case Before, After:
		if refAt == NoRef || m.items[refAt].parent == NoRef {
			return NoRef, ErrInvalidParameter
		}
		siblings := m.items[parent].children
		idx := -1
		for i, c := range siblings {
			if c == refAt {
				idx = i
				break
			}
		}
		if idx == -1 {
			return NoRef, ErrInvalidParameter
		}
		if mode == After {
			idx++
		}
		out := make([]Ref, 0, len(siblings)+1)
		out = append(out, siblings[:idx]...)
		out = append(out, ref)
		out = append(out, siblings[idx:]...)
		m.items[parent].children = out
	}

	if fixed {
		m.SetFixed(ref)
	}
	if m.items[parent].Compressed {
		m.items[ref].Compressed = true
	}
	return ref, nil
}

// ErrInvalidParameter is returned by AddItem when Before/After addressing
// cannot be resolved (spec.md §4.1).
var ErrInvalidParameter = fmt.Errorf("invalid parameter: reference node has no resolvable parent slot")

// SetText replaces a node's human-readable Text.
func (m *Model) SetText(ref Ref, text string) {
	m.items[ref].Text = text
}

// AddInfo appends a line to a node's Info, never replacing prior entries
// (spec.md §9: "Diagnostics are additive").
func (m *Model) AddInfo(ref Ref, line string) {
	m.items[ref].Info = append(m.items[ref].Info, line)
}

// SetParsingData stores opaque per-kind metadata on a node.
func (m *Model) SetParsingData(ref Ref, data interface{}) {
	m.items[ref].ParsingData = data
}

// SetFixed marks ref (and, per spec.md §4.1, propagates the flag to
// ancestors) as non-relocatable. Propagation stops at a compressed boundary:
// the outermost compressed node is marked, but its uncompressed parent is
// not forced fixed, since that parent's own position is independent of its
// decompressed children's addressing.
func (m *Model) SetFixed(ref Ref) {
	for r := ref; r != NoRef; r = m.items[r].parent {
		m.items[r].Fixed = true
		p := m.items[r].parent
		if m.items[r].Compressed && p != NoRef && !m.items[p].Compressed {
			break
		}
	}
}

// SetCompressed marks ref as living inside a compressed span. Descendants
// inherit the flag as they are added (see AddItem).
func (m *Model) SetCompressed(ref Ref, compressed bool) {
	m.items[ref].Compressed = compressed
}

// SetMarking sets a node's protected-range marking (second pass only).
func (m *Model) SetMarking(ref Ref, marking Marking) {
	m.items[ref].Marking = marking
}

// SetUncompressedData stores the decoded payload for a node representing
// compressed content.
func (m *Model) SetUncompressedData(ref Ref, data []byte) {
	m.items[ref].UncompressedData = data
}

// SetAction records the second pass / downstream action tag on a node.
func (m *Model) SetAction(ref Ref, action string) {
	m.items[ref].Action = action
}

// Base returns the absolute byte position of ref within the image, computed
// by summing offsets from the root. Beneath a compressed ancestor, Base
// applies within that ancestor's decompressed address space rather than the
// physical image (spec.md §3 invariants) — callers that need a true physical
// address should check Item.Compressed first.
func (m *Model) Base(ref Ref) uint64 {
	var base uint64
	for r := ref; r != NoRef; r = m.items[r].parent {
		base += m.items[r].Offset
	}
	return base
}

// FullSize returns len(Header)+len(Body)+len(Tail) for ref.
func (m *Model) FullSize(ref Ref) uint64 {
	it := &m.items[ref]
	return uint64(len(it.Header) + len(it.Body) + len(it.Tail))
}
