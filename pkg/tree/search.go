// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tree

// FindParentOfType walks up from ref and returns the nearest ancestor (not
// including ref itself) whose Kind matches kind, or NoRef if none exists.
func (m *Model) FindParentOfType(ref Ref, kind Kind) Ref {
	for r := m.items[ref].parent; r != NoRef; r = m.items[r].parent {
		if m.items[r].Kind == kind {
			return r
		}
	}
	return NoRef
}

// FindLastParentOfType walks up from ref and returns the outermost (furthest
// from ref) ancestor whose Kind matches kind, or NoRef if none exists. This
// is used e.g. to find the top-level Volume containing a deeply nested
// section, as opposed to the innermost one.
func (m *Model) FindLastParentOfType(ref Ref, kind Kind) Ref {
	found := NoRef
	for r := m.items[ref].parent; r != NoRef; r = m.items[r].parent {
		if m.items[r].Kind == kind {
			found = r
		}
	}
	return found
}

// FindByBase returns the deepest node whose [base, base+fullSize) range
// contains target, ignoring nodes beneath a compressed ancestor (their base
// does not correspond to a real physical address). It returns NoRef if no
// node contains target.
func (m *Model) FindByBase(target uint64) Ref {
	best := NoRef
	var bestSize uint64 = ^uint64(0)
	var walk func(ref Ref, base uint64)
	walk = func(ref Ref, base uint64) {
		it := &m.items[ref]
		if it.Compressed && it.Kind != KindRoot {
			return
		}
		size := m.FullSize(ref)
		if ref != 0 && base <= target && target < base+size {
			if size < bestSize {
				best, bestSize = ref, size
			}
		}
		for _, c := range it.children {
			walk(c, base+m.items[c].Offset)
		}
	}
	walk(0, 0)
	return best
}

// Walk calls fn for ref and every descendant, in pre-order (parent before
// children, children in declaration order).
func (m *Model) Walk(ref Ref, fn func(Ref)) {
	fn(ref)
	for _, c := range m.items[ref].children {
		m.Walk(c, fn)
	}
}
