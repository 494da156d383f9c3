// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package parser is the top-level entry point: given a raw buffer, it peels
// off an optional capsule wrapper, then dispatches to the Intel flash image
// parser (descriptor + regions) or the generic firmware-volume scanner,
// before running the second, address-aware pass over whatever Volume Top
// File the first pass found (spec.md §4.9, pkg/fit). All of it is driven
// from here so a caller only ever touches one function.
package parser

import (
	"github.com/fwtree/parser/pkg/capsule"
	"github.com/fwtree/parser/pkg/descriptor"
	"github.com/fwtree/parser/pkg/ffs"
	"github.com/fwtree/parser/pkg/fit"
	"github.com/fwtree/parser/pkg/me"
	"github.com/fwtree/parser/pkg/messages"
	"github.com/fwtree/parser/pkg/nvram"
	"github.com/fwtree/parser/pkg/scan"
	"github.com/fwtree/parser/pkg/tree"
)

// Subtype values for KindImage nodes.
const (
	SubtypeIntelImage tree.Subtype = iota + 1
	SubtypeUEFIImage
)

// Parser holds the tree a single Parse call builds plus the diagnostics
// collected along the way. The zero Parser is not usable; use New.
type Parser struct {
	Model    *tree.Model
	Root     tree.Ref
	Messages messages.Collector
}

// New returns a Parser ready for a single Parse call.
func New() *Parser {
	return &Parser{}
}

// hooks wires every deeper parser this package knows about into the
// scan.Hooks/ffs.Hooks dispatch tables pkg/scan and pkg/ffs/pkg/descriptor
// use to recognize containers without importing their concrete parsers
// themselves (spec.md §9 "GUID dispatch" / kind dispatch).
func (p *Parser) hooks() scan.Hooks {
	parseVolume := func(m *tree.Model, parent tree.Ref, offset uint64, header, body []byte) (tree.Ref, error) {
		return ffs.ParseVolumeWithHooks(m, parent, offset, header, body, ffs.Hooks{ParseNVRAMStore: nvram.Parse})
	}
	return scan.Hooks{
		ParseVolume: parseVolume,
		ParseBPDT:   me.ParseBPDT,
		ParseME:     me.ParseMeRegionBody,
	}
}

// Parse decodes buffer into p.Model, rooted at p.Root. It never returns an
// error for a recoverable structural issue inside a container (those become
// diagnostics on the nearest node, per spec.md §7); it returns an error only
// for capsule/descriptor header sanity failures at the top level, or a
// buffer too short to examine at all.
func (p *Parser) Parse(buffer []byte) error {
	p.Model, p.Root = tree.New(buffer)

	pos := uint64(0)
	buf := buffer
	if _, body, ok, err := capsule.Parse(p.Model, p.Root, 0, buf); err != nil {
		return wrapError(err)
	} else if ok {
		pos = uint64(len(buf) - len(body))
		buf = body
	}

	hooks := p.hooks()
	var imageRef tree.Ref

	if _, err := descriptor.FindSignature(buf); err == nil {
		ref, err := p.Model.AddItem(p.Root, pos, tree.KindImage, SubtypeIntelImage, "Intel image", "", nil,
			nil, buf, nil, true, tree.Append, tree.NoRef)
		if err != nil {
			return wrapError(err)
		}
		imageRef = ref
		if _, err := descriptor.Parse(p.Model, imageRef, 0, buf, hooks); err != nil {
			return wrapError(err)
		}
	} else {
		ref, err := p.Model.AddItem(p.Root, pos, tree.KindImage, SubtypeUEFIImage, "UEFI image", "", nil,
			nil, buf, nil, true, tree.Append, tree.NoRef)
		if err != nil {
			return wrapError(err)
		}
		imageRef = ref
		if err := scan.Area(p.Model, imageRef, buf, hooks); err != nil {
			return wrapError(err)
		}
	}

	// The second pass's address arithmetic assumes the image it runs over
	// sits at absolute offset 0 of the parsed buffer (Model.Base sums every
	// ancestor's Offset up to the true root); a non-zero capsule offset
	// would shift address_diff by the capsule header's own size, so the
	// pass is skipped rather than silently miscomputed in that case.
	if pos == 0 {
		if vtf, ok := findVTF(p.Model, imageRef); ok {
			for _, line := range fit.Run(p.Model, imageRef, vtf, buf) {
				p.Messages.Add(line)
			}
		}
	}

	return nil
}

// findVTF walks index and its descendants looking for the Volume Top File
// that pkg/ffs's parseFiles tagged with ffs.SubtypeVTF. It returns the first one found;
// spec.md §8 requires exactly one VTF per image, so first-found is
// definitive for a well-formed image, and for a malformed one with more
// than one, running the second pass against the first is preferable to not
// running it at all.
func findVTF(m *tree.Model, index tree.Ref) (tree.Ref, bool) {
	item := m.Get(index)
	if item.Kind == tree.KindFile && item.Subtype == ffs.SubtypeVTF {
		return index, true
	}
	for _, c := range m.Children(index) {
		if ref, ok := findVTF(m, c); ok {
			return ref, true
		}
	}
	return tree.NoRef, false
}
