// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"fmt"
	"strings"

	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// DEPEX opcodes (PI spec §2.3, "Dependency Expressions"). SOR is the PI 1.0
// "schedule on request" extension, legal only as the first opcode of a
// driver (not PEIM) dependency expression.
const (
	depexOpBefore byte = 0x00
	depexOpAfter  byte = 0x01
	depexOpPush   byte = 0x02
	depexOpAnd    byte = 0x03
	depexOpOr     byte = 0x04
	depexOpNot    byte = 0x05
	depexOpTrue   byte = 0x06
	depexOpFalse  byte = 0x07
	depexOpEnd    byte = 0x08
	depexOpSOR    byte = 0x09
)

// parseDepexSection renders a DXE_DEPEX/PEI_DEPEX/MM_DEPEX section's opcode
// stream as a human-readable expression. BEFORE, AFTER and SOR are special
// in that they may only appear as the very first opcode and, for
// BEFORE/AFTER, must be followed by exactly one GUID and an END (original
// grounds this restructuring in ffsparser.cpp's parseDepexSectionBody, which
// special-cases the first opcode before falling into the general
// PUSH/AND/OR/NOT/TRUE/FALSE/END loop).
func parseDepexSection(m *tree.Model, ref tree.Ref) error {
	item := m.Get(ref)
	text, err := decodeDepex(item.Body)
	if err != nil {
		m.AddInfo(ref, fmt.Sprintf("DEPEX decode: %v", err))
		return nil
	}
	m.SetText(ref, text)
	m.AddInfo(ref, fmt.Sprintf("Expression: %s", text))
	return nil
}

func decodeDepex(buf []byte) (string, error) {
	if len(buf) == 0 {
		return "", fmt.Errorf("empty DEPEX body")
	}
	var parts []string
	pos := 0

	switch buf[0] {
	case depexOpSOR:
		parts = append(parts, "SOR")
		pos = 1
	case depexOpBefore, depexOpAfter:
		if len(buf) < 1+16+1 || buf[len(buf)-1] != depexOpEnd {
			return "", fmt.Errorf("BEFORE/AFTER must be followed by one GUID and END")
		}
		var g guid.GUID
		copy(g[:], buf[1:17])
		op := "BEFORE"
		if buf[0] == depexOpAfter {
			op = "AFTER"
		}
		return fmt.Sprintf("%s %s", op, g), nil
	}

	for pos < len(buf) {
		op := buf[pos]
		pos++
		switch op {
		case depexOpPush:
			if pos+16 > len(buf) {
				return "", fmt.Errorf("PUSH past end of body")
			}
			var g guid.GUID
			copy(g[:], buf[pos:pos+16])
			pos += 16
			parts = append(parts, g.String())
		case depexOpAnd:
			parts = append(parts, "AND")
		case depexOpOr:
			parts = append(parts, "OR")
		case depexOpNot:
			parts = append(parts, "NOT")
		case depexOpTrue:
			parts = append(parts, "TRUE")
		case depexOpFalse:
			parts = append(parts, "FALSE")
		case depexOpEnd:
			return strings.Join(parts, " "), nil
		default:
			return "", fmt.Errorf("unknown DEPEX opcode 0x%02X", op)
		}
	}
	return strings.Join(parts, " "), fmt.Errorf("DEPEX body not terminated with END")
}
