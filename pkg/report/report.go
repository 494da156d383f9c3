// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package report renders a parsed tree.Model as a compact table: one row
// per node, indented by depth, the way the teacher's own table visitor
// walked a Firmware tree. It is a consumer of pkg/parser's output, not part
// of the core parse path.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fwtree/parser/pkg/messages"
	"github.com/fwtree/parser/pkg/tree"
)

// WriteTree renders model's tree, rooted at root, to w as a table with one
// row per node: kind, name/GUID, subtype, offset, and size. Children are
// indented under their parent the way the teacher's recursive printRow did,
// only here every row is collected up front and handed to go-pretty in one
// shot instead of streaming through a tabwriter.
func WriteTree(w io.Writer, model *tree.Model, root tree.Ref) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Node", "Name", "Subtype", "Offset", "Size", "Marking"})
	appendRows(t, model, root, 0)
	t.Render()
}

func appendRows(t table.Writer, model *tree.Model, ref tree.Ref, depth int) {
	item := model.Get(ref)
	node := strings.Repeat("  ", depth) + item.Kind.String()
	name := item.Name
	if item.Text != "" {
		name = fmt.Sprintf("%s (%s)", item.Name, item.Text)
	}
	t.AppendRow(table.Row{
		node,
		name,
		int(item.Subtype),
		fmt.Sprintf("0x%X", model.Base(ref)),
		model.FullSize(ref),
		markingString(item.Marking),
	})
	for _, child := range model.Children(ref) {
		appendRows(t, model, child, depth+1)
	}
}

func markingString(m tree.Marking) string {
	switch m {
	case tree.MarkingRed:
		return "red"
	case tree.MarkingCyan:
		return "cyan"
	case tree.MarkingYellow:
		return "yellow"
	default:
		return ""
	}
}

// WriteMessages renders a messages.Collector as a two-column table: the
// node a diagnostic was attached to (if any) and its text, in collection
// order. Diagnostics are never errors (pkg/messages); this is purely a
// presentation concern for cmd/fwtree.
func WriteMessages(w io.Writer, model *tree.Model, col messages.Collector) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Node", "Message"})
	for _, msg := range col.All() {
		node := ""
		if msg.HasNode {
			node = model.Get(msg.Node).Kind.String()
		}
		t.AppendRow(table.Row{node, msg.Text})
	}
	t.Render()
}
