// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package messages implements the parser's diagnostic collector: an ordered,
// append-only list of (message, node) pairs. Diagnostics are never errors —
// spec.md §7 treats checksum mismatches, unknown types, alignment
// violations, and the like as non-fatal observations attached to the
// offending node, so parsing can continue.
package messages

import "github.com/fwtree/parser/pkg/tree"

// Message is one diagnostic line, optionally bound to the tree node it
// concerns.
type Message struct {
	Text string
	Node tree.Ref
	// HasNode distinguishes "bound to the root" (Node == 0, HasNode true)
	// from "not bound to any node" (HasNode false); tree.NoRef alone can't
	// carry that distinction since tree.Ref 0 is a legitimate node.
	HasNode bool
}

// Collector accumulates messages in parse order. The zero Collector is
// ready to use.
type Collector struct {
	messages []Message
}

// Add appends an unbound diagnostic.
func (c *Collector) Add(text string) {
	c.messages = append(c.messages, Message{Text: text})
}

// AddNode appends a diagnostic bound to node.
func (c *Collector) AddNode(text string, node tree.Ref) {
	c.messages = append(c.messages, Message{Text: text, Node: node, HasNode: true})
}

// All returns the full ordered message list. The returned slice must not be
// mutated by callers.
func (c *Collector) All() []Message {
	return c.messages
}

// Len returns the number of collected messages.
func (c *Collector) Len() int {
	return len(c.messages)
}
