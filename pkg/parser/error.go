// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import "strings"

// Error is the flat taxonomy every parser operation funnels through
// (spec.md §7): invalid-parameter, invalid-capsule, invalid-flash-descriptor,
// invalid-region, invalid-volume, invalid-file, invalid-section,
// invalid-me-partition-table, invalid-microcode, truncated-image,
// items-not-found, stores-not-found, unknown-item-type. Code is the
// hyphenated category token; Context is the rest of the underlying
// message.
type Error struct {
	Code    string
	Context string
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Code
	}
	return e.Code + ": " + e.Context
}

var knownCodes = map[string]bool{
	"invalid-parameter":          true,
	"invalid-capsule":            true,
	"invalid-flash-descriptor":   true,
	"invalid-region":             true,
	"invalid-volume":             true,
	"invalid-file":               true,
	"invalid-section":            true,
	"invalid-me-partition-table": true,
	"invalid-microcode":          true,
	"truncated-image":            true,
	"items-not-found":            true,
	"stores-not-found":           true,
	"unknown-item-type":          true,
}

// wrapError classifies err into the flat taxonomy by splitting its message
// on the first ": ", the shape every lower package's own error strings
// already carry (pkg/capsule, pkg/descriptor, pkg/ffs, pkg/me,
// pkg/microcode, pkg/tree's invalid-parameter). A message that isn't
// already in that shape, or whose leading token isn't one of the known
// categories, falls back to unknown-item-type rather than inventing a new
// code for it.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	idx := strings.Index(msg, ": ")
	if idx <= 0 {
		return &Error{Code: "unknown-item-type", Context: msg}
	}
	code := strings.ReplaceAll(msg[:idx], " ", "-")
	if !knownCodes[code] {
		return &Error{Code: "unknown-item-type", Context: msg}
	}
	return &Error{Code: code, Context: msg[idx+2:]}
}
