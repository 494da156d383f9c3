// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fwtree parses a firmware image into a typed tree and prints it.
//
// Synopsis:
//     fwtree -f IMAGE_FILE [--messages]
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/fwtree/parser/pkg/parser"
	"github.com/fwtree/parser/pkg/report"
)

type options struct {
	ImagePath string `short:"f" long:"file" description:"path to the firmware image" required:"true"`
	Messages  bool   `long:"messages" description:"print collected diagnostics after the tree"`
}

func main() {
	var opts options
	parserFlags := flags.NewParser(&opts, flags.Default)
	if _, err := parserFlags.Parse(); err != nil {
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "fwtree:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	buf, err := os.ReadFile(opts.ImagePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", opts.ImagePath, err)
	}

	p := parser.New()
	if err := p.Parse(buf); err != nil {
		return err
	}

	report.WriteTree(os.Stdout, p.Model, p.Root)
	if opts.Messages && p.Messages.Len() > 0 {
		fmt.Println()
		report.WriteMessages(os.Stdout, p.Model, p.Messages)
	}
	return nil
}
