// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package layout implements the armframe layout subcommand,
// which prints the stack frame of each described function.
package layout

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/docker/go-units"

	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/internal/driver"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

var program = filepath.Base(os.Args[0])

// Main prints the frame layout of the functions in a
// description file.
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("layout", flag.ExitOnError)

	var (
		help bool
		abi  *sys.ABI
	)

	cfg := frame.ConfigFromEnv()
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	driver.ABIFlag(flags, &abi)
	driver.ConfigFlags(flags, &cfg)

	flags.Usage = func() {
		log.Printf("Usage:\n  %s %s [OPTIONS] FILE\n\n", program, flags.Name())
		flags.PrintDefaults()
		os.Exit(2)
	}

	err := flags.Parse(args)
	if err != nil || help {
		flags.Usage()
	}

	filenames := flags.Args()
	if len(filenames) != 1 {
		flags.Usage()
	}

	lowered, err := driver.LowerFile(ctx, filenames[0], driver.Options{ABI: abi, Config: cfg, Workers: 1})
	if err != nil {
		return err
	}

	for i, l := range lowered {
		if i > 0 {
			fmt.Fprintln(w)
		}

		if err := WriteLayout(w, l.Target, l.Function); err != nil {
			return err
		}
	}

	return nil
}

// WriteLayout writes a map of fn's stack frame to w,
// from the highest address to the lowest. Offsets are
// relative to the stack pointer in the body of the
// function.
func WriteLayout(w io.Writer, target *frame.Target, fn *mir.Function) error {
	stack := fn.Frame.StackSize
	fmt.Fprintf(w, "%s (%s): %s frame, base %s\n", fn.Name, target.ABI.Name,
		units.BytesSize(float64(stack)), target.FrameRegister(fn))

	saves := make(map[int]mir.CalleeSavedInfo)
	for _, cs := range fn.Frame.CalleeSaved {
		saves[cs.FrameIndex] = cs
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "\toffset\tsize\tobject")

	objects := fn.Frame.ByOffset()
	end := stack
	for i := len(objects) - 1; i >= 0; i-- {
		obj := objects[i]
		offset := obj.Offset + stack
		if gap := end - (offset + obj.Size); gap > 0 && !obj.Fixed {
			fmt.Fprintf(tw, "\tsp+%d\t%s\tpadding\n", offset+obj.Size, units.BytesSize(float64(gap)))
		}

		what := fmt.Sprintf("fi:%d", obj.Index)
		switch {
		case obj.Fixed:
			what += " fixed"
		case obj.Index == fn.Frame.ScavengingIndex:
			what += " scavenging"
		case obj.SpillSlot:
			what += " spill"
		default:
			what += " local"
		}

		if cs, ok := saves[obj.Index]; ok {
			what += fmt.Sprintf(" saves %s (%s)", cs.Reg, cs.Area)
		}

		fmt.Fprintf(tw, "\tsp+%d\t%s\t%s\n", offset, units.BytesSize(float64(obj.Size)), what)
		if !obj.Fixed {
			end = offset
		}
	}

	if end > 0 {
		fmt.Fprintf(tw, "\tsp+0\t%s\tcall frame and padding\n", units.BytesSize(float64(end)))
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	for _, area := range []sys.Area{sys.AreaGPR1, sys.AreaGPR2, sys.AreaDPR} {
		if size := fn.Layout.AreaSize(area); size > 0 {
			fmt.Fprintf(w, "  %s: %s at sp+%d\n", area, units.BytesSize(float64(size)), fn.Layout.AreaOffset(area))
		}
	}

	return nil
}
