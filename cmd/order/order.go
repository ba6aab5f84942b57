// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package order implements the armframe order subcommand,
// which prints register allocation orders.
package order

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/internal/driver"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

var program = filepath.Base(os.Args[0])

var hintKinds = map[string]mir.HintKind{
	"none": mir.HintNone,
	"even": mir.HintPairEven,
	"odd":  mir.HintPairOdd,
}

// Main prints the allocation order for a register class,
// optionally for a register hinted to be half of a pair.
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("order", flag.ExitOnError)

	var (
		help  bool
		abi   *sys.ABI
		hint  = mir.HintNone
		class = arm.GPR
	)

	cfg := frame.ConfigFromEnv()
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	flags.Func("hint", "The kind of pair hint (none, even, odd).", func(s string) error {
		kind, ok := hintKinds[s]
		if !ok {
			return fmt.Errorf("unknown hint kind %q", s)
		}

		hint = kind
		return nil
	})
	flags.Func("class", "The register class (GPR, tGPR, SPR, DPR).", func(s string) error {
		c, ok := arm.ClassByName(s)
		if !ok {
			return fmt.Errorf("unknown register class %q", s)
		}

		class = c
		return nil
	})
	driver.ABIFlag(flags, &abi)
	driver.ConfigFlags(flags, &cfg)

	flags.Usage = func() {
		log.Printf("Usage:\n  %s %s [OPTIONS] [REG]\n\n", program, flags.Name())
		flags.PrintDefaults()
		os.Exit(2)
	}

	err := flags.Parse(args)
	if err != nil || help {
		flags.Usage()
	}

	if flags.NArg() > 1 {
		flags.Usage()
	}

	reg := arm.NoReg
	if flags.NArg() == 1 {
		op, err := mir.ParseOperand(flags.Arg(0))
		if err != nil || op.Kind != mir.OperandReg || op.Reg == arm.NoReg {
			return fmt.Errorf("invalid register %q", flags.Arg(0))
		}

		reg = op.Reg
	}

	target, err := frame.NewTarget(sys.ARM, abi, cfg)
	if err != nil {
		return err
	}

	return WriteOrder(w, target, class, hint, reg)
}

// WriteOrder writes the allocation order for class in an
// empty function to w. If reg is a physical register, the
// register that resolves its hint is written too.
func WriteOrder(w io.Writer, target *frame.Target, class arm.Class, hint mir.HintKind, reg arm.Reg) error {
	fn := mir.NewFunction("order")
	order := target.AllocationOrder(fn, class, hint, reg)
	names := make([]string, len(order))
	for i, r := range order {
		names[i] = r.String()
	}

	fmt.Fprintf(w, "%s (%s, %s): %s\n", class, target.ABI.Name, hint, strings.Join(names, " "))
	if reg == arm.NoReg || !reg.IsPhysical() {
		return nil
	}

	resolved := target.ResolveHint(fn, hint, reg)
	if resolved == arm.NoReg {
		fmt.Fprintf(w, "%s: hint cannot be satisfied\n", reg)
	} else {
		fmt.Fprintf(w, "%s: hint resolves to %s\n", reg, resolved)
	}

	return nil
}
