// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package driver loads function descriptions and lowers
// them, for the armframe subcommands.
package driver

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"firefly-os.dev/tools/armframe/desc"
	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

// Options control how a description file is lowered.
type Options struct {
	// ABI overrides the ABI named in each description.
	// If nil, the description's ABI is used, or the
	// architecture's default.
	ABI *sys.ABI

	Config  frame.Config
	Workers int
}

// Lowered is a function that has been lowered.
type Lowered struct {
	Target   *frame.Target
	Function *mir.Function
}

// ABIFlag registers a flag for choosing an ABI by name.
func ABIFlag(flags *flag.FlagSet, abi **sys.ABI) {
	usage := fmt.Sprintf("The ABI to lower for (%s).", strings.Join(sys.ABINames(), ", "))
	flags.Func("abi", usage, func(s string) error {
		a, ok := sys.ABIByName[s]
		if !ok {
			return fmt.Errorf("unknown ABI %q", s)
		}

		*abi = a
		return nil
	})
}

// ConfigFlags registers flags that override fields of
// cfg, which should already hold its defaults.
func ConfigFlags(flags *flag.FlagSet, cfg *frame.Config) {
	flags.BoolVar(&cfg.DisableFramePointerElim, "fp", cfg.DisableFramePointerElim, "Always establish a frame pointer.")
	flags.BoolFunc("no-scavenge", "Use r12 for large offsets instead of scavenging a register.", func(s string) error {
		if s != "true" && s != "1" {
			return fmt.Errorf("invalid value %q", s)
		}

		cfg.Scavenging = false
		return nil
	})
}

// LowerFile decodes the description file at path and
// lowers each of its functions. Functions for the same
// ABI are lowered in parallel.
func LowerFile(ctx context.Context, path string, opts Options) ([]*Lowered, error) {
	units, err := desc.ReadFile(path)
	if err != nil {
		return nil, err
	}

	targets := make(map[*sys.ABI]*frame.Target)
	groups := make(map[*frame.Target][]*mir.Function)
	var order []*frame.Target
	lowered := make([]*Lowered, len(units))
	for i, unit := range units {
		abi := unit.ABI
		if opts.ABI != nil {
			abi = opts.ABI
		}

		if abi == nil {
			abi = &sys.ARM.DefaultABI
		}

		target, ok := targets[abi]
		if !ok {
			target, err = frame.NewTarget(sys.ARM, abi, opts.Config)
			if err != nil {
				return nil, err
			}

			targets[abi] = target
			order = append(order, target)
		}

		groups[target] = append(groups[target], unit.Function)
		lowered[i] = &Lowered{Target: target, Function: unit.Function}
	}

	for _, target := range order {
		if err := target.LowerAll(ctx, groups[target], opts.Workers); err != nil {
			return nil, err
		}
	}

	return lowered, nil
}
