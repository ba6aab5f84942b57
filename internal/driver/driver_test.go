// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package driver

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/sys"
)

const description = `
[[function]]
name = "first"

[[function.block]]
insts = ["BX_RET cc:al, noreg"]

[[function]]
name = "second"
abi = "darwin"

[[function.block]]
insts = ["BX_RET cc:al, noreg"]

[[function]]
name = "third"

[[function.block]]
insts = ["BX_RET cc:al, noreg"]
`

func TestLowerFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "funcs.toml")
	if err := os.WriteFile(name, []byte(description), 0o644); err != nil {
		t.Fatal(err)
	}

	type result struct {
		Name string
		ABI  string
	}

	tests := []struct {
		Name string
		ABI  *sys.ABI
		Want []result
	}{
		{
			Name: "described",
			Want: []result{
				{Name: "first", ABI: "aapcs"},
				{Name: "second", ABI: "darwin"},
				{Name: "third", ABI: "aapcs"},
			},
		},
		{
			Name: "override",
			ABI:  sys.AAPCSThumb2,
			Want: []result{
				{Name: "first", ABI: "aapcs-thumb2"},
				{Name: "second", ABI: "aapcs-thumb2"},
				{Name: "third", ABI: "aapcs-thumb2"},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			opts := Options{ABI: test.ABI, Config: frame.DefaultConfig(), Workers: 2}
			lowered, err := LowerFile(context.Background(), name, opts)
			if err != nil {
				t.Fatalf("LowerFile(): %v", err)
			}

			got := make([]result, len(lowered))
			for i, l := range lowered {
				got[i] = result{Name: l.Function.Name, ABI: l.Target.ABI.Name}
				if l.Function.Frame.StackSize != 0 {
					t.Errorf("%s: got stack size %d, want 0", l.Function.Name, l.Function.Frame.StackSize)
				}
			}

			if diff := cmp.Diff(test.Want, got); diff != "" {
				t.Errorf("LowerFile(): (-want, +got)\n%s", diff)
			}

			// Functions with the same ABI share a target.
			if lowered[0].Target != lowered[2].Target {
				t.Errorf("LowerFile(): first and third have different targets")
			}
		})
	}

	_, err := LowerFile(context.Background(), filepath.Join(t.TempDir(), "missing.toml"), Options{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LowerFile(missing): got %v, want not-exist error", err)
	}

	_, err = LowerFile(context.Background(), name, Options{ABI: sys.AAPCSThumb1})
	if !errors.Is(err, frame.ErrUnsupportedMode) {
		t.Errorf("LowerFile(thumb1): got %v, want %v", err, frame.ErrUnsupportedMode)
	}
}

func TestFlags(t *testing.T) {
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var abi *sys.ABI
	cfg := frame.DefaultConfig()
	ABIFlag(flags, &abi)
	ConfigFlags(flags, &cfg)

	if err := flags.Parse([]string{"-abi", "darwin-thumb2", "-fp", "-no-scavenge"}); err != nil {
		t.Fatalf("Parse(): %v", err)
	}

	if abi != sys.DarwinThumb2 {
		t.Errorf("-abi: got %v, want %s", abi, sys.DarwinThumb2.Name)
	}

	want := frame.Config{DisableFramePointerElim: true, Scavenging: false}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config flags: (-want, +got)\n%s", diff)
	}

	flags = flag.NewFlagSet("test", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	ABIFlag(flags, &abi)
	if err := flags.Parse([]string{"-abi", "mips"}); err == nil {
		t.Errorf("-abi mips: got no error")
	}
}
