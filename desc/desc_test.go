// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package desc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rsc.io/diff"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/sys"
)

const tomlDescription = `
[[function]]
name = "copy"
abi = "darwin"
frame_address_taken = true
max_call_frame_size = 16
used = ["r4", "d8"]

[[function.object]]
size = 8
align = 8

[[function.object]]
size = 4
fixed = true
offset = 4

[[function.block]]
successors = [1]
insts = [
	"STR r4, fi:0, noreg, #0, cc:al, noreg",
	"LDR r0, fi:-1, noreg, #0, cc:al, noreg",
]

[[function.block]]
insts = ["BX_RET cc:al, noreg"]

[[function]]
name = "leaf"

[[function.block]]
insts = ["BX_RET cc:al, noreg"]
`

const yamlDescription = `
function:
  - name: copy
    abi: darwin
    frame_address_taken: true
    max_call_frame_size: 16
    used: [r4, d8]
    object:
      - {size: 8, align: 8}
      - {size: 4, fixed: true, offset: 4}
    block:
      - successors: [1]
        insts:
          - "STR r4, fi:0, noreg, #0, cc:al, noreg"
          - "LDR r0, fi:-1, noreg, #0, cc:al, noreg"
      - insts: ["BX_RET cc:al, noreg"]
  - name: leaf
    block:
      - insts: ["BX_RET cc:al, noreg"]
`

const wantCopy = `copy:
b1:
	STR r4, fi:0, noreg, #0, cc:al, noreg
	LDR r0, fi:-1, noreg, #0, cc:al, noreg
b2:
	BX_RET cc:al, noreg
`

func TestDecode(t *testing.T) {
	for _, test := range []struct {
		Name string
		Data string
	}{
		{"copy.toml", tomlDescription},
		{"copy.yaml", yamlDescription},
	} {
		units, err := Decode(test.Name, []byte(test.Data))
		if err != nil {
			t.Errorf("Decode(%s): %v", test.Name, err)
			continue
		}

		if len(units) != 2 {
			t.Errorf("Decode(%s): got %d functions, want 2", test.Name, len(units))
			continue
		}

		first, leaf := units[0], units[1]
		if first.ABI != sys.Darwin || leaf.ABI != nil {
			t.Errorf("Decode(%s): got ABIs %v and %v", test.Name, first.ABI, leaf.ABI)
		}

		fn := first.Function
		if got := fn.Print(); got != wantCopy {
			t.Errorf("Decode(%s): function mismatch:\n%s", test.Name, diff.Format(got, wantCopy))
		}

		if !fn.Frame.FrameAddressTaken || fn.Frame.MaxCallFrameSize != 16 || fn.Frame.HasVarSizedObjects {
			t.Errorf("Decode(%s): wrong frame properties", test.Name)
		}

		if !fn.Regs.IsPhysRegUsed(arm.R4) || !fn.Regs.IsPhysRegUsed(arm.D8) || fn.Regs.IsPhysRegUsed(arm.R5) {
			t.Errorf("Decode(%s): got used registers %v", test.Name, fn.Regs.UsedRegs())
		}

		obj, ok := fn.Frame.Object(0)
		if !ok || obj.Size != 8 || obj.Align != 8 {
			t.Errorf("Decode(%s): got object 0 %v", test.Name, obj)
		}

		fixed, ok := fn.Frame.Object(-1)
		if !ok || !fixed.Fixed || fixed.Offset != 4 {
			t.Errorf("Decode(%s): got object -1 %v", test.Name, fixed)
		}

		if succ := fn.Blocks[0].Successors; len(succ) != 1 || succ[0] != fn.Blocks[1] {
			t.Errorf("Decode(%s): got successors %v", test.Name, succ)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		Name string
		Data string
		Want string
	}{
		{
			Name: "bad.json",
			Data: `{}`,
			Want: `unrecognised description format ".json"`,
		},
		{
			Name: "empty.toml",
			Data: ``,
			Want: "no functions",
		},
		{
			Name: "empty.yaml",
			Data: ``,
			Want: "no functions",
		},
		{
			Name: "unknown.toml",
			Data: "[[function]]\nname = \"f\"\ncolour = \"red\"\n",
			Want: `unknown field "function.colour"`,
		},
		{
			Name: "unknown.yaml",
			Data: "function:\n  - name: f\n    colour: red\n",
			Want: "field colour not found",
		},
		{
			Name: "unnamed.toml",
			Data: "[[function]]\nabi = \"aapcs\"\n",
			Want: "function has no name",
		},
		{
			Name: "abi.toml",
			Data: "[[function]]\nname = \"f\"\nabi = \"eabi\"\n",
			Want: `f: unknown ABI "eabi"`,
		},
		{
			Name: "blocks.toml",
			Data: "[[function]]\nname = \"f\"\n",
			Want: "f: function has no blocks",
		},
		{
			Name: "register.toml",
			Data: "[[function]]\nname = \"f\"\nused = [\"r16\"]\n",
			Want: `f: invalid used register "r16"`,
		},
		{
			Name: "align.toml",
			Data: "[[function]]\nname = \"f\"\n[[function.object]]\nsize = 4\nalign = 3\n",
			Want: "f: object 0 has invalid alignment 3",
		},
		{
			Name: "inst.toml",
			Data: "[[function]]\nname = \"f\"\n[[function.block]]\ninsts = [\"NOP\"]\n",
			Want: "f: block 0, instruction 0: invalid opcode",
		},
		{
			Name: "successor.toml",
			Data: "[[function]]\nname = \"f\"\n[[function.block]]\nsuccessors = [2]\n",
			Want: "f: block 0 has invalid successor 2",
		},
		{
			Name: "twice.yaml",
			Data: "function:\n  - {name: f, block: [{insts: []}]}\n  - {name: f, block: [{insts: []}]}\n",
			Want: `function "f" described twice`,
		},
	}

	for _, test := range tests {
		_, err := Decode(test.Name, []byte(test.Data))
		if err == nil {
			t.Errorf("Decode(%s): unexpected success", test.Name)
			continue
		}

		if !strings.Contains(err.Error(), test.Want) {
			t.Errorf("Decode(%s): got error %q, want %q", test.Name, err, test.Want)
		}
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funcs.toml")
	if err := os.WriteFile(path, []byte(tomlDescription), 0o644); err != nil {
		t.Fatal(err)
	}

	units, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}

	if len(units) != 2 || units[1].Function.Name != "leaf" {
		t.Errorf("ReadFile(): got %d functions", len(units))
	}

	if _, err := ReadFile(path + ".missing"); err == nil {
		t.Errorf("ReadFile(missing): unexpected success")
	}
}
