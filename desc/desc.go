// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package desc decodes textual descriptions of functions
// that have been through register allocation, ready for
// frame lowering.
//
// A description file contains one or more functions, in
// TOML or YAML. For example:
//
//	[[function]]
//	name = "copy"
//	abi = "aapcs"
//	used = ["r4"]
//
//	[[function.object]]
//	size = 8
//	align = 8
//
//	[[function.block]]
//	insts = [
//		"STR r4, fi:0, noreg, #0, cc:al, noreg",
//		"BX_RET cc:al, noreg",
//	]
//
// Instructions are written in the same form as a
// lowered listing.
package desc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

// File is the top-level structure of a description file.
type File struct {
	Functions []Function `toml:"function" yaml:"function"`
}

// Function describes a single function.
type Function struct {
	Name string `toml:"name" yaml:"name"`
	ABI  string `toml:"abi" yaml:"abi"` // Optional.

	FrameAddressTaken bool `toml:"frame_address_taken" yaml:"frame_address_taken"`
	VarSized          bool `toml:"var_sized" yaml:"var_sized"`
	HasCalls          bool `toml:"has_calls" yaml:"has_calls"`
	MaxCallFrameSize  int  `toml:"max_call_frame_size" yaml:"max_call_frame_size"`
	VarArgsSaveSize   int  `toml:"varargs_save_size" yaml:"varargs_save_size"`

	// Registers used, beyond those referenced
	// by the instructions.
	Used []string `toml:"used" yaml:"used"`

	Objects []Object `toml:"object" yaml:"object"`
	Blocks  []Block  `toml:"block" yaml:"block"`
}

// Object describes a frame object. Fixed objects have a
// negative frame index, counting down from -1 in the
// order they are described, and their offset is given.
// Other objects have a frame index counting up from 0.
type Object struct {
	Size   int  `toml:"size" yaml:"size"`
	Align  int  `toml:"align" yaml:"align"`
	Fixed  bool `toml:"fixed" yaml:"fixed"`
	Offset int  `toml:"offset" yaml:"offset"`
}

// Block describes a basic block. Successors are given
// as indices into the function's blocks.
type Block struct {
	Successors []int    `toml:"successors" yaml:"successors"`
	Insts      []string `toml:"insts" yaml:"insts"`
}

// Unit is a decoded function, with the ABI it should be
// lowered for. ABI is nil if the description did not
// name one.
type Unit struct {
	ABI      *sys.ABI
	Function *mir.Function
}

// ReadFile reads and decodes the description file at
// path. The format is chosen by the file extension.
func ReadFile(path string) ([]*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Decode(path, data)
}

// Decode decodes a description file. The name is used to
// choose the format and in error messages.
func Decode(name string, data []byte) ([]*Unit, error) {
	var file File
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", name, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%s: unknown field %q", name, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %v", name, err)
		}
	default:
		return nil, fmt.Errorf("%s: unrecognised description format %q", name, ext)
	}

	if len(file.Functions) == 0 {
		return nil, fmt.Errorf("%s: no functions", name)
	}

	units := make([]*Unit, len(file.Functions))
	seen := make(map[string]bool)
	for i := range file.Functions {
		unit, err := file.Functions[i].Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %v", name, err)
		}

		if seen[unit.Function.Name] {
			return nil, fmt.Errorf("%s: function %q described twice", name, unit.Function.Name)
		}

		seen[unit.Function.Name] = true
		units[i] = unit
	}

	return units, nil
}

// Build creates the described function.
func (d *Function) Build() (*Unit, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("function has no name")
	}

	unit := &Unit{Function: mir.NewFunction(d.Name)}
	if d.ABI != "" {
		abi, ok := sys.ABIByName[d.ABI]
		if !ok {
			return nil, fmt.Errorf("%s: unknown ABI %q (want one of %s)", d.Name, d.ABI, strings.Join(sys.ABINames(), ", "))
		}

		unit.ABI = abi
	}

	if d.MaxCallFrameSize < 0 || d.VarArgsSaveSize < 0 || d.VarArgsSaveSize%4 != 0 {
		return nil, fmt.Errorf("%s: invalid call frame size %d or variadic save size %d", d.Name, d.MaxCallFrameSize, d.VarArgsSaveSize)
	}

	fn := unit.Function
	fn.Frame.FrameAddressTaken = d.FrameAddressTaken
	fn.Frame.HasVarSizedObjects = d.VarSized
	fn.Frame.HasCalls = d.HasCalls
	fn.Frame.MaxCallFrameSize = d.MaxCallFrameSize
	fn.Frame.VarArgsSaveSize = d.VarArgsSaveSize

	for _, name := range d.Used {
		reg, ok := arm.RegisterByName(name)
		if !ok || !reg.IsPhysical() {
			return nil, fmt.Errorf("%s: invalid used register %q", d.Name, name)
		}

		fn.Regs.SetPhysRegUsed(reg)
	}

	for i, obj := range d.Objects {
		switch {
		case obj.Size < 0:
			return nil, fmt.Errorf("%s: object %d has negative size %d", d.Name, i, obj.Size)
		case obj.Fixed:
			fn.Frame.CreateFixedObject(obj.Size, obj.Offset)
		default:
			align := obj.Align
			if align == 0 {
				align = 4
			}

			if align < 0 || align&(align-1) != 0 {
				return nil, fmt.Errorf("%s: object %d has invalid alignment %d", d.Name, i, obj.Align)
			}

			fn.Frame.CreateStackObject(obj.Size, align)
		}
	}

	if len(d.Blocks) == 0 {
		return nil, fmt.Errorf("%s: function has no blocks", d.Name)
	}

	blocks := make([]*mir.Block, len(d.Blocks))
	for i := range d.Blocks {
		blocks[i] = fn.NewBlock()
	}

	for i, block := range d.Blocks {
		b := blocks[i]
		for j, text := range block.Insts {
			inst, err := mir.ParseInst(text)
			if err != nil {
				return nil, fmt.Errorf("%s: block %d, instruction %d: %v", d.Name, i, j, err)
			}

			b.Append(inst)
		}

		for _, succ := range block.Successors {
			if succ < 0 || succ >= len(blocks) {
				return nil, fmt.Errorf("%s: block %d has invalid successor %d", d.Name, i, succ)
			}

			b.Successors = append(b.Successors, blocks[succ])
		}
	}

	return unit, nil
}
