// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package frame implements frame lowering for 32-bit ARM
// functions.
//
// # Frame lowering
//
// Frame lowering runs once register allocation has
// finished. At that point, every instruction that
// accesses the stack refers to its stack slot through
// a symbolic frame index, and the set of callee-saved
// registers used by the function is known.
//
// We start by deciding whether the function needs a
// frame pointer and which callee-saved registers must
// be spilled, including any extra registers spilled to
// keep the stack aligned or to give us scratch registers
// later on. We then assign offsets to every frame object
// and group the callee-saved spill slots into areas.
//
// Next, we insert the prologue and epilogue, which save
// and restore the callee-saved registers and move the
// stack pointer. Finally, we walk every instruction,
// replacing each frame index with a base register and
// an offset, plus any arithmetic needed to materialize
// offsets that the instruction cannot encode, and
// replacing call frame markers with stack pointer
// updates.
//
// A Target holds no per-function state, so one Target
// can lower many functions concurrently.
package frame

import (
	"errors"
	"fmt"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

// Errors returned when a function cannot be lowered.
// These indicate an inconsistency in the function
// passed in.
var (
	ErrNoFrameIndex    = errors.New("no frame index operand")
	ErrUnsupportedMode = errors.New("unsupported addressing mode")
	ErrUnencodable     = errors.New("offset cannot be encoded")
	ErrNoScratch       = errors.New("no scratch register available")
)

// opcodes maps the generic operations frame lowering
// emits to the opcodes of one instruction set.
type opcodes struct {
	ADDri arm.Opcode
	SUBri arm.Opcode
	MOVr  arm.Opcode
	LDR   arm.Opcode
	STR   arm.Opcode
	FLDD  arm.Opcode
	FSTD  arm.Opcode
	RET   arm.Opcode
}

var (
	armOpcodes = opcodes{
		ADDri: arm.ADDri,
		SUBri: arm.SUBri,
		MOVr:  arm.MOVr,
		LDR:   arm.LDR,
		STR:   arm.STR,
		FLDD:  arm.FLDD,
		FSTD:  arm.FSTD,
		RET:   arm.BX_RET,
	}

	thumb2Opcodes = opcodes{
		ADDri: arm.T2ADDri,
		SUBri: arm.T2SUBri,
		MOVr:  arm.T2MOVr,
		LDR:   arm.T2LDRi12,
		STR:   arm.T2STRi12,
		FLDD:  arm.FLDD,
		FSTD:  arm.FSTD,
		RET:   arm.BX_RET,
	}

	thumb1Opcodes = opcodes{
		MOVr: arm.TMOVr,
		LDR:  arm.TLDRspi,
		STR:  arm.TSTRspi,
		FLDD: arm.FLDD,
		FSTD: arm.FSTD,
		RET:  arm.TBX_RET,
	}
)

// Target lowers stack frames for one architecture and
// ABI. A Target is immutable once created.
type Target struct {
	Arch   *sys.Arch
	ABI    *sys.ABI
	Config Config

	framePtr arm.Reg
	ops      opcodes
}

// NewTarget returns a target for the given ABI, which
// is validated first. If abi is nil, the architecture's
// default ABI is used.
func NewTarget(arch *sys.Arch, abi *sys.ABI, cfg Config) (*Target, error) {
	if abi == nil {
		abi = &arch.DefaultABI
	}

	if err := arch.Validate(abi); err != nil {
		return nil, err
	}

	t := &Target{
		Arch:     arch,
		ABI:      abi,
		Config:   cfg,
		framePtr: abi.FramePointer(),
		ops:      armOpcodes,
	}

	switch {
	case abi.Thumb1Only:
		t.ops = thumb1Opcodes
	case abi.Thumb:
		t.ops = thumb2Opcodes
	}

	return t, nil
}

// FramePointer returns the register used as the frame
// pointer when one is needed.
func (t *Target) FramePointer() arm.Reg { return t.framePtr }

// hasFP returns whether the function's frame pointer
// decision has been made, and if so, the decision. Once
// the layout records the decision, it is never
// re-evaluated.
func (t *Target) hasFP(fn *mir.Function) bool {
	if fn.Layout.FramePointer != arm.NoReg {
		return fn.Layout.HasFramePointer
	}

	return t.NeedsFramePointer(fn)
}

// FrameRegister returns the register used as the base
// for frame objects outside the callee-saved areas. On
// Darwin the frame pointer is set up whenever there is a
// stack frame, but objects are still addressed from the
// stack pointer unless fn has a frame pointer.
func (t *Target) FrameRegister(fn *mir.Function) arm.Reg {
	if t.hasFP(fn) {
		return t.framePtr
	}

	return t.Arch.StackPointer
}

// IsReserved returns whether reg is unavailable to the
// register allocator in fn.
func (t *Target) IsReserved(fn *mir.Function, reg arm.Reg) bool {
	switch reg {
	case arm.SP, arm.PC:
		return true
	case arm.R7, arm.R11:
		if reg == t.framePtr && (t.ABI.Darwin || t.hasFP(fn)) {
			return true
		}
	case arm.R9:
		return t.ABI.R9Reserved
	}

	return false
}

// ReservedRegs returns the registers that are reserved
// in fn, in register order.
func (t *Target) ReservedRegs(fn *mir.Function) []arm.Reg {
	var out []arm.Reg
	for reg := arm.R0; reg < arm.NumRegs; reg++ {
		if t.IsReserved(fn, reg) {
			out = append(out, reg)
		}
	}

	return out
}

// instError describes a failure to lower an instruction.
func instError(fn *mir.Function, b *mir.Block, inst *mir.Inst, err error, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %s: %w: %s", fn.Name, b, inst, err, fmt.Sprintf(format, args...))
}

func alignTo(n, align int) int {
	return (n + align - 1) / align * align
}
