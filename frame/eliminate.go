// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"math"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

// Thumb-2 loads and stores with a 12-bit offset can only
// add to the base register. These are the equivalent
// instructions with an 8-bit offset in either direction.
var negativeOffsetForm = map[arm.Opcode]arm.Opcode{
	arm.T2LDRi12: arm.T2LDRi8,
	arm.T2STRi12: arm.T2STRi8,
}

// # Frame index elimination
//
// The offset of a frame object is first expressed
// relative to the stack pointer in the function body,
// adjusted by spAdj if a call frame is being set up.
// The callee-saved spill slots are accessed as the
// prologue and epilogue move the stack pointer, so
// their offsets are relative to the bottom of their
// area instead. Other objects are addressed from the
// frame pointer, if there is one.
//
// If the instruction can encode the offset, it is
// rewritten in place. Otherwise, as much of the offset
// as possible is folded into the instruction and the
// rest is added to the base register, in a scratch
// register.

// EliminateFrameIndex replaces the frame index operand of
// the instruction at index idx in b with a base register
// and offset, inserting any instructions needed to form
// the address. spAdj is the number of bytes by which the
// stack pointer has been moved down by call frame setup
// at the instruction.
//
// If scav is nil, r12 is used as the scratch register.
func (t *Target) EliminateFrameIndex(fn *mir.Function, b *mir.Block, idx, spAdj int, scav Scavenger) error {
	inst := b.Insts[idx]
	if t.ABI.Thumb1Only {
		return instError(fn, b, inst, ErrUnsupportedMode, "Thumb-1 frame indices")
	}

	i := inst.FrameIndexOperand()
	if i < 0 {
		return instError(fn, b, inst, ErrNoFrameIndex, "operand missing")
	}

	index := inst.Operands[i].Index()
	obj, ok := fn.Frame.Object(index)
	if !ok {
		return instError(fn, b, inst, ErrNoFrameIndex, "frame index %d does not exist", index)
	}

	frameReg := t.Arch.StackPointer
	offset := int64(obj.Offset + fn.Frame.StackSize + spAdj)
	if area := fn.Layout.Area(index); area != sys.AreaNone {
		offset -= int64(fn.Layout.AreaOffset(area))
	} else if t.hasFP(fn) {
		// The frame pointer does not move
		// with call frames.
		frameReg = t.framePtr
		offset = int64(obj.Offset + fn.Frame.StackSize - fn.Layout.FramePtrSpillOffset)
	}

	var (
		rest int64
		err  error
	)

	if inst.Op == t.ops.ADDri {
		rest, err = t.rewriteAdd(fn, b, inst, i, frameReg, offset)
	} else {
		rest, err = t.rewriteMemory(fn, b, inst, i, frameReg, offset)
	}

	if err != nil || rest == 0 {
		return err
	}

	return t.materialize(fn, b, inst, i, frameReg, rest, spAdj, scav)
}

// rewriteAdd folds offset into an instruction that adds
// an immediate to a frame index. It returns the part of
// the offset that could not be encoded.
func (t *Target) rewriteAdd(fn *mir.Function, b *mir.Block, inst *mir.Inst, i int, frameReg arm.Reg, offset int64) (int64, error) {
	if i+1 >= len(inst.Operands) || inst.Operands[i+1].Kind != mir.OperandImm {
		return 0, instError(fn, b, inst, ErrUnencodable, "missing immediate operand")
	}

	offset += inst.Operands[i+1].Imm
	if offset == 0 {
		inst.Op = t.ops.MOVr
		inst.Operands[i].ChangeToRegister(frameReg, false)
		inst.Operands = append(inst.Operands[:i+1], inst.Operands[i+2:]...)
		return 0, nil
	}

	sub := offset < 0
	if sub {
		offset = -offset
		inst.Op = t.ops.SUBri
	}

	if offset > math.MaxUint32 {
		return 0, instError(fn, b, inst, ErrUnencodable, "offset %d", offset)
	}

	inst.Operands[i].ChangeToRegister(frameReg, false)
	if arm.IsSOImm(uint32(offset)) {
		inst.Operands[i+1].ChangeToImmediate(offset)
		return 0, nil
	}

	// Fold in the first chunk and leave the
	// rest for the scratch register.
	chunk := arm.SOImmChunk(uint32(offset))
	inst.Operands[i+1].ChangeToImmediate(int64(chunk))
	rest := offset &^ int64(chunk)
	if sub {
		rest = -rest
	}

	return rest, nil
}

// rewriteMemory folds offset into the immediate offset
// of a load or store through a frame index. It returns
// the part of the offset that could not be encoded.
func (t *Target) rewriteMemory(fn *mir.Function, b *mir.Block, inst *mir.Inst, i int, frameReg arm.Reg, offset int64) (int64, error) {
	family := inst.Desc().Family
	switch family {
	case arm.Mode2, arm.Mode3, arm.Mode5, arm.T2i12, arm.T2i8, arm.T2so:
	default:
		return 0, instError(fn, b, inst, ErrUnsupportedMode, "%s addressing with offset %d", family, offset)
	}

	field := family.Field()
	immIdx := i + field.ImmOperand
	if immIdx >= len(inst.Operands) || inst.Operands[immIdx].Kind != mir.OperandImm {
		return 0, instError(fn, b, inst, ErrUnencodable, "missing immediate operand")
	}

	imm := &inst.Operands[immIdx]
	offset += field.Decode(imm.Imm)
	scale := int64(field.Scale)
	if offset%scale != 0 {
		return 0, instError(fn, b, inst, ErrUnencodable, "offset %d is not a multiple of %d", offset, scale)
	}

	sub := offset < 0
	if sub && field.Kind == arm.FieldUnsigned {
		if op, ok := negativeOffsetForm[inst.Op]; ok {
			inst.Op = op
			family = op.Desc().Family
			field = family.Field()
		}
	}

	mag := offset
	if sub {
		mag = -offset
	}

	inst.Operands[i].ChangeToRegister(frameReg, false)

	switch {
	case field.Kind == arm.FieldNone:
		// The immediate is a shift, not an
		// offset, so the whole offset goes in
		// the base register.
		return offset, nil
	case field.Kind == arm.FieldUnsigned && sub:
		imm.ChangeToImmediate(0)
		return offset, nil
	}

	if mag <= field.MaxOffset() {
		encoded := mag / scale
		if sub {
			encoded |= field.DirectionBit()
		}

		imm.ChangeToImmediate(encoded)
		return 0, nil
	}

	// Keep the low bits in the instruction.
	encoded := mag / scale & field.Mask()
	if sub {
		encoded |= field.DirectionBit()
	}

	imm.ChangeToImmediate(encoded)
	rest := mag &^ (field.Mask() * scale)
	if sub {
		rest = -rest
	}

	return rest, nil
}

// materialize adds rest to frameReg in a scratch register
// and rebases the instruction on the scratch register.
func (t *Target) materialize(fn *mir.Function, b *mir.Block, inst *mir.Inst, i int, frameReg arm.Reg, rest int64, spAdj int, scav Scavenger) error {
	if rest > math.MaxUint32 || rest < -math.MaxUint32 {
		return instError(fn, b, inst, ErrUnencodable, "offset remainder %d", rest)
	}

	idx := indexOf(b, inst)
	scratch := arm.NoReg
	var borrow *Borrow
	switch {
	case scav == nil:
		if inst.Refs(arm.R12) {
			return instError(fn, b, inst, ErrNoScratch, "r12 is in use for offset remainder %d", rest)
		}

		scratch = arm.R12
	default:
		scratch = scav.FindUnused(fn, b, idx, arm.GPR, false)
		if scratch == arm.NoReg {
			scratch = scav.FindUnused(fn, b, idx, arm.GPR, true)
		}

		if scratch == arm.NoReg {
			var err error
			borrow, err = scav.Scavenge(fn, b, idx, arm.GPR, spAdj)
			if err != nil {
				return err
			}

			scratch = borrow.Reg
			idx = indexOf(b, inst)
		}
	}

	cc, pred := inst.Predicate()
	b.Insert(idx, t.regPlusImmediate(scratch, frameReg, rest, cc, pred)...)
	inst.Operands[i].ChangeToRegister(scratch, true)

	if borrow == nil {
		return nil
	}

	// The spill and reload address the
	// scavenging slot, which is always in
	// reach of its base register.
	borrow.Release()
	for _, save := range []*mir.Inst{borrow.Spill, borrow.Reload} {
		if save.FrameIndexOperand() < 0 {
			continue
		}

		if err := t.EliminateFrameIndex(fn, b, indexOf(b, save), spAdj, nil); err != nil {
			return err
		}
	}

	return nil
}
