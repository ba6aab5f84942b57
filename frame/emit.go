// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"fmt"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
)

// regPlusImmediate returns the instructions that set
// dst to base plus n. Each instruction adds or subtracts
// one chunk of n that can be encoded as a modified
// immediate, so at most four are needed. If n is zero,
// no instructions are returned. The magnitude of n must
// fit in 32 bits.
func (t *Target) regPlusImmediate(dst, base arm.Reg, n int64, cc arm.Cond, pred arm.Reg) []*mir.Inst {
	op := t.ops.ADDri
	if n < 0 {
		op = t.ops.SUBri
		n = -n
	}

	if op == arm.OpInvalid {
		panic(fmt.Sprintf("%s has no immediate add", t.ABI.Name))
	}

	var out []*mir.Inst
	for rest := uint32(n); rest != 0; {
		chunk := arm.SOImmChunk(rest)
		rest &^= chunk

		operands := []mir.Operand{mir.Reg(dst), mir.Reg(base), mir.Imm(int64(chunk))}
		out = append(out, mir.NewInst(op, append(operands, mir.Pred(cc, pred)...)...))

		// Later chunks accumulate into dst.
		base = dst
	}

	return out
}

// spUpdate returns the instructions that add n to the
// stack pointer.
func (t *Target) spUpdate(n int, cc arm.Cond, pred arm.Reg) []*mir.Inst {
	sp := t.Arch.StackPointer
	return t.regPlusImmediate(sp, sp, int64(n), cc, pred)
}

// storeToSlot returns an instruction that stores reg to
// the frame object with the given index.
func (t *Target) storeToSlot(reg arm.Reg, index int) *mir.Inst {
	src := mir.Reg(reg)
	src.Kill = true
	switch {
	case reg.Kind() == arm.KindDPR:
		return mir.NewInst(t.ops.FSTD, src, mir.FI(index), mir.Imm(0), mir.Cond(arm.AL), mir.Reg(arm.NoReg))
	case t.ops.STR.Desc().NumOperands == 6:
		return mir.NewInst(t.ops.STR, src, mir.FI(index), mir.Reg(arm.NoReg), mir.Imm(0), mir.Cond(arm.AL), mir.Reg(arm.NoReg))
	default:
		return mir.NewInst(t.ops.STR, src, mir.FI(index), mir.Imm(0), mir.Cond(arm.AL), mir.Reg(arm.NoReg))
	}
}

// loadFromSlot returns an instruction that loads reg
// from the frame object with the given index.
func (t *Target) loadFromSlot(reg arm.Reg, index int) *mir.Inst {
	dst := mir.Reg(reg)
	switch {
	case reg.Kind() == arm.KindDPR:
		return mir.NewInst(t.ops.FLDD, dst, mir.FI(index), mir.Imm(0), mir.Cond(arm.AL), mir.Reg(arm.NoReg))
	case t.ops.LDR.Desc().NumOperands == 6:
		return mir.NewInst(t.ops.LDR, dst, mir.FI(index), mir.Reg(arm.NoReg), mir.Imm(0), mir.Cond(arm.AL), mir.Reg(arm.NoReg))
	default:
		return mir.NewInst(t.ops.LDR, dst, mir.FI(index), mir.Imm(0), mir.Cond(arm.AL), mir.Reg(arm.NoReg))
	}
}

// EmitLoadConstPool inserts an instruction before the
// instruction at index idx in b that loads val into dst
// from fn's constant pool, adding val to the pool if
// necessary.
func (t *Target) EmitLoadConstPool(fn *mir.Function, b *mir.Block, idx int, dst arm.Reg, val int32, cc arm.Cond, pred arm.Reg) *mir.Inst {
	cp := fn.ConstantPoolIndex(val)
	inst := mir.NewInst(arm.LDRcp, mir.Reg(dst), mir.CP(cp), mir.Reg(arm.NoReg), mir.Imm(0), mir.Cond(cc), mir.Reg(pred))
	b.Insert(idx, inst)

	return inst
}

// indexOf returns the position of inst in b, or -1.
func indexOf(b *mir.Block, inst *mir.Inst) int {
	for i, in := range b.Insts {
		if in == inst {
			return i
		}
	}

	return -1
}
