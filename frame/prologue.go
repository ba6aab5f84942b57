// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"fmt"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

// cursor inserts instructions into a block at a moving
// position.
type cursor struct {
	b   *mir.Block
	pos int
}

func (c *cursor) insert(insts ...*mir.Inst) {
	c.b.Insert(c.pos, insts...)
	c.pos += len(insts)
}

// movePast advances the cursor past a run of callee-saved
// spills or restores using op, for registers in area.
func (t *Target) movePast(fn *mir.Function, c *cursor, op arm.Opcode, area sys.Area) {
	for c.pos < len(c.b.Insts) {
		inst := c.b.Insts[c.pos]
		if inst.Op != op || !inSpillSlot(fn, inst) {
			return
		}

		if got := t.ABI.Area(inst.Operands[0].Reg); got == sys.AreaNone || got != area {
			return
		}

		c.pos++
	}
}

// inSpillSlot returns whether inst accesses the spill
// slot of the callee-saved register in its first operand.
// Body code may load or store the same register through
// an ordinary frame object, which does not count.
func inSpillSlot(fn *mir.Function, inst *mir.Inst) bool {
	if len(inst.Operands) < 2 || !inst.Operands[1].IsFI() {
		return false
	}

	reg, index := inst.Operands[0].Reg, inst.Operands[1].Index()
	for _, cs := range fn.Frame.CalleeSaved {
		if cs.Reg == reg && cs.FrameIndex == index {
			return true
		}
	}

	return false
}

// isCalleeSavedRestore returns whether inst restores a
// callee-saved register from its spill slot.
func (t *Target) isCalleeSavedRestore(fn *mir.Function, inst *mir.Inst) bool {
	if inst.Op != t.ops.LDR && inst.Op != t.ops.FLDD {
		return false
	}

	return inSpillSlot(fn, inst)
}

// EmitPrologue inserts the code that allocates fn's
// stack frame at the start of its entry block.
//
// The callee-saved spills must already have been
// inserted. Each area is allocated just before the
// spills into that area, so that the spills can be
// merged into a single push.
func (t *Target) EmitPrologue(fn *mir.Function) error {
	if t.ABI.Thumb1Only {
		return fmt.Errorf("%s: %w: Thumb-1 prologue", fn.Name, ErrUnsupportedMode)
	}

	entry := fn.Entry()
	if entry == nil {
		return fmt.Errorf("%s: function has no blocks", fn.Name)
	}

	layout := fn.Layout
	c := &cursor{b: entry}
	if n := fn.Frame.VarArgsSaveSize; n != 0 {
		c.insert(t.spUpdate(-n, arm.AL, arm.NoReg)...)
	}

	if !layout.HasStackFrame {
		if n := fn.Frame.StackSize; n != 0 {
			c.insert(t.spUpdate(-n, arm.AL, arm.NoReg)...)
		}

		return nil
	}

	c.insert(t.spUpdate(-layout.GPR1Size, arm.AL, arm.NoReg)...)
	t.movePast(fn, c, t.ops.STR, sys.AreaGPR1)

	// The frame pointer points at its own
	// saved value.
	hasFP := t.hasFP(fn)
	if t.ABI.Darwin || hasFP {
		if layout.FramePtrSpillIndex == mir.NoFrameIndex {
			return fmt.Errorf("%s: frame pointer %s is not spilled", fn.Name, t.framePtr)
		}

		operands := []mir.Operand{mir.Reg(t.framePtr), mir.FI(layout.FramePtrSpillIndex), mir.Imm(0)}
		c.insert(mir.NewInst(t.ops.ADDri, append(operands, mir.Pred(arm.AL, arm.NoReg)...)...))
	}

	c.insert(t.spUpdate(-layout.GPR2Size, arm.AL, arm.NoReg)...)
	t.movePast(fn, c, t.ops.STR, sys.AreaGPR2)
	c.insert(t.spUpdate(-layout.DPRSize, arm.AL, arm.NoReg)...)

	if n := layout.DPROffset; n != 0 {
		t.movePast(fn, c, t.ops.FSTD, sys.AreaDPR)
		c.insert(t.spUpdate(-n, arm.AL, arm.NoReg)...)
	}

	if t.ABI.ELF && hasFP {
		fn.Frame.OffsetAdjustment -= layout.FramePtrSpillOffset
	}

	return nil
}

// EmitEpilogue inserts the code that releases fn's stack
// frame before the return at the end of b. The callee-
// saved restores must already have been inserted.
func (t *Target) EmitEpilogue(fn *mir.Function, b *mir.Block) error {
	if t.ABI.Thumb1Only {
		return fmt.Errorf("%s: %w: Thumb-1 epilogue", fn.Name, ErrUnsupportedMode)
	}

	if !b.IsReturn() {
		return fmt.Errorf("%s: %s: epilogue inserted into a block that does not return", fn.Name, b)
	}

	layout := fn.Layout
	c := &cursor{b: b, pos: len(b.Insts) - 1}
	if !layout.HasStackFrame {
		if n := fn.Frame.StackSize; n != 0 {
			c.insert(t.spUpdate(n, arm.AL, arm.NoReg)...)
		}
	} else {
		// Find the first restore.
		if c.pos > 0 {
			for {
				c.pos--
				if c.pos == 0 || !t.isCalleeSavedRestore(fn, b.Insts[c.pos]) {
					break
				}
			}

			if !t.isCalleeSavedRestore(fn, b.Insts[c.pos]) {
				c.pos++
			}
		}

		// Move the stack pointer to the bottom of
		// the callee-saved areas. If there is a
		// frame pointer, this is relative to the
		// frame pointer, as the stack pointer may
		// have moved.
		n := layout.DPROffset
		if (t.ABI.Darwin && n != 0) || t.hasFP(fn) {
			n = layout.FramePtrSpillOffset - n
			if n != 0 {
				c.insert(t.regPlusImmediate(t.Arch.StackPointer, t.framePtr, int64(-n), arm.AL, arm.NoReg)...)
			} else {
				c.insert(mir.NewInst(t.ops.MOVr, mir.Reg(t.Arch.StackPointer), mir.Reg(t.framePtr), mir.Cond(arm.AL), mir.Reg(arm.NoReg)))
			}
		} else if n != 0 {
			c.insert(t.spUpdate(n, arm.AL, arm.NoReg)...)
		}

		t.movePast(fn, c, t.ops.FLDD, sys.AreaDPR)
		c.insert(t.spUpdate(layout.DPRSize, arm.AL, arm.NoReg)...)
		t.movePast(fn, c, t.ops.LDR, sys.AreaGPR2)
		c.insert(t.spUpdate(layout.GPR2Size, arm.AL, arm.NoReg)...)
		t.movePast(fn, c, t.ops.LDR, sys.AreaGPR1)
		c.insert(t.spUpdate(layout.GPR1Size, arm.AL, arm.NoReg)...)
	}

	if n := fn.Frame.VarArgsSaveSize; n != 0 {
		c.insert(t.spUpdate(n, arm.AL, arm.NoReg)...)
	}

	return nil
}
