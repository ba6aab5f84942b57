// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

// Thumb-1 functions larger than this spill the link
// register so that far branches can be made with BL.
const farJumpThreshold = 1 << 11

// The largest offset a word load or store can encode,
// which is the default headroom limit.
const defaultOffsetLimit = 1<<12 - 1

// NeedsFramePointer returns whether fn must establish a
// frame pointer. This depends only on properties fixed
// before frame lowering starts.
func (t *Target) NeedsFramePointer(fn *mir.Function) bool {
	return t.Config.DisableFramePointerElim ||
		fn.Frame.HasVarSizedObjects ||
		fn.Frame.FrameAddressTaken
}

// CalleeSaved returns the callee-saved registers for fn,
// in the order in which they are spilled.
func (t *Target) CalleeSaved(fn *mir.Function) []sys.CalleeSaved {
	return t.ABI.CalleeSaved()
}

// CalleeSavedClass returns the register class used to
// spill the callee-saved register reg. Thumb-1 functions
// spill the low registers as tGPR, which means they do
// not count towards the integer spills when aligning the
// callee-saved areas.
func (t *Target) CalleeSavedClass(reg arm.Reg) arm.Class {
	switch {
	case reg.Kind() == arm.KindDPR:
		return arm.DPR
	case t.ABI.Thumb1Only && reg.IsLow():
		return arm.TGPR
	default:
		return arm.GPR
	}
}

// isUsed returns whether fn uses reg, or any register
// that overlaps it.
func isUsed(fn *mir.Function, reg arm.Reg) bool {
	if fn.Regs.IsPhysRegUsed(reg) {
		return true
	}

	for _, alias := range reg.Aliases() {
		if fn.Regs.IsPhysRegUsed(alias) {
			return true
		}
	}

	return false
}

// spill marks reg as used and spilled.
func spill(fn *mir.Function, reg arm.Reg) {
	fn.Regs.SetPhysRegUsed(reg)
	fn.Layout.SetSpilled(reg)
}

// removeReg returns list without reg.
func removeReg(list []arm.Reg, reg arm.Reg) []arm.Reg {
	for i, r := range list {
		if r == reg {
			return append(list[:i:i], list[i+1:]...)
		}
	}

	return list
}

// # Finalizing the spill set
//
// Before the spill slots for callee-saved registers are
// assigned, we decide exactly which registers must be
// spilled. This starts with the callee-saved registers
// that fn uses, then adds the link register so that
// the return can be folded into the restores, the frame
// pointer, and possibly extra registers.
//
// An extra register is spilled if an odd number of
// integer registers would leave a gap before the
// double-precision area on a stack with 8-byte
// alignment. If the frame might be too large for some
// instruction to address directly, we spill one or two
// more so that elimination has a scratch register, or
// failing that, create a stack slot the scavenger can
// use.

// FinalizeSpillSet decides which callee-saved registers
// fn must spill, and whether it needs a stack frame.
// scavengerAvailable indicates whether registers can be
// scavenged during frame index elimination, in which
// case a scavenging slot may be created.
func (t *Target) FinalizeSpillSet(fn *mir.Function, scavengerAvailable bool) {
	var (
		canEliminateFrame = true
		cs1Spilled        bool
		lrSpilled         bool
		numGPRSpills      int
		unspilledCS1      []arm.Reg
		unspilledCS2      []arm.Reg
	)

	for _, cs := range t.CalleeSaved(fn) {
		reg := cs.Reg
		spilled := isUsed(fn, reg)
		if spilled {
			fn.Layout.SetSpilled(reg)
			canEliminateFrame = false
		}

		if t.CalleeSavedClass(reg) != arm.GPR {
			continue
		}

		area1 := cs.Area == sys.AreaGPR1
		if spilled {
			numGPRSpills++
			if reg == arm.LR {
				lrSpilled = true
			}

			if area1 {
				cs1Spilled = true
			}
		} else if area1 {
			unspilledCS1 = append(unspilledCS1, reg)
		} else {
			unspilledCS2 = append(unspilledCS2, reg)
		}
	}

	forceLRSpill := false
	if !lrSpilled && t.ABI.Thumb1Only && fn.Size() >= farJumpThreshold {
		canEliminateFrame = false
		forceLRSpill = true
	}

	hasFP := t.hasFP(fn)
	extraCSSpill := false
	if !canEliminateFrame || hasFP {
		fn.Layout.HasStackFrame = true

		// Spill the link register too, so the
		// return can be folded into the restores.
		if !lrSpilled && cs1Spilled {
			spill(fn, arm.LR)
			numGPRSpills++
			unspilledCS1 = removeReg(unspilledCS1, arm.LR)
			forceLRSpill = false
			extraCSSpill = true
		}

		// The frame pointer must point at
		// its own saved value.
		if t.ABI.Darwin || hasFP {
			if !fn.Layout.IsSpilled(t.framePtr) {
				spill(fn, t.framePtr)
				numGPRSpills++
			}

			unspilledCS1 = removeReg(unspilledCS1, t.framePtr)
			unspilledCS2 = removeReg(unspilledCS2, t.framePtr)
		}

		if t.ABI.StackAlignment == 8 && numGPRSpills&1 != 0 {
			if reg := t.alignmentSpill(fn, cs1Spilled, unspilledCS1, unspilledCS2); reg != arm.NoReg {
				spill(fn, reg)
				unspilledCS1 = removeReg(unspilledCS1, reg)
				unspilledCS2 = removeReg(unspilledCS2, reg)
				extraCSSpill = true
			}
		}

		if scavengerAvailable && !extraCSSpill && !t.ABI.Thumb1Only {
			t.reserveHeadroom(fn, unspilledCS1, unspilledCS2)
		}
	}

	// This is a guess, based on the size of the
	// function before frame lowering. It is not
	// revisited if no far branch turns out to be
	// needed.
	if forceLRSpill {
		spill(fn, arm.LR)
		fn.Layout.LRSpilledForFarJump = true
	}
}

// alignmentSpill returns the register to spill to make
// the number of integer spills even, or NoReg.
func (t *Target) alignmentSpill(fn *mir.Function, cs1Spilled bool, cs1, cs2 []arm.Reg) arm.Reg {
	if cs1Spilled && len(cs1) > 0 {
		for _, reg := range cs1 {
			if t.IsReserved(fn, reg) {
				continue
			}

			// Thumb-1 can only spill low
			// registers and the link register.
			if !t.ABI.Thumb1Only || reg.IsLow() || reg == arm.LR {
				return reg
			}
		}

		return arm.NoReg
	}

	if t.ABI.Thumb1Only {
		return arm.NoReg
	}

	for _, reg := range cs2 {
		if !t.IsReserved(fn, reg) {
			return reg
		}
	}

	return arm.NoReg
}

// reserveHeadroom makes sure a scratch register will be
// available if the frame is too large for the narrowest
// addressing mode used in fn.
func (t *Target) reserveHeadroom(fn *mir.Function, cs1, cs2 []arm.Reg) {
	size := estimateStackSize(fn)
	limit := narrowestOffsetLimit(fn)
	if size < limit {
		return
	}

	// Spill one or two extra registers, taking
	// the least preferred candidates first.
	need := t.ABI.StackAlignment / 4
	var extras []arm.Reg
	for _, list := range [][]arm.Reg{cs1, cs2} {
		for i := len(list) - 1; i >= 0 && len(extras) < need; i-- {
			if !t.IsReserved(fn, list[i]) {
				extras = append(extras, list[i])
			}
		}
	}

	if len(extras) == need {
		for _, reg := range extras {
			spill(fn, reg)
		}

		return
	}

	class := arm.GPR
	fn.Frame.ScavengingIndex = fn.Frame.CreateStackObject(class.Size(), class.Alignment())
}

// estimateStackSize returns an upper bound for the size
// of fn's frame, excluding the callee-saved areas.
func estimateStackSize(fn *mir.Function) int {
	offset := 0
	for _, obj := range fn.Frame.FixedObjects() {
		if -obj.Offset > offset {
			offset = -obj.Offset
		}
	}

	for _, obj := range fn.Frame.Objects() {
		if obj.Dead {
			continue
		}

		offset = alignTo(offset+obj.Size, obj.Align)
	}

	return offset
}

// narrowestOffsetLimit returns the largest frame offset
// that every frame-indexed instruction in fn can encode
// without help.
func narrowestOffsetLimit(fn *mir.Function) int {
	limit := defaultOffsetLimit
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			if inst.FrameIndexOperand() < 0 {
				continue
			}

			switch inst.Desc().Family {
			case arm.Mode3:
				// Nothing is narrower.
				return 1<<8 - 1
			case arm.Mode5:
				limit = min(limit, (1<<8-1)*4)
			case arm.T2i8:
				limit = min(limit, 1<<8-1)
			}
		}
	}

	return limit
}
