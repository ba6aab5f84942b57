// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"firefly-os.dev/tools/armframe/mir"
)

// AssignSpillSlots creates a spill slot for each spilled
// callee-saved register, in spill order, and records
// them in fn.Frame.CalleeSaved.
func (t *Target) AssignSpillSlots(fn *mir.Function) {
	fn.Frame.CalleeSaved = fn.Frame.CalleeSaved[:0]
	for _, cs := range t.CalleeSaved(fn) {
		if !fn.Layout.IsSpilled(cs.Reg) {
			continue
		}

		class := t.CalleeSavedClass(cs.Reg)
		index := fn.Frame.CreateSpillSlot(class.Size(), class.Alignment())
		fn.Frame.CalleeSaved = append(fn.Frame.CalleeSaved, mir.CalleeSavedInfo{
			Reg:        cs.Reg,
			FrameIndex: index,
			Area:       cs.Area,
		})
	}
}

// CalculateFrameObjectOffsets assigns an offset to each
// live frame object and sets the frame's stack size.
//
// Starting just below any fixed objects, the callee-saved
// spill slots are packed together in spill order, so the
// callee-saved areas are contiguous. The other objects
// follow in index order, each aligned. The scavenging
// slot is placed next to whichever register will be
// used to address it: just below the callee-saved slots
// if there is a frame pointer, and at the bottom of the
// frame otherwise. If the call frame is reserved, space
// for the largest call frame comes last.
func (t *Target) CalculateFrameObjectOffsets(fn *mir.Function) {
	frame := fn.Frame
	offset := 0
	for _, obj := range frame.FixedObjects() {
		if -obj.Offset > offset {
			offset = -obj.Offset
		}
	}

	offset = alignTo(offset, 4)
	maxAlign := 1
	calleeSaved := make(map[int]bool)
	for _, cs := range frame.CalleeSaved {
		obj, _ := frame.Object(cs.FrameIndex)
		offset += obj.Size
		obj.Offset = -offset
		calleeSaved[cs.FrameIndex] = true
	}

	place := func(obj *mir.FrameObject) {
		offset = alignTo(offset+obj.Size, obj.Align)
		obj.Offset = -offset
		maxAlign = max(maxAlign, obj.Align)
	}

	scavenging, hasScavenging := frame.Object(frame.ScavengingIndex)
	hasFP := t.hasFP(fn)
	if hasScavenging && hasFP {
		place(scavenging)
	}

	for _, obj := range frame.Objects() {
		if obj.Dead || calleeSaved[obj.Index] || obj.Index == frame.ScavengingIndex {
			continue
		}

		place(obj)
	}

	if hasScavenging && !hasFP {
		place(scavenging)
	}

	if t.HasReservedCallFrame(fn) {
		offset += frame.MaxCallFrameSize
	}

	// The stack only needs to be aligned at
	// calls.
	if frame.HasCalls || frame.HasVarSizedObjects {
		offset = alignTo(offset, max(t.ABI.StackAlignment, maxAlign))
	}

	frame.StackSize = offset
}

// InsertSpillCode inserts the instructions that save the
// spilled callee-saved registers at the start of the
// entry block, in spill order, and restore them before
// each return, in the reverse order.
func (t *Target) InsertSpillCode(fn *mir.Function) {
	saved := fn.Frame.CalleeSaved
	if len(saved) == 0 {
		return
	}

	saves := make([]*mir.Inst, len(saved))
	for i, cs := range saved {
		saves[i] = t.storeToSlot(cs.Reg, cs.FrameIndex)
	}

	fn.Entry().Insert(0, saves...)

	for _, b := range fn.Blocks {
		if !b.IsReturn() {
			continue
		}

		restores := make([]*mir.Inst, len(saved))
		for i, cs := range saved {
			restores[len(saved)-1-i] = t.loadFromSlot(cs.Reg, cs.FrameIndex)
		}

		b.Insert(len(b.Insts)-1, restores...)
	}
}
