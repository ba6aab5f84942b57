// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
)

// HasReservedCallFrame returns whether the outgoing
// argument space for fn's calls is allocated once, as
// part of the stack frame, rather than around each
// call.
//
// A large call frame pushes the other frame objects out
// of reach of the small immediate offsets, so it is only
// reserved if it takes less than half the range of a
// 12-bit offset.
func (t *Target) HasReservedCallFrame(fn *mir.Function) bool {
	if fn.Frame.MaxCallFrameSize >= defaultOffsetLimit/2 {
		return false
	}

	return !fn.Frame.HasVarSizedObjects
}

// EliminateCallFrame removes the call frame marker at
// index idx in b. If the call frame is not reserved, the
// marker is replaced with an update of the stack pointer
// by the marker's amount, rounded up to the stack
// alignment.
//
// EliminateCallFrame returns the number of bytes by which
// the stack pointer has moved below its position in the
// body of the function once the marker has executed,
// relative to before it. This is positive after a setup
// marker, negative after a destroy marker, and zero if
// the call frame is reserved.
func (t *Target) EliminateCallFrame(fn *mir.Function, b *mir.Block, idx int) (spDelta int, err error) {
	if t.ABI.Thumb1Only {
		return 0, instError(fn, b, b.Insts[idx], ErrUnsupportedMode, "Thumb-1 call frames")
	}

	inst := b.Insts[idx]
	desc := inst.Desc()
	setup := desc.Is(arm.FlagCallFrameSetup)
	if !setup && !desc.Is(arm.FlagCallFrameDestroy) {
		return 0, instError(fn, b, inst, ErrUnsupportedMode, "not a call frame marker")
	}

	if len(inst.Operands) == 0 || inst.Operands[0].Kind != mir.OperandImm || inst.Operands[0].Imm < 0 {
		return 0, instError(fn, b, inst, ErrUnencodable, "invalid call frame size")
	}

	b.Remove(idx)
	if t.HasReservedCallFrame(fn) {
		return 0, nil
	}

	amount := alignTo(int(inst.Operands[0].Imm), t.ABI.StackAlignment)
	if amount == 0 {
		return 0, nil
	}

	cc, pred := inst.Predicate()
	if setup {
		b.Insert(idx, t.spUpdate(-amount, cc, pred)...)
		return amount, nil
	}

	b.Insert(idx, t.spUpdate(amount, cc, pred)...)

	return -amount, nil
}
