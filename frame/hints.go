// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
)

// # Register pairs
//
// Some instructions, such as the doubleword loads and
// stores, operate on an even/odd pair of consecutive
// registers. The register allocator records a hint on
// each half of such a pair, naming the other half, and
// asks us for an allocation order that favours even or
// odd registers, as appropriate.
//
// Which registers can form pairs depends on whether a
// frame pointer is reserved, and which register it is,
// and whether r9 is reserved, so there are six orders
// for each parity.

var (
	// No frame pointer, r9 available.
	gprEven1 = []arm.Reg{
		arm.R0, arm.R2, arm.R4, arm.R6, arm.R8, arm.R10,
		arm.R1, arm.R3, arm.R12, arm.LR, arm.R5, arm.R7,
		arm.R9, arm.R11,
	}
	gprOdd1 = []arm.Reg{
		arm.R1, arm.R3, arm.R5, arm.R7, arm.R9, arm.R11,
		arm.R0, arm.R2, arm.R12, arm.LR, arm.R4, arm.R6,
		arm.R8, arm.R10,
	}

	// Frame pointer r7, r9 available.
	gprEven2 = []arm.Reg{
		arm.R0, arm.R2, arm.R4, arm.R8, arm.R10,
		arm.R1, arm.R3, arm.R12, arm.LR, arm.R5, arm.R6,
		arm.R9, arm.R11,
	}
	gprOdd2 = []arm.Reg{
		arm.R1, arm.R3, arm.R5, arm.R9, arm.R11,
		arm.R0, arm.R2, arm.R12, arm.LR, arm.R4, arm.R6,
		arm.R8, arm.R10,
	}

	// Frame pointer r11, r9 available.
	gprEven3 = []arm.Reg{
		arm.R0, arm.R2, arm.R4, arm.R6, arm.R8,
		arm.R1, arm.R3, arm.R10, arm.R12, arm.LR, arm.R5, arm.R7,
		arm.R9,
	}
	gprOdd3 = []arm.Reg{
		arm.R1, arm.R3, arm.R5, arm.R6, arm.R9,
		arm.R0, arm.R2, arm.R10, arm.R12, arm.LR, arm.R4, arm.R7,
		arm.R8,
	}

	// No frame pointer, r9 reserved.
	gprEven4 = []arm.Reg{
		arm.R0, arm.R2, arm.R4, arm.R6, arm.R10,
		arm.R1, arm.R3, arm.R12, arm.LR, arm.R5, arm.R7, arm.R8,
		arm.R11,
	}
	gprOdd4 = []arm.Reg{
		arm.R1, arm.R3, arm.R5, arm.R7, arm.R11,
		arm.R0, arm.R2, arm.R12, arm.LR, arm.R4, arm.R6, arm.R8,
		arm.R10,
	}

	// Frame pointer r7, r9 reserved.
	gprEven5 = []arm.Reg{
		arm.R0, arm.R2, arm.R4, arm.R10,
		arm.R1, arm.R3, arm.R12, arm.LR, arm.R5, arm.R6, arm.R8,
		arm.R11,
	}
	gprOdd5 = []arm.Reg{
		arm.R1, arm.R3, arm.R5, arm.R11,
		arm.R0, arm.R2, arm.R12, arm.LR, arm.R4, arm.R6, arm.R8,
		arm.R10,
	}

	// Frame pointer r11, r9 reserved.
	gprEven6 = []arm.Reg{
		arm.R0, arm.R2, arm.R4, arm.R6,
		arm.R1, arm.R3, arm.R10, arm.R12, arm.LR, arm.R5, arm.R7, arm.R8,
	}
	gprOdd6 = []arm.Reg{
		arm.R1, arm.R3, arm.R5, arm.R7,
		arm.R0, arm.R2, arm.R10, arm.R12, arm.LR, arm.R4, arm.R6, arm.R8,
	}
)

// pairOrders is indexed by parity, then frame pointer
// state, then whether r9 is reserved.
var pairOrders = [2][3][2][]arm.Reg{
	{
		{gprEven1, gprEven4},
		{gprEven2, gprEven5},
		{gprEven3, gprEven6},
	},
	{
		{gprOdd1, gprOdd4},
		{gprOdd2, gprOdd5},
		{gprOdd3, gprOdd6},
	},
}

// AllocationOrder returns the order in which registers
// of class should be allocated to a register with the
// given hint. Registers hinted to be one half of a pair
// prefer registers of the right parity. The result must
// not be modified.
func (t *Target) AllocationOrder(fn *mir.Function, class arm.Class, kind mir.HintKind, hintReg arm.Reg) []arm.Reg {
	if class != arm.GPR || kind == mir.HintNone {
		return t.defaultOrder(fn, class)
	}

	var parity int
	switch kind {
	case mir.HintPairEven:
		if hintReg.IsPhysical() && t.PairEven(fn, hintReg) == arm.NoReg {
			return t.defaultOrder(fn, class)
		}
	case mir.HintPairOdd:
		if hintReg.IsPhysical() && t.PairOdd(fn, hintReg) == arm.NoReg {
			return t.defaultOrder(fn, class)
		}

		parity = 1
	default:
		return t.defaultOrder(fn, class)
	}

	var fp int
	switch {
	case !t.ABI.Darwin && !t.hasFP(fn):
		fp = 0
	case t.framePtr == arm.R7:
		fp = 1
	default:
		fp = 2
	}

	r9 := 0
	if t.ABI.R9Reserved {
		r9 = 1
	}

	return pairOrders[parity][fp][r9]
}

// defaultOrder returns the class's allocation order,
// without any reserved registers.
func (t *Target) defaultOrder(fn *mir.Function, class arm.Class) []arm.Reg {
	order := class.Order()
	out := make([]arm.Reg, 0, len(order))
	for _, reg := range order {
		if !t.IsReserved(fn, reg) {
			out = append(out, reg)
		}
	}

	return out
}

// ResolveHint returns the register that satisfies a hint
// of the given kind, relative to reg, or NoReg if the
// hint cannot be satisfied. Reserved registers are never
// returned.
func (t *Target) ResolveHint(fn *mir.Function, kind mir.HintKind, reg arm.Reg) arm.Reg {
	if !reg.IsPhysical() {
		return arm.NoReg
	}

	var out arm.Reg
	switch kind {
	case mir.HintNone:
		out = reg
	case mir.HintPairOdd:
		out = t.PairOdd(fn, reg)
	case mir.HintPairEven:
		out = t.PairEven(fn, reg)
	}

	if out == arm.NoReg || out.IsSpecial() || t.IsReserved(fn, out) {
		return arm.NoReg
	}

	return out
}

// UpdateHint is called when reg is renamed to newReg,
// for example by coalescing. If reg is half of a hinted
// pair and its partner's hint still refers to reg, the
// partner's hint is updated to refer to newReg.
func (t *Target) UpdateHint(fn *mir.Function, reg, newReg arm.Reg) {
	hint := fn.Regs.Hint(reg)
	if hint.Kind != mir.HintPairEven && hint.Kind != mir.HintPairOdd {
		return
	}

	other := hint.Reg
	if !other.IsVirtual() || other == newReg {
		return
	}

	// Leave the partner alone if the pair has
	// already been split.
	partner := fn.Regs.Hint(other)
	if partner.Reg == reg {
		fn.Regs.SetHint(other, partner.Kind, newReg)
	}
}

// PairEven returns the even register that forms a pair
// with the odd register reg, or NoReg if there is none.
func (t *Target) PairEven(fn *mir.Function, reg arm.Reg) arm.Reg {
	switch reg {
	case arm.R1:
		return arm.R0
	case arm.R3:
		if t.ABI.Thumb1Only {
			return arm.NoReg
		}

		return arm.R2
	case arm.R5:
		return arm.R4
	case arm.R7, arm.R9, arm.R11:
		if t.IsReserved(fn, reg) {
			return arm.NoReg
		}

		return reg - 1
	}

	switch reg.Kind() {
	case arm.KindSPR:
		if (reg-arm.S0)&1 == 1 {
			return reg - 1
		}
	case arm.KindDPR:
		if reg <= arm.D15 && (reg-arm.D0)&1 == 1 {
			return reg - 1
		}
	}

	return arm.NoReg
}

// PairOdd returns the odd register that forms a pair
// with the even register reg, or NoReg if there is none.
func (t *Target) PairOdd(fn *mir.Function, reg arm.Reg) arm.Reg {
	switch reg {
	case arm.R0:
		return arm.R1
	case arm.R2:
		if t.ABI.Thumb1Only {
			return arm.NoReg
		}

		return arm.R3
	case arm.R4:
		return arm.R5
	case arm.R6, arm.R8, arm.R10:
		if t.IsReserved(fn, reg+1) {
			return arm.NoReg
		}

		return reg + 1
	}

	switch reg.Kind() {
	case arm.KindSPR:
		if (reg-arm.S0)&1 == 0 {
			return reg + 1
		}
	case arm.KindDPR:
		if reg < arm.D15 && (reg-arm.D0)&1 == 0 {
			return reg + 1
		}
	}

	return arm.NoReg
}
