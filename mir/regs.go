// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package mir

import (
	"fmt"
	"sort"

	"firefly-os.dev/tools/armframe/internal/arm"
)

// HintKind describes the allocation preference recorded
// for a register.
type HintKind uint8

const (
	HintNone     HintKind = iota // Prefer the hint register itself.
	HintPairEven                 // Prefer the even register of a pair.
	HintPairOdd                  // Prefer the odd register of a pair.
)

func (k HintKind) String() string {
	switch k {
	case HintNone:
		return "none"
	case HintPairEven:
		return "even"
	case HintPairOdd:
		return "odd"
	default:
		return fmt.Sprintf("HintKind(%d)", uint8(k))
	}
}

// Hint is an allocation hint: a preference for a
// register to be allocated in relation to another.
type Hint struct {
	Kind HintKind
	Reg  arm.Reg
}

// RegInfo tracks which physical registers a function
// uses, plus the allocation hints for its registers.
type RegInfo struct {
	used        [arm.NumRegs]bool
	hints       map[arm.Reg]Hint
	nextVirtual int
}

// NewRegInfo returns an empty register table.
func NewRegInfo() *RegInfo {
	return &RegInfo{hints: make(map[arm.Reg]Hint)}
}

// SetPhysRegUsed records that the function uses reg.
func (ri *RegInfo) SetPhysRegUsed(reg arm.Reg) {
	if !reg.IsPhysical() {
		panic(fmt.Sprintf("cannot mark non-physical register %s used", reg))
	}

	ri.used[reg] = true
}

// IsPhysRegUsed returns whether the function uses reg.
func (ri *RegInfo) IsPhysRegUsed(reg arm.Reg) bool {
	return reg.IsPhysical() && ri.used[reg]
}

// UsedRegs returns the used physical registers in
// register order.
func (ri *RegInfo) UsedRegs() []arm.Reg {
	var out []arm.Reg
	for reg := arm.R0; reg < arm.NumRegs; reg++ {
		if ri.used[reg] {
			out = append(out, reg)
		}
	}

	return out
}

// NewVirtual returns a fresh virtual register.
func (ri *RegInfo) NewVirtual() arm.Reg {
	reg := arm.Virtual(ri.nextVirtual)
	ri.nextVirtual++

	return reg
}

// Hint returns the allocation hint for reg. Registers
// with no hint have the zero Hint.
func (ri *RegInfo) Hint(reg arm.Reg) Hint {
	return ri.hints[reg]
}

// SetHint records an allocation hint for reg.
func (ri *RegInfo) SetHint(reg arm.Reg, kind HintKind, target arm.Reg) {
	if kind == HintNone && target == arm.NoReg {
		delete(ri.hints, reg)
		return
	}

	ri.hints[reg] = Hint{Kind: kind, Reg: target}
}

// Hinted returns the registers that have hints, in
// register order.
func (ri *RegInfo) Hinted() []arm.Reg {
	out := make([]arm.Reg, 0, len(ri.hints))
	for reg := range ri.hints {
		out = append(out, reg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
