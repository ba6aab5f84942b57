// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package arm

import (
	"fmt"
	"strings"
)

// Class is a register class: a set of registers that
// are interchangeable for the purposes of register
// allocation.
type Class uint8

const (
	ClassNone Class = iota
	GPR             // All core registers.
	TGPR            // The low core registers, r0-r7.
	SPR             // Single-precision VFP registers.
	DPR             // Double-precision VFP registers.

	numClasses
)

type classMask uint8

func (c Class) mask() classMask { return 1 << c }

type classInfo struct {
	name    string
	size    int   // Spill size in bytes.
	align   int   // Spill alignment in bytes.
	members []Reg // Every register in the class.
	order   []Reg // Default allocation order.
}

var classes [numClasses]classInfo

func initClasses() {
	classes[GPR] = classInfo{
		name:    "GPR",
		size:    4,
		align:   4,
		members: []Reg{R0, R1, R2, R3, R4, R5, R6, R7, R8, R9, R10, R11, R12, SP, LR, PC},
		// Caller-saved registers first, so
		// that fewer callee-saved registers
		// need to be preserved.
		order: []Reg{R0, R1, R2, R3, R12, LR, R4, R5, R6, R7, R8, R9, R10, R11},
	}

	classes[TGPR] = classInfo{
		name:    "tGPR",
		size:    4,
		align:   4,
		members: []Reg{R0, R1, R2, R3, R4, R5, R6, R7},
		order:   []Reg{R0, R1, R2, R3, R4, R5, R6, R7},
	}

	spr := make([]Reg, 0, 32)
	for r := S0; r <= S31; r++ {
		spr = append(spr, r)
	}

	classes[SPR] = classInfo{
		name:    "SPR",
		size:    4,
		align:   4,
		members: spr,
		order:   spr,
	}

	dpr := make([]Reg, 0, 32)
	for r := D0; r <= D31; r++ {
		dpr = append(dpr, r)
	}

	// Prefer the caller-saved registers.
	dprOrder := make([]Reg, 0, 32)
	dprOrder = append(dprOrder, D0, D1, D2, D3, D4, D5, D6, D7)
	for r := D16; r <= D31; r++ {
		dprOrder = append(dprOrder, r)
	}
	dprOrder = append(dprOrder, D8, D9, D10, D11, D12, D13, D14, D15)

	classes[DPR] = classInfo{
		name:    "DPR",
		size:    8,
		align:   8,
		members: dpr,
		order:   dprOrder,
	}

	for c := GPR; c < numClasses; c++ {
		for _, r := range classes[c].members {
			regClasses[r] |= c.mask()
		}
	}
}

func (c Class) info() *classInfo {
	if c == ClassNone || c >= numClasses {
		panic(fmt.Sprintf("invalid register class %d", c))
	}

	return &classes[c]
}

func (c Class) String() string {
	if c == ClassNone || c >= numClasses {
		return fmt.Sprintf("Class(%d)", uint8(c))
	}

	return classes[c].name
}

// ClassByName returns the register class with the given
// name, ignoring case.
func ClassByName(name string) (Class, bool) {
	for c := GPR; c < numClasses; c++ {
		if strings.EqualFold(classes[c].name, name) {
			return c, true
		}
	}

	return ClassNone, false
}

// Size returns the number of bytes needed to spill a
// register of the class.
func (c Class) Size() int { return c.info().size }

// Alignment returns the alignment of a spill slot for
// a register of the class.
func (c Class) Alignment() int { return c.info().align }

// Members returns every register in the class. The
// result must not be modified.
func (c Class) Members() []Reg { return c.info().members }

// Order returns the class's default allocation order,
// before any reserved registers are removed. The
// result must not be modified.
func (c Class) Order() []Reg { return c.info().order }

// Contains returns whether r is a member of c.
func (c Class) Contains(r Reg) bool {
	if !r.IsPhysical() || c == ClassNone || c >= numClasses {
		return false
	}

	return regClasses[r]&c.mask() != 0
}

// ClassOf returns the smallest class containing r.
func ClassOf(r Reg) Class {
	switch r.Kind() {
	case KindGPR:
		if r.IsLow() {
			return TGPR
		}

		return GPR
	case KindSPR:
		return SPR
	case KindDPR:
		return DPR
	}

	return ClassNone
}
