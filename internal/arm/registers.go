// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package arm describes the 32-bit ARM architecture's
// registers, addressing modes, and the subset of its
// instructions that frame lowering needs to reason
// about.
//
// The tables in this package are immutable once the
// package has been initialised, so they can be shared
// freely between goroutines.
package arm

import (
	"fmt"
	"strings"
)

// Reg identifies a physical register. Registers are
// numbered densely from 1 so that the tables below can
// be indexed by register. The zero value is NoReg.
//
// Virtual registers, which are only meaningful before
// register allocation, share the same numbering space,
// starting at FirstVirtual.
type Reg uint16

// NoReg represents the absence of a register.
const NoReg Reg = 0

// FirstVirtual is the first virtual register number.
const FirstVirtual Reg = 1 << 15

const (
	// General-purpose registers.
	R0 Reg = iota + 1
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC

	// Single-precision VFP registers.
	S0
	S1
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	S12
	S13
	S14
	S15
	S16
	S17
	S18
	S19
	S20
	S21
	S22
	S23
	S24
	S25
	S26
	S27
	S28
	S29
	S30
	S31

	// Double-precision VFP registers.
	D0
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	D8
	D9
	D10
	D11
	D12
	D13
	D14
	D15
	D16
	D17
	D18
	D19
	D20
	D21
	D22
	D23
	D24
	D25
	D26
	D27
	D28
	D29
	D30
	D31

	// NumRegs is one more than the largest
	// physical register number.
	NumRegs
)

// Virtual returns the n'th virtual register.
func Virtual(n int) Reg {
	if n < 0 || n >= int(^uint16(0)-uint16(FirstVirtual)) {
		panic(fmt.Sprintf("virtual register %d out of range", n))
	}

	return FirstVirtual + Reg(n)
}

// IsPhysical returns whether r is a physical register.
func (r Reg) IsPhysical() bool { return r != NoReg && r < NumRegs }

// IsVirtual returns whether r is a virtual register.
func (r Reg) IsVirtual() bool { return r >= FirstVirtual }

func (r Reg) String() string {
	switch {
	case r == NoReg:
		return "noreg"
	case r.IsVirtual():
		return fmt.Sprintf("%%%d", r-FirstVirtual)
	case r < NumRegs:
		return regNames[r]
	default:
		return fmt.Sprintf("Reg(%d)", uint16(r))
	}
}

// UpperName returns the register's name in upper case.
func (r Reg) UpperName() string { return strings.ToUpper(r.String()) }

// Kind describes the register file a physical register
// belongs to.
type Kind uint8

const (
	KindNone Kind = iota
	KindGPR       // Core integer registers.
	KindSPR       // Single-precision VFP registers.
	KindDPR       // Double-precision VFP registers.
)

// Structure-of-arrays register tables, indexed by Reg.
var (
	regNames    [NumRegs]string
	regKinds    [NumRegs]Kind
	regNumbers  [NumRegs]uint8
	regDWARF    [NumRegs]int
	regAliases  [NumRegs][]Reg
	regClasses  [NumRegs]classMask
	regsByNames = make(map[string]Reg, NumRegs+4)
)

func init() {
	for r := R0; r <= PC; r++ {
		n := uint8(r - R0)
		regNames[r] = fmt.Sprintf("r%d", n)
		regKinds[r] = KindGPR
		regNumbers[r] = n
		regDWARF[r] = int(n)
	}

	regNames[SP] = "sp"
	regNames[LR] = "lr"
	regNames[PC] = "pc"

	for r := S0; r <= S31; r++ {
		n := uint8(r - S0)
		regNames[r] = fmt.Sprintf("s%d", n)
		regKinds[r] = KindSPR
		regNumbers[r] = n
		regDWARF[r] = 64 + int(n)
	}

	for r := D0; r <= D31; r++ {
		n := uint8(r - D0)
		regNames[r] = fmt.Sprintf("d%d", n)
		regKinds[r] = KindDPR
		regNumbers[r] = n
		regDWARF[r] = 256 + int(n)

		// The lower 16 double-precision
		// registers overlap pairs of
		// single-precision registers.
		if n < 16 {
			lo := S0 + Reg(2*n)
			hi := lo + 1
			regAliases[r] = []Reg{lo, hi}
			regAliases[lo] = []Reg{r}
			regAliases[hi] = []Reg{r}
		}
	}

	for r := R0; r < NumRegs; r++ {
		regsByNames[regNames[r]] = r
	}

	// Alternative spellings.
	regsByNames["r13"] = SP
	regsByNames["r14"] = LR
	regsByNames["r15"] = PC
	regsByNames["ip"] = R12
	regsByNames["fp"] = R11

	initClasses()
}

// RegisterByName returns the register with the given
// name. Names are case-insensitive and include the
// common aliases ip, fp, r13, r14, and r15.
func RegisterByName(name string) (Reg, bool) {
	r, ok := regsByNames[strings.ToLower(name)]
	return r, ok
}

// RegisterByDWARF returns the register with the given
// DWARF register number.
func RegisterByDWARF(num int) (Reg, bool) {
	for r := R0; r < NumRegs; r++ {
		if regDWARF[r] == num {
			return r, true
		}
	}

	return NoReg, false
}

// Kind returns the register file containing r.
func (r Reg) Kind() Kind {
	if !r.IsPhysical() {
		return KindNone
	}

	return regKinds[r]
}

// Encoding returns the register's number in
// instruction encodings, plus whether it is a
// single-precision VFP register. Single-precision
// registers are encoded with a 5-bit number that is
// split differently from the 4-bit core and
// double-precision numbers.
func (r Reg) Encoding() (num uint8, single bool) {
	if !r.IsPhysical() {
		panic(fmt.Sprintf("register %s has no encoding", r))
	}

	return regNumbers[r], regKinds[r] == KindSPR
}

// DWARF returns the register's DWARF register number.
func (r Reg) DWARF() int {
	if !r.IsPhysical() {
		panic(fmt.Sprintf("register %s has no DWARF number", r))
	}

	return regDWARF[r]
}

// Aliases returns the registers that overlap r, not
// including r itself. The result must not be modified.
func (r Reg) Aliases() []Reg {
	if !r.IsPhysical() {
		return nil
	}

	return regAliases[r]
}

// Overlaps returns whether writing a would change the
// contents of b.
func Overlaps(a, b Reg) bool {
	if a == b {
		return true
	}

	for _, alias := range a.Aliases() {
		if alias == b {
			return true
		}
	}

	return false
}

// IsLow returns whether r is one of the low
// general-purpose registers (r0-r7), which can be
// addressed by all 16-bit Thumb instructions.
func (r Reg) IsLow() bool { return R0 <= r && r <= R7 }

// IsSpecial returns whether r is the stack pointer or
// the program counter. These are never allocatable.
func (r Reg) IsSpecial() bool { return r == SP || r == PC }
