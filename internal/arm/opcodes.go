// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package arm

import (
	"fmt"
	"strings"
)

// Cond is an ARM condition code, used to predicate
// instructions.
type Cond uint8

const (
	EQ Cond = iota
	NE
	HS
	LO
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
)

var condNames = [...]string{
	EQ: "eq",
	NE: "ne",
	HS: "hs",
	LO: "lo",
	MI: "mi",
	PL: "pl",
	VS: "vs",
	VC: "vc",
	HI: "hi",
	LS: "ls",
	GE: "ge",
	LT: "lt",
	GT: "gt",
	LE: "le",
	AL: "al",
}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}

	return fmt.Sprintf("Cond(%d)", uint8(c))
}

// CondByName returns the condition code with the
// given name.
func CondByName(name string) (Cond, bool) {
	name = strings.ToLower(name)
	for c, s := range condNames {
		if s == name {
			return Cond(c), true
		}
	}

	// Common aliases.
	switch name {
	case "cs":
		return HS, true
	case "cc":
		return LO, true
	}

	return 0, false
}

// Family is an addressing-mode family. The family of an
// instruction determines how a memory offset is encoded
// in its operands.
type Family uint8

const (
	FamilyNone Family = iota
	Mode1             // Data-processing modified immediate.
	Mode2             // Word and unsigned byte load/store.
	Mode3             // Halfword, signed byte and doubleword load/store.
	Mode5             // VFP load/store.
	T2i12             // Thumb-2 positive 12-bit offset.
	T2i8              // Thumb-2 8-bit offset.
	T2so              // Thumb-2 shifted register offset.
	T1s               // Thumb-1 SP-relative.
)

var familyNames = [...]string{
	FamilyNone: "none",
	Mode1:      "mode1",
	Mode2:      "mode2",
	Mode3:      "mode3",
	Mode5:      "mode5",
	T2i12:      "t2i12",
	T2i8:       "t2i8",
	T2so:       "t2so",
	T1s:        "t1s",
}

func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}

	return fmt.Sprintf("Family(%d)", uint8(f))
}

// Field describes how an immediate offset is
// represented in an addressing mode.
type Field uint8

const (
	FieldNone          Field = iota // No immediate.
	FieldUnsigned                   // Non-negative offsets only.
	FieldSignMagnitude              // Magnitude plus a direction bit.
	FieldRotated                    // Modified immediate.
)

// ImmediateField describes the immediate offset of an
// addressing mode family.
type ImmediateField struct {
	Family Family
	Kind   Field
	Bits   int // Width of the magnitude.
	Scale  int // Offsets are encoded divided by Scale.

	// The position of the immediate operand,
	// relative to the frame index (or base
	// register) operand.
	ImmOperand int
}

// Mask returns the largest encodable magnitude, before
// scaling.
func (f ImmediateField) Mask() int64 { return 1<<f.Bits - 1 }

// MaxOffset returns the largest offset magnitude that
// can be encoded directly.
func (f ImmediateField) MaxOffset() int64 {
	if f.Kind == FieldRotated {
		return 0xff << 24
	}

	return f.Mask() * int64(f.Scale)
}

// DirectionBit returns the bit set in the immediate
// operand to subtract the offset, or 0 if the field
// cannot encode negative offsets.
func (f ImmediateField) DirectionBit() int64 {
	if f.Kind != FieldSignMagnitude {
		return 0
	}

	return 1 << f.Bits
}

// Decode returns the signed byte offset encoded in the
// immediate operand v.
func (f ImmediateField) Decode(v int64) int64 {
	switch f.Kind {
	case FieldNone:
		return 0
	case FieldUnsigned, FieldRotated:
		return v * int64(f.Scale)
	}

	off := (v & f.Mask()) * int64(f.Scale)
	if v&f.DirectionBit() != 0 {
		off = -off
	}

	return off
}

// Fits returns whether the byte offset off can be
// encoded in the field without any help.
func (f ImmediateField) Fits(off int64) bool {
	switch f.Kind {
	case FieldNone:
		return off == 0
	case FieldRotated:
		if off < 0 {
			off = -off
		}

		return off <= 0xffffffff && IsSOImm(uint32(off))
	case FieldUnsigned:
		if off < 0 {
			return false
		}
	}

	if off < 0 {
		off = -off
	}

	return off%int64(f.Scale) == 0 && off <= f.MaxOffset()
}

var fields = [...]ImmediateField{
	FamilyNone: {Family: FamilyNone, Kind: FieldNone, Scale: 1, ImmOperand: -1},
	Mode1:      {Family: Mode1, Kind: FieldRotated, Bits: 12, Scale: 1, ImmOperand: 1},
	Mode2:      {Family: Mode2, Kind: FieldSignMagnitude, Bits: 12, Scale: 1, ImmOperand: 2},
	Mode3:      {Family: Mode3, Kind: FieldSignMagnitude, Bits: 8, Scale: 1, ImmOperand: 2},
	Mode5:      {Family: Mode5, Kind: FieldSignMagnitude, Bits: 8, Scale: 4, ImmOperand: 1},
	T2i12:      {Family: T2i12, Kind: FieldUnsigned, Bits: 12, Scale: 1, ImmOperand: 1},
	T2i8:       {Family: T2i8, Kind: FieldSignMagnitude, Bits: 8, Scale: 1, ImmOperand: 1},
	T2so:       {Family: T2so, Kind: FieldNone, Scale: 1, ImmOperand: 2},
	T1s:        {Family: T1s, Kind: FieldUnsigned, Bits: 8, Scale: 4, ImmOperand: 1},
}

// Field returns the immediate field of the family.
func (f Family) Field() ImmediateField {
	if int(f) >= len(fields) {
		panic(fmt.Sprintf("invalid addressing mode family %d", f))
	}

	return fields[f]
}

// Opcode identifies a machine instruction.
type Opcode uint16

const (
	OpInvalid Opcode = iota

	// ARM.
	ADDri
	SUBri
	ADDrr
	MOVr
	MOVi
	LDR
	STR
	LDRB
	STRB
	LDRH
	STRH
	LDRSH
	LDRcp
	FLDD
	FSTD
	FLDS
	FSTS
	BL
	BX_RET

	// Thumb-2.
	T2ADDri
	T2SUBri
	T2MOVr
	T2LDRi12
	T2STRi12
	T2LDRi8
	T2STRi8
	T2LDRs
	T2STRs
	T2BL

	// Thumb-1.
	TMOVr
	TLDRspi
	TSTRspi
	TBL
	TBX_RET

	// Pseudo-instructions.
	ADJCALLSTACKDOWN
	ADJCALLSTACKUP
	INLINEASM

	numOpcodes
)

// Flags describes properties of an instruction.
type Flags uint16

const (
	FlagReturn Flags = 1 << iota
	FlagCall
	FlagCallFrameSetup
	FlagCallFrameDestroy
	FlagInlineAsm
	FlagLoad
	FlagStore
	FlagVariadic
)

// Desc describes an opcode.
type Desc struct {
	Name   string
	Family Family
	Size   int // Encoded size in bytes. Zero for pseudo-instructions.
	Flags  Flags

	// The number of leading operands
	// that are register definitions.
	NumDefs int

	// The number of fixed operands.
	NumOperands int

	// The index of the condition code
	// operand, or -1 if the instruction
	// is not predicable. The predicate
	// register follows the condition.
	Pred int
}

// Is returns whether all of the given flags are set.
func (d *Desc) Is(f Flags) bool { return d.Flags&f == f }

// Clobbers lists the registers written by calls, in
// addition to any explicit definitions.
var Clobbers = []Reg{R0, R1, R2, R3, R12, LR}

var descs = [numOpcodes]Desc{
	ADDri:  {Name: "ADDri", Family: Mode1, Size: 4, NumDefs: 1, NumOperands: 5, Pred: 3},
	SUBri:  {Name: "SUBri", Family: Mode1, Size: 4, NumDefs: 1, NumOperands: 5, Pred: 3},
	ADDrr:  {Name: "ADDrr", Size: 4, NumDefs: 1, NumOperands: 5, Pred: 3},
	MOVr:   {Name: "MOVr", Size: 4, NumDefs: 1, NumOperands: 4, Pred: 2},
	MOVi:   {Name: "MOVi", Size: 4, NumDefs: 1, NumOperands: 4, Pred: 2},
	LDR:    {Name: "LDR", Family: Mode2, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 6, Pred: 4},
	STR:    {Name: "STR", Family: Mode2, Size: 4, Flags: FlagStore, NumOperands: 6, Pred: 4},
	LDRB:   {Name: "LDRB", Family: Mode2, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 6, Pred: 4},
	STRB:   {Name: "STRB", Family: Mode2, Size: 4, Flags: FlagStore, NumOperands: 6, Pred: 4},
	LDRH:   {Name: "LDRH", Family: Mode3, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 6, Pred: 4},
	STRH:   {Name: "STRH", Family: Mode3, Size: 4, Flags: FlagStore, NumOperands: 6, Pred: 4},
	LDRSH:  {Name: "LDRSH", Family: Mode3, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 6, Pred: 4},
	LDRcp:  {Name: "LDRcp", Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 6, Pred: 4},
	FLDD:   {Name: "FLDD", Family: Mode5, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 5, Pred: 3},
	FSTD:   {Name: "FSTD", Family: Mode5, Size: 4, Flags: FlagStore, NumOperands: 5, Pred: 3},
	FLDS:   {Name: "FLDS", Family: Mode5, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 5, Pred: 3},
	FSTS:   {Name: "FSTS", Family: Mode5, Size: 4, Flags: FlagStore, NumOperands: 5, Pred: 3},
	BL:     {Name: "BL", Size: 4, Flags: FlagCall | FlagVariadic, NumOperands: 1, Pred: -1},
	BX_RET: {Name: "BX_RET", Size: 4, Flags: FlagReturn, NumOperands: 2, Pred: 0},

	T2ADDri:  {Name: "t2ADDri", Family: Mode1, Size: 4, NumDefs: 1, NumOperands: 5, Pred: 3},
	T2SUBri:  {Name: "t2SUBri", Family: Mode1, Size: 4, NumDefs: 1, NumOperands: 5, Pred: 3},
	T2MOVr:   {Name: "t2MOVr", Size: 4, NumDefs: 1, NumOperands: 4, Pred: 2},
	T2LDRi12: {Name: "t2LDRi12", Family: T2i12, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 5, Pred: 3},
	T2STRi12: {Name: "t2STRi12", Family: T2i12, Size: 4, Flags: FlagStore, NumOperands: 5, Pred: 3},
	T2LDRi8:  {Name: "t2LDRi8", Family: T2i8, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 5, Pred: 3},
	T2STRi8:  {Name: "t2STRi8", Family: T2i8, Size: 4, Flags: FlagStore, NumOperands: 5, Pred: 3},
	T2LDRs:   {Name: "t2LDRs", Family: T2so, Size: 4, Flags: FlagLoad, NumDefs: 1, NumOperands: 6, Pred: 4},
	T2STRs:   {Name: "t2STRs", Family: T2so, Size: 4, Flags: FlagStore, NumOperands: 6, Pred: 4},
	T2BL:     {Name: "t2BL", Size: 4, Flags: FlagCall | FlagVariadic, NumOperands: 1, Pred: -1},

	TMOVr:   {Name: "tMOVr", Size: 2, NumDefs: 1, NumOperands: 4, Pred: 2},
	TLDRspi: {Name: "tLDRspi", Family: T1s, Size: 2, Flags: FlagLoad, NumDefs: 1, NumOperands: 5, Pred: 3},
	TSTRspi: {Name: "tSTRspi", Family: T1s, Size: 2, Flags: FlagStore, NumOperands: 5, Pred: 3},
	TBL:     {Name: "tBL", Size: 4, Flags: FlagCall | FlagVariadic, NumOperands: 1, Pred: -1},
	TBX_RET: {Name: "tBX_RET", Size: 2, Flags: FlagReturn, NumOperands: 2, Pred: 0},

	ADJCALLSTACKDOWN: {Name: "ADJCALLSTACKDOWN", Flags: FlagCallFrameSetup, NumOperands: 3, Pred: 1},
	ADJCALLSTACKUP:   {Name: "ADJCALLSTACKUP", Flags: FlagCallFrameDestroy, NumOperands: 4, Pred: 2},
	INLINEASM:        {Name: "INLINEASM", Family: Mode2, Flags: FlagInlineAsm | FlagVariadic, Pred: -1},
}

var opcodesByName map[string]Opcode

func init() {
	opcodesByName = make(map[string]Opcode, numOpcodes)
	for op := OpInvalid + 1; op < numOpcodes; op++ {
		name := descs[op].Name
		if name == "" {
			panic(fmt.Sprintf("opcode %d has no descriptor", op))
		}

		opcodesByName[strings.ToLower(name)] = op
	}
}

// Desc returns the opcode's descriptor.
func (op Opcode) Desc() *Desc {
	if op == OpInvalid || op >= numOpcodes {
		panic(fmt.Sprintf("invalid opcode %d", op))
	}

	return &descs[op]
}

func (op Opcode) String() string {
	if op == OpInvalid || op >= numOpcodes {
		return fmt.Sprintf("Opcode(%d)", uint16(op))
	}

	return descs[op].Name
}

// OpcodeByName returns the opcode with the given name.
// Names are case-insensitive.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodesByName[strings.ToLower(name)]
	return op, ok
}
