// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package arm

import (
	"math/bits"
)

// # Modified immediates
//
// ARM data-processing instructions encode their
// immediate operand as an 8-bit value, rotated right
// by an even number of bits. The helpers below find
// the rotation for a value and split values that
// cannot be encoded into encodable chunks.

// SOImmRotate returns the rotate-right amount that
// would bring the lowest useful 8-bit chunk of imm into
// the immediate field. If imm cannot be encoded as a
// single modified immediate, the rotation returned
// still covers a useful chunk of its low bits.
func SOImmRotate(imm uint32) uint32 {
	// 8-bit immediates need no rotation.
	if imm&^0xff == 0 {
		return 0
	}

	// The rotation must be even, so
	// 0x200 is rotated by 8, not 9.
	tz := uint32(bits.TrailingZeros32(imm))
	rot := tz &^ 1

	if bits.RotateLeft32(imm, -int(rot))&^0xff == 0 {
		// The hardware rotates right.
		return (32 - rot) & 31
	}

	// For values like 0xf000000f, skip
	// the first run of ones and try
	// again.
	if imm&1 != 0 {
		ones := uint32(bits.TrailingZeros32(^imm))
		if ones != 32 {
			tz2 := uint32(bits.TrailingZeros32(imm &^ (1<<ones - 1)))
			rot2 := tz2 &^ 1
			if rot2 != 32 && bits.RotateLeft32(imm, -int(rot2))&^0xff == 0 {
				return (32 - rot2) & 31
			}
		}
	}

	return (32 - rot) & 31
}

// SOImmVal returns the 12-bit encoding of imm as a
// modified immediate, or -1 if it cannot be encoded.
func SOImmVal(imm uint32) int {
	if imm&^0xff == 0 {
		return int(imm)
	}

	rot := SOImmRotate(imm)
	if bits.RotateLeft32(^uint32(0xff), -int(rot))&imm != 0 {
		return -1
	}

	return int(bits.RotateLeft32(imm, int(rot)) | (rot>>1)<<8)
}

// IsSOImm returns whether imm can be encoded as a
// modified immediate.
func IsSOImm(imm uint32) bool { return SOImmVal(imm) != -1 }

// SOImmChunk returns the part of imm that is covered
// by the modified immediate chosen by SOImmRotate. The
// result is always encodable and non-zero for non-zero
// imm.
func SOImmChunk(imm uint32) uint32 {
	return imm & bits.RotateLeft32(0xff, -int(SOImmRotate(imm)))
}

// AddrOpc indicates whether an addressing mode offset
// is added to or subtracted from the base register.
type AddrOpc uint8

const (
	Add AddrOpc = iota
	Sub
)

func (op AddrOpc) String() string {
	if op == Sub {
		return "-"
	}

	return "+"
}

// ShiftOpc is the shift applied to an addressing mode 2
// register offset.
type ShiftOpc uint8

const (
	NoShift ShiftOpc = iota
	ASR
	LSL
	LSR
	ROR
	RRX
)

// AM2Opc packs an addressing mode 2 offset: a 12-bit
// immediate, the add/sub direction and a shift.
func AM2Opc(op AddrOpc, imm12 uint32, shift ShiftOpc) int64 {
	v := int64(imm12 & 0xfff)
	if op == Sub {
		v |= 1 << 12
	}

	return v | int64(shift)<<13
}

// AM2Offset returns the 12-bit immediate of an
// addressing mode 2 operand.
func AM2Offset(v int64) uint32 { return uint32(v) & 0xfff }

// AM2Op returns the direction of an addressing mode 2
// operand.
func AM2Op(v int64) AddrOpc { return AddrOpc(v >> 12 & 1) }

// AM2Shift returns the shift of an addressing mode 2
// operand.
func AM2Shift(v int64) ShiftOpc { return ShiftOpc(v >> 13) }

// AM3Opc packs an addressing mode 3 offset: an 8-bit
// immediate and the add/sub direction.
func AM3Opc(op AddrOpc, imm8 uint32) int64 {
	v := int64(imm8 & 0xff)
	if op == Sub {
		v |= 1 << 8
	}

	return v
}

// AM3Offset returns the 8-bit immediate of an
// addressing mode 3 operand.
func AM3Offset(v int64) uint32 { return uint32(v) & 0xff }

// AM3Op returns the direction of an addressing mode 3
// operand.
func AM3Op(v int64) AddrOpc { return AddrOpc(v >> 8 & 1) }

// AM5Opc packs an addressing mode 5 offset: an 8-bit
// word offset and the add/sub direction.
func AM5Opc(op AddrOpc, imm8 uint32) int64 { return AM3Opc(op, imm8) }

// AM5Offset returns the 8-bit word offset of an
// addressing mode 5 operand.
func AM5Offset(v int64) uint32 { return AM3Offset(v) }

// AM5Op returns the direction of an addressing mode 5
// operand.
func AM5Op(v int64) AddrOpc { return AM3Op(v) }
