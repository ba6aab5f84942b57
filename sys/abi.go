// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package sys

import (
	"fmt"
	"math/bits"
	"sort"

	"firefly-os.dev/tools/armframe/internal/arm"
)

// Area identifies one of the callee-saved spill areas
// of a stack frame. From the entry stack pointer
// downwards, the areas are laid out in the order
// AreaGPR1, AreaGPR2, AreaDPR.
type Area uint8

const (
	AreaNone Area = iota
	AreaGPR1      // Integer area 1.
	AreaGPR2      // Integer area 2 (Darwin only).
	AreaDPR       // Double-precision area.
)

func (a Area) String() string {
	switch a {
	case AreaGPR1:
		return "gpr1"
	case AreaGPR2:
		return "gpr2"
	case AreaDPR:
		return "dpr"
	default:
		return fmt.Sprintf("Area(%d)", uint8(a))
	}
}

// CalleeSaved describes a register that a function must
// preserve, and the spill area that holds it.
type CalleeSaved struct {
	Reg  arm.Reg
	Area Area
}

// An ABI describes the variant of the ARM procedure call
// standard a function is compiled for. The ABI is fixed
// for the whole compilation of a function.
type ABI struct {
	Name string

	// Whether the target follows Apple's variant
	// of the procedure call standard, where the
	// frame pointer is always r7 and must point
	// at the saved frame pointer.
	Darwin bool

	// Whether the target uses ELF objects. This
	// affects the debug offset adjustment made
	// when a frame pointer is established.
	ELF bool

	// Whether functions use the Thumb instruction
	// set.
	Thumb bool

	// Whether only the 16-bit Thumb-1 instructions
	// are available.
	Thumb1Only bool

	// Whether r9 is reserved as a platform
	// register.
	R9Reserved bool

	// The alignment of the stack at a function
	// call in bytes.
	StackAlignment int

	// The callee-saved registers, in spill order.
	// If nil, the default list for the variant
	// is used.
	CalleeSavedRegs []CalleeSaved
}

// FramePointer returns the register used as the frame
// pointer.
func (abi *ABI) FramePointer() arm.Reg {
	if abi.Darwin || abi.Thumb {
		return arm.R7
	}

	return arm.R11
}

// Area returns the callee-saved area that would hold
// reg under this ABI. This is the grouping used to
// recognise runs of callee-saved spills and reloads.
func (abi *ABI) Area(reg arm.Reg) Area {
	switch reg {
	case arm.R4, arm.R5, arm.R6, arm.R7, arm.LR:
		return AreaGPR1
	case arm.R8, arm.R9, arm.R10, arm.R11:
		if abi.Darwin {
			return AreaGPR2
		}

		return AreaGPR1
	case arm.D8, arm.D9, arm.D10, arm.D11, arm.D12, arm.D13, arm.D14, arm.D15:
		return AreaDPR
	}

	return AreaNone
}

var (
	defaultCalleeSaved = []CalleeSaved{
		{arm.LR, AreaGPR1}, {arm.R11, AreaGPR1}, {arm.R10, AreaGPR1}, {arm.R9, AreaGPR1}, {arm.R8, AreaGPR1},
		{arm.R7, AreaGPR1}, {arm.R6, AreaGPR1}, {arm.R5, AreaGPR1}, {arm.R4, AreaGPR1},
		{arm.D15, AreaDPR}, {arm.D14, AreaDPR}, {arm.D13, AreaDPR}, {arm.D12, AreaDPR},
		{arm.D11, AreaDPR}, {arm.D10, AreaDPR}, {arm.D9, AreaDPR}, {arm.D8, AreaDPR},
	}

	// R9 is not callee-saved on Darwin.
	darwinCalleeSaved = []CalleeSaved{
		{arm.LR, AreaGPR1}, {arm.R7, AreaGPR1}, {arm.R6, AreaGPR1}, {arm.R5, AreaGPR1}, {arm.R4, AreaGPR1},
		{arm.R11, AreaGPR2}, {arm.R10, AreaGPR2}, {arm.R8, AreaGPR2},
		{arm.D15, AreaDPR}, {arm.D14, AreaDPR}, {arm.D13, AreaDPR}, {arm.D12, AreaDPR},
		{arm.D11, AreaDPR}, {arm.D10, AreaDPR}, {arm.D9, AreaDPR}, {arm.D8, AreaDPR},
	}
)

// CalleeSaved returns the callee-saved registers, in the
// order in which they are spilled. The result must not
// be modified.
func (abi *ABI) CalleeSaved() []CalleeSaved {
	if abi.CalleeSavedRegs != nil {
		return abi.CalleeSavedRegs
	}

	if abi.Darwin {
		return darwinCalleeSaved
	}

	return defaultCalleeSaved
}

// Predefined ABIs.
var (
	AAPCS = &ABI{
		Name:           "aapcs",
		ELF:            true,
		StackAlignment: 8,
	}

	AAPCSThumb2 = &ABI{
		Name:           "aapcs-thumb2",
		ELF:            true,
		Thumb:          true,
		StackAlignment: 8,
	}

	AAPCSThumb1 = &ABI{
		Name:           "aapcs-thumb1",
		ELF:            true,
		Thumb:          true,
		Thumb1Only:     true,
		StackAlignment: 8,
	}

	Darwin = &ABI{
		Name:           "darwin",
		Darwin:         true,
		R9Reserved:     true,
		StackAlignment: 4,
	}

	DarwinThumb2 = &ABI{
		Name:           "darwin-thumb2",
		Darwin:         true,
		Thumb:          true,
		R9Reserved:     true,
		StackAlignment: 4,
	}

	DarwinThumb1 = &ABI{
		Name:           "darwin-thumb1",
		Darwin:         true,
		Thumb:          true,
		Thumb1Only:     true,
		R9Reserved:     true,
		StackAlignment: 4,
	}
)

// ABIByName maps ABI names to the predefined ABIs.
var ABIByName = map[string]*ABI{
	AAPCS.Name:        AAPCS,
	AAPCSThumb2.Name:  AAPCSThumb2,
	AAPCSThumb1.Name:  AAPCSThumb1,
	Darwin.Name:       Darwin,
	DarwinThumb2.Name: DarwinThumb2,
	DarwinThumb1.Name: DarwinThumb1,
}

// ABINames returns the names of the predefined ABIs, in
// sorted order.
func ABINames() []string {
	names := make([]string, 0, len(ABIByName))
	for name := range ABIByName {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Validate checks that the ABI is
// internally consistent for the given
// architecture.
func (arch *Arch) Validate(abi *ABI) error {
	if abi.StackAlignment < 4 || bits.OnesCount(uint(abi.StackAlignment)) != 1 {
		return fmt.Errorf("invalid stack alignment %d: must be a power of two, at least 4", abi.StackAlignment)
	}

	if abi.Thumb1Only && !abi.Thumb {
		return fmt.Errorf("invalid ABI %s: Thumb-1 only, but not Thumb", abi.Name)
	}

	if abi.Darwin && abi.ELF {
		return fmt.Errorf("invalid ABI %s: Darwin targets do not use ELF", abi.Name)
	}

	list := abi.CalleeSaved()
	if len(list) == 0 {
		return fmt.Errorf("invalid ABI %s: no callee-saved registers", abi.Name)
	}

	// Check that every callee-saved register
	// is a distinct ABI register, in the
	// right area. The areas must also appear
	// in order, so that runs of spills for
	// one area are contiguous.
	seen := make(map[arm.Reg]bool)
	seenLR := false
	var last Area
	for _, cs := range list {
		reg := cs.Reg
		if !arch.IsABIRegister(reg) {
			return fmt.Errorf("invalid callee-saved register %s: not an ABI register for %s", reg, arch.Name)
		}

		if seen[reg] {
			return fmt.Errorf("invalid callee-saved register %s: repeated in callee-saved registers", reg)
		}

		seen[reg] = true
		if reg == arch.LinkRegister {
			seenLR = true
		}

		want := abi.Area(reg)
		if want == AreaNone {
			return fmt.Errorf("invalid callee-saved register %s: not saved by %s", reg, arch.Name)
		}

		if cs.Area != want {
			return fmt.Errorf("invalid callee-saved register %s: in area %s, want %s", reg, cs.Area, want)
		}

		if cs.Area < last {
			return fmt.Errorf("invalid callee-saved register %s: area %s follows area %s", reg, cs.Area, last)
		}

		last = cs.Area
	}

	if !seenLR {
		return fmt.Errorf("invalid ABI %s: link register %s is not callee-saved", abi.Name, arch.LinkRegister)
	}

	return nil
}
