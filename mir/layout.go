// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package mir

import (
	"fmt"
	"strings"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/sys"
)

// Layout records the frame lowering decisions for a
// function.
//
// From the stack pointer on entry downwards, a frame
// with callee-saved registers consists of:
//
//	integer area 1 (GPR1Size bytes)
//	integer area 2 (GPR2Size bytes)
//	double-precision area (DPRSize bytes)
//	locals, spill slots and outgoing arguments
//
// Area offsets are measured from the stack pointer once
// the whole frame has been allocated, so
// GPR1Offset = GPR2Offset + GPR2Size and
// GPR2Offset = DPROffset + DPRSize.
type Layout struct {
	// Whether the function needs a stack frame
	// beyond its local objects.
	HasStackFrame bool

	// Whether a frame pointer is established.
	// Decided once, before layout.
	HasFramePointer bool
	FramePointer    arm.Reg

	// Whether the link register was spilled only
	// so that far branches can use BL. This is a
	// provisional decision.
	LRSpilledForFarJump bool

	GPR1Size   int
	GPR2Size   int
	DPRSize    int
	GPR1Offset int
	GPR2Offset int
	DPROffset  int

	// The offset of the saved frame pointer's slot
	// from the bottom of the frame, and its frame
	// index.
	FramePtrSpillOffset int
	FramePtrSpillIndex  int

	spilled [arm.NumRegs]bool
	areas   map[int]sys.Area
}

// NewLayout returns an empty layout.
func NewLayout() *Layout {
	return &Layout{
		FramePtrSpillIndex: NoFrameIndex,
		areas:              make(map[int]sys.Area),
	}
}

// SetSpilled records that the callee-saved register reg
// is spilled.
func (l *Layout) SetSpilled(reg arm.Reg) {
	if !reg.IsPhysical() {
		panic(fmt.Sprintf("cannot spill non-physical register %s", reg))
	}

	l.spilled[reg] = true
}

// IsSpilled returns whether reg is a spilled
// callee-saved register.
func (l *Layout) IsSpilled(reg arm.Reg) bool {
	return reg.IsPhysical() && l.spilled[reg]
}

// Spilled returns the spilled callee-saved registers in
// register order.
func (l *Layout) Spilled() []arm.Reg {
	var out []arm.Reg
	for reg := arm.R0; reg < arm.NumRegs; reg++ {
		if l.spilled[reg] {
			out = append(out, reg)
		}
	}

	return out
}

// SetArea records that the frame object with the given
// index lies in a callee-saved area.
func (l *Layout) SetArea(index int, area sys.Area) {
	l.areas[index] = area
}

// Area returns the callee-saved area containing the
// frame object with the given index, or AreaNone.
func (l *Layout) Area(index int) sys.Area {
	return l.areas[index]
}

// AreaOffset returns the offset of the given area.
func (l *Layout) AreaOffset(area sys.Area) int {
	switch area {
	case sys.AreaGPR1:
		return l.GPR1Offset
	case sys.AreaGPR2:
		return l.GPR2Offset
	case sys.AreaDPR:
		return l.DPROffset
	}

	panic(fmt.Sprintf("invalid area %s", area))
}

// AreaSize returns the size of the given area.
func (l *Layout) AreaSize(area sys.Area) int {
	switch area {
	case sys.AreaGPR1:
		return l.GPR1Size
	case sys.AreaGPR2:
		return l.GPR2Size
	case sys.AreaDPR:
		return l.DPRSize
	}

	panic(fmt.Sprintf("invalid area %s", area))
}

// CalleeSavedSize returns the total size of the
// callee-saved areas.
func (l *Layout) CalleeSavedSize() int {
	return l.GPR1Size + l.GPR2Size + l.DPRSize
}

// Debug returns a description of the layout.
func (l *Layout) Debug() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "layout: stack frame %v", l.HasStackFrame)
	if l.HasFramePointer {
		fmt.Fprintf(&buf, ", frame pointer %s (spilled at %d)", l.FramePointer, l.FramePtrSpillOffset)
	}
	if l.LRSpilledForFarJump {
		buf.WriteString(", lr spilled for far jump")
	}
	buf.WriteByte('\n')

	for _, area := range []sys.Area{sys.AreaGPR1, sys.AreaGPR2, sys.AreaDPR} {
		size := l.AreaSize(area)
		if size == 0 {
			continue
		}

		fmt.Fprintf(&buf, "\t%s: offset %d, size %d\n", area, l.AreaOffset(area), size)
	}

	if spilled := l.Spilled(); len(spilled) > 0 {
		names := make([]string, len(spilled))
		for i, reg := range spilled {
			names[i] = reg.String()
		}

		fmt.Fprintf(&buf, "\tspilled: %s\n", strings.Join(names, ", "))
	}

	return buf.String()
}
