// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"fmt"

	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

// ComputeLayout groups fn's callee-saved spill slots into
// areas and records the size and offset of each area in
// fn.Layout, along with the offset of the saved frame
// pointer. The frame object offsets must already have
// been calculated.
func (t *Target) ComputeLayout(fn *mir.Function) (*mir.Layout, error) {
	layout := fn.Layout
	if !layout.HasStackFrame {
		return layout, nil
	}

	layout.GPR1Size = 0
	layout.GPR2Size = 0
	layout.DPRSize = 0
	layout.FramePtrSpillIndex = mir.NoFrameIndex
	for _, cs := range fn.Frame.CalleeSaved {
		switch cs.Area {
		case sys.AreaGPR1:
			layout.GPR1Size += 4
		case sys.AreaGPR2:
			layout.GPR2Size += 4
		case sys.AreaDPR:
			layout.DPRSize += 8
		default:
			return nil, fmt.Errorf("%s: callee-saved register %s has no spill area", fn.Name, cs.Reg)
		}

		if cs.Reg == t.framePtr {
			layout.FramePtrSpillIndex = cs.FrameIndex
		}

		layout.SetArea(cs.FrameIndex, cs.Area)
	}

	stackSize := fn.Frame.StackSize
	if total := layout.CalleeSavedSize(); total > stackSize {
		return nil, fmt.Errorf("%s: callee-saved areas (%d bytes) do not fit in the %d-byte frame", fn.Name, total, stackSize)
	}

	layout.DPROffset = stackSize - layout.CalleeSavedSize()
	layout.GPR2Offset = layout.DPROffset + layout.DPRSize
	layout.GPR1Offset = layout.GPR2Offset + layout.GPR2Size

	if layout.FramePtrSpillIndex != mir.NoFrameIndex {
		layout.FramePtrSpillOffset = fn.Frame.ObjectOffset(layout.FramePtrSpillIndex) + stackSize
	} else if t.ABI.Darwin || t.hasFP(fn) {
		return nil, fmt.Errorf("%s: frame pointer %s is not spilled", fn.Name, t.framePtr)
	}

	return layout, nil
}
