// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
)

// trace writes a line to the trace writer, if there is
// one.
func (t *Target) trace(fn *mir.Function, format string, v ...any) {
	if t.Config.Trace == nil {
		return
	}

	fmt.Fprintf(t.Config.Trace, "%s: %s\n", fn.Name, fmt.Sprintf(format, v...))
}

// Lower performs frame lowering on fn, which must have
// been through register allocation. Once Lower returns
// successfully, no frame indices remain in fn.
func (t *Target) Lower(fn *mir.Function) error {
	if t.ABI.Thumb1Only {
		return fmt.Errorf("%s: %w: Thumb-1 functions", fn.Name, ErrUnsupportedMode)
	}

	if fn.Entry() == nil {
		return fmt.Errorf("%s: function has no blocks", fn.Name)
	}

	fn.MarkUsedRegs()

	// Decide once whether there is a frame
	// pointer. Everything that follows sees
	// the same decision.
	fn.Layout.HasFramePointer = t.NeedsFramePointer(fn)
	fn.Layout.FramePointer = t.framePtr
	t.trace(fn, "frame pointer: %v", fn.Layout.HasFramePointer)

	t.FinalizeSpillSet(fn, t.Config.Scavenging)
	t.trace(fn, "spilled: %v, stack frame: %v", fn.Layout.Spilled(), fn.Layout.HasStackFrame)

	t.AssignSpillSlots(fn)
	t.CalculateFrameObjectOffsets(fn)
	t.trace(fn, "stack size: %d", fn.Frame.StackSize)

	t.InsertSpillCode(fn)
	if _, err := t.ComputeLayout(fn); err != nil {
		return err
	}

	t.trace(fn, "areas: gpr1 %d@%d, gpr2 %d@%d, dpr %d@%d", fn.Layout.GPR1Size, fn.Layout.GPR1Offset,
		fn.Layout.GPR2Size, fn.Layout.GPR2Offset, fn.Layout.DPRSize, fn.Layout.DPROffset)

	if err := t.EmitPrologue(fn); err != nil {
		return err
	}

	for _, b := range fn.Blocks {
		if !b.IsReturn() {
			continue
		}

		if err := t.EmitEpilogue(fn, b); err != nil {
			return err
		}
	}

	if err := t.replaceFrameIndices(fn); err != nil {
		return err
	}

	t.trace(fn, "lowered: %d bytes of code", fn.Size())

	return t.Verify(fn)
}

// replaceFrameIndices eliminates every frame index and
// call frame marker in fn, tracking the stack pointer
// adjustment made by call frame setup through each
// block.
func (t *Target) replaceFrameIndices(fn *mir.Function) error {
	var scav Scavenger
	if t.Config.Scavenging {
		scav = t.NewScavenger()
	}

	for _, b := range fn.Blocks {
		spAdj := 0
		for i := 0; i < len(b.Insts); i++ {
			inst := b.Insts[i]
			desc := inst.Desc()
			if desc.Is(arm.FlagCallFrameSetup) || desc.Is(arm.FlagCallFrameDestroy) {
				before := len(b.Insts)
				delta, err := t.EliminateCallFrame(fn, b, i)
				if err != nil {
					return err
				}

				spAdj += delta

				// Skip any stack pointer updates
				// that replaced the marker.
				i += len(b.Insts) - before
				continue
			}

			if inst.FrameIndexOperand() < 0 {
				continue
			}

			if err := t.EliminateFrameIndex(fn, b, i, spAdj, scav); err != nil {
				return err
			}

			i = indexOf(b, inst)
		}
	}

	return nil
}

// LowerAll lowers each of fns, using up to workers
// goroutines. The functions must be distinct. If any
// function cannot be lowered, the first error is
// returned and no more functions are started.
func (t *Target) LowerAll(ctx context.Context, fns []*mir.Function, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, fn := range fns {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return t.Lower(fn)
		})
	}

	return g.Wait()
}

// Verify checks that fn contains no frame indices or call
// frame markers, and that every immediate offset fits
// its field.
func (t *Target) Verify(fn *mir.Function) error {
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			desc := inst.Desc()
			if desc.Is(arm.FlagCallFrameSetup) || desc.Is(arm.FlagCallFrameDestroy) {
				return instError(fn, b, inst, ErrUnsupportedMode, "call frame marker remains")
			}

			if i := inst.FrameIndexOperand(); i >= 0 {
				return instError(fn, b, inst, ErrNoFrameIndex, "frame index %d remains", inst.Operands[i].Index())
			}

			if err := verifyImmediate(inst); err != nil {
				return instError(fn, b, inst, ErrUnencodable, "%v", err)
			}
		}
	}

	return nil
}

// verifyImmediate checks the immediate offset of inst,
// if it has one.
func verifyImmediate(inst *mir.Inst) error {
	desc := inst.Desc()
	if desc.Is(arm.FlagInlineAsm) {
		return nil
	}

	family := desc.Family
	field := family.Field()
	if field.ImmOperand < 0 || field.Kind == arm.FieldNone {
		return nil
	}

	// The immediate's position is relative to
	// the base register, which is always the
	// second operand.
	idx := 1 + field.ImmOperand
	if idx >= len(inst.Operands) || inst.Operands[idx].Kind != mir.OperandImm {
		return nil
	}

	v := inst.Operands[idx].Imm
	switch field.Kind {
	case arm.FieldRotated:
		if v < 0 || v > math.MaxUint32 || !arm.IsSOImm(uint32(v)) {
			return fmt.Errorf("immediate %d is not a modified immediate", v)
		}
	case arm.FieldUnsigned:
		if v < 0 || v > field.Mask() {
			return fmt.Errorf("immediate %d does not fit in %d bits", v, field.Bits)
		}
	case arm.FieldSignMagnitude:
		limit := field.Mask() | field.DirectionBit()
		if family == arm.Mode2 {
			if v < 0 || arm.AM2Shift(v) > arm.RRX {
				return fmt.Errorf("invalid addressing mode 2 operand %#x", v)
			}
		} else if v < 0 || v > limit {
			return fmt.Errorf("immediate %d does not fit in %d bits", v, field.Bits)
		}
	}

	return nil
}
