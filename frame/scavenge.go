// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
)

// Scavenger finds scratch registers during frame index
// elimination.
type Scavenger interface {
	// FindUnused returns a register in class that is
	// not referenced by the instruction at index idx in
	// b and whose value is dead at that instruction, or
	// NoReg if there is none. Callee-saved registers are
	// only returned if allowSpilledCS is set and fn
	// saves the register in its prologue.
	FindUnused(fn *mir.Function, b *mir.Block, idx int, class arm.Class, allowSpilledCS bool) arm.Reg

	// Scavenge frees a register in class for use by
	// the instruction at index idx in b, by saving its
	// value before the instruction. The value must be
	// restored by calling Release on the result once
	// the instruction has been rewritten.
	Scavenge(fn *mir.Function, b *mir.Block, idx int, class arm.Class, spAdj int) (*Borrow, error)
}

// Borrow is a register lent out by a Scavenger for the
// span of a single instruction.
type Borrow struct {
	Reg arm.Reg

	// The instructions that save and restore
	// the register's value, using the frame's
	// scavenging slot. Reload is inserted by
	// Release.
	Spill  *mir.Inst
	Reload *mir.Inst

	// The stack pointer adjustment at the
	// instruction.
	SPAdj int

	block    *mir.Block
	inst     *mir.Inst
	released bool
}

// Release restores the borrowed register's value, by
// inserting the reload after the instruction it was
// borrowed for. Calling Release more than once has no
// further effect.
func (b *Borrow) Release() {
	if b.released {
		return
	}

	b.released = true
	idx := indexOf(b.block, b.inst)
	if idx < 0 {
		panic("scavenged register's instruction has been removed")
	}

	b.block.Insert(idx+1, b.Reload)
}

// RegScavenger is the default Scavenger. It decides
// whether a register is dead by scanning forward from
// the instruction, following successor blocks.
type RegScavenger struct {
	target *Target
}

var _ Scavenger = (*RegScavenger)(nil)

// NewScavenger returns a scavenger for functions lowered
// by t.
func (t *Target) NewScavenger() *RegScavenger {
	return &RegScavenger{target: t}
}

// candidates returns the registers in class that could
// ever be used as scratch registers at inst, with r12
// first.
func (s *RegScavenger) candidates(fn *mir.Function, inst *mir.Inst, class arm.Class) []arm.Reg {
	t := s.target
	order := class.Order()
	regs := make([]arm.Reg, 0, len(order)+1)
	if class.Contains(arm.R12) {
		regs = append(regs, arm.R12)
	}

	for _, reg := range order {
		if reg != arm.R12 {
			regs = append(regs, reg)
		}
	}

	out := regs[:0]
	for _, reg := range regs {
		if reg.IsSpecial() || reg == t.framePtr || t.IsReserved(fn, reg) || inst.Refs(reg) {
			continue
		}

		out = append(out, reg)
	}

	return out
}

func (s *RegScavenger) FindUnused(fn *mir.Function, b *mir.Block, idx int, class arm.Class, allowSpilledCS bool) arm.Reg {
	inst := b.Insts[idx]
	calleeSaved := make(map[arm.Reg]bool)
	for _, cs := range s.target.CalleeSaved(fn) {
		calleeSaved[cs.Reg] = true
	}

	for _, reg := range s.candidates(fn, inst, class) {
		if calleeSaved[reg] && (!allowSpilledCS || !fn.Layout.IsSpilled(reg)) {
			continue
		}

		if !liveAfter(b, idx, reg) {
			return reg
		}
	}

	return arm.NoReg
}

func (s *RegScavenger) Scavenge(fn *mir.Function, b *mir.Block, idx int, class arm.Class, spAdj int) (*Borrow, error) {
	inst := b.Insts[idx]
	slot := fn.Frame.ScavengingIndex
	if _, ok := fn.Frame.Object(slot); !ok {
		return nil, instError(fn, b, inst, ErrNoScratch, "no scavenging slot")
	}

	candidates := s.candidates(fn, inst, class)
	if len(candidates) == 0 {
		return nil, instError(fn, b, inst, ErrNoScratch, "no register in %s can be scavenged", class)
	}

	// Take the register whose value is needed
	// furthest away.
	best, bestDist := candidates[0], -1
	for _, reg := range candidates {
		dist := nextRead(b, idx, reg)
		if dist < 0 {
			best = reg
			break
		}

		if dist > bestDist {
			best, bestDist = reg, dist
		}
	}

	borrow := &Borrow{
		Reg:    best,
		Spill:  s.target.storeToSlot(best, slot),
		Reload: s.target.loadFromSlot(best, slot),
		SPAdj:  spAdj,
		block:  b,
		inst:   inst,
	}

	b.Insert(idx, borrow.Spill)

	return borrow, nil
}

// nextRead returns the number of instructions after the
// instruction at idx in b before reg is next read, or -1
// if it is not read again in b.
func nextRead(b *mir.Block, idx int, reg arm.Reg) int {
	for i := idx + 1; i < len(b.Insts); i++ {
		if b.Insts[i].Reads(reg) {
			return i - idx
		}
	}

	return -1
}

// liveAfter returns whether the value in reg may be read
// after the instruction at idx in b.
func liveAfter(b *mir.Block, idx int, reg arm.Reg) bool {
	if live, ok := scanLiveness(b.Insts[idx+1:], reg); ok {
		return live
	}

	if b.IsReturn() {
		return false
	}

	seen := map[*mir.Block]bool{b: true}
	return liveOut(b, reg, seen)
}

// liveOut returns whether reg is live on entry to any
// successor of b. A block that neither returns nor has
// successors is assumed to use every register.
func liveOut(b *mir.Block, reg arm.Reg, seen map[*mir.Block]bool) bool {
	if len(b.Successors) == 0 {
		return !b.IsReturn()
	}

	for _, succ := range b.Successors {
		if seen[succ] {
			continue
		}

		seen[succ] = true
		if live, ok := scanLiveness(succ.Insts, reg); ok {
			if live {
				return true
			}

			continue
		}

		if liveOut(succ, reg, seen) {
			return true
		}
	}

	return false
}

// scanLiveness looks for the first instruction in insts
// that reads or fully writes reg. It reports whether
// the register is live at the start of insts, and ok if
// that was decided.
func scanLiveness(insts []*mir.Inst, reg arm.Reg) (live, ok bool) {
	for _, inst := range insts {
		if inst.Reads(reg) {
			return true, true
		}

		// A conditional write may not happen.
		if cc, _ := inst.Predicate(); cc == arm.AL && inst.Writes(reg) {
			return false, true
		}
	}

	return false, false
}
