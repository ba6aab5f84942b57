// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package mir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"rsc.io/diff"

	"firefly-os.dev/tools/armframe/internal/arm"
)

func TestParseOperand(t *testing.T) {
	tests := []struct {
		Text string
		Want Operand
	}{
		{"r4", Reg(arm.R4)},
		{"ip", Reg(arm.R12)},
		{"noreg", Reg(arm.NoReg)},
		{"d9", Reg(arm.D9)},
		{"%7", Reg(arm.Virtual(7))},
		{"#12", Imm(12)},
		{"#-4", Imm(-4)},
		{"#0x1000", Imm(4096)},
		{"fi:0", FI(0)},
		{"fi:-2", FI(-2)},
		{"cp:1", CP(1)},
		{"cc:ne", Cond(arm.NE)},
	}

	for _, test := range tests {
		got, err := ParseOperand(test.Text)
		if err != nil {
			t.Errorf("ParseOperand(%q): %v", test.Text, err)
			continue
		}

		if diff := cmp.Diff(test.Want, got); diff != "" {
			t.Errorf("ParseOperand(%q): (-want, +got)\n%s", test.Text, diff)
		}
	}

	for _, bad := range []string{"", "#x", "fi:", "cp:-1", "cc:xx", "r16", "%x"} {
		if _, err := ParseOperand(bad); err == nil {
			t.Errorf("ParseOperand(%q): unexpected success", bad)
		}
	}
}

func TestBlockEditing(t *testing.T) {
	fn := NewFunction("edit")
	b := fn.NewBlock()
	ret := NewInst(arm.BX_RET, Pred(arm.AL, arm.NoReg)...)
	b.Append(ret)

	mov := NewInst(arm.MOVr, Reg(arm.R0), Reg(arm.R1), Cond(arm.AL), Reg(arm.NoReg))
	add := NewInst(arm.ADDri, Reg(arm.R0), Reg(arm.R0), Imm(4), Cond(arm.AL), Reg(arm.NoReg))
	b.Insert(0, mov, add)

	if !mov.Operands[0].Def || mov.Operands[1].Def {
		t.Errorf("NewInst(MOVr): wrong definitions: %+v", mov.Operands)
	}

	want := []*Inst{mov, add, ret}
	if diff := cmp.Diff(want, b.Insts); diff != "" {
		t.Fatalf("Insert(): (-want, +got)\n%s", diff)
	}

	b.Remove(1)
	want = []*Inst{mov, ret}
	if diff := cmp.Diff(want, b.Insts); diff != "" {
		t.Fatalf("Remove(): (-want, +got)\n%s", diff)
	}

	if !b.IsReturn() {
		t.Errorf("IsReturn(): got false")
	}

	if got := fn.Size(); got != 8 {
		t.Errorf("Size(): got %d, want 8", got)
	}

	const listing = `edit:
b1:
	MOVr r0, r1, cc:al, noreg
	BX_RET cc:al, noreg
`
	if got := fn.Print(); got != listing {
		t.Errorf("Print():\n%s", diff.Format(got, listing))
	}
}

func TestInstRegisters(t *testing.T) {
	fld := NewInst(arm.FLDD, Reg(arm.D1), Reg(arm.R4), Imm(0), Cond(arm.AL), Reg(arm.NoReg))
	if !fld.Writes(arm.S3) || !fld.Writes(arm.D1) || fld.Writes(arm.D2) {
		t.Errorf("FLDD d1 writes the wrong registers")
	}

	if !fld.Reads(arm.R4) || fld.Reads(arm.D1) {
		t.Errorf("FLDD d1 reads the wrong registers")
	}

	call := NewInst(arm.BL, Imm(0), Reg(arm.R0))
	if !call.Writes(arm.R12) || !call.Writes(arm.LR) || call.Writes(arm.R4) {
		t.Errorf("BL clobbers the wrong registers")
	}

	if !call.Reads(arm.R0) {
		t.Errorf("BL does not read its argument")
	}

	cc, pred := NewInst(arm.STR, Reg(arm.R1), FI(0), Reg(arm.NoReg), Imm(0), Cond(arm.NE), Reg(arm.R3)).Predicate()
	if cc != arm.NE || pred != arm.R3 {
		t.Errorf("Predicate(): got %s, %s", cc, pred)
	}

	cc, pred = call.Predicate()
	if cc != arm.AL || pred != arm.NoReg {
		t.Errorf("Predicate() of unpredicated call: got %s, %s", cc, pred)
	}
}

func TestFrameInfo(t *testing.T) {
	fi := NewFrameInfo()
	arg := fi.CreateFixedObject(4, 0)
	arg2 := fi.CreateFixedObject(4, 4)
	local := fi.CreateStackObject(16, 8)
	spill := fi.CreateSpillSlot(4, 4)
	dead := fi.CreateStackObject(4, 4)

	if arg != -1 || arg2 != -2 || local != 0 || spill != 1 || dead != 2 {
		t.Fatalf("got indices %d, %d, %d, %d, %d", arg, arg2, local, spill, dead)
	}

	if fi.IndexBegin() != -2 || fi.IndexEnd() != 3 {
		t.Fatalf("got index range [%d, %d)", fi.IndexBegin(), fi.IndexEnd())
	}

	obj, _ := fi.Object(local)
	obj.Offset = -16
	obj, _ = fi.Object(spill)
	obj.Offset = -20
	obj, _ = fi.Object(dead)
	obj.Dead = true

	var got []int
	for _, obj := range fi.ByOffset() {
		got = append(got, obj.Index)
	}

	want := []int{spill, local, arg, arg2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ByOffset(): (-want, +got)\n%s", diff)
	}

	if _, ok := fi.Object(3); ok {
		t.Errorf("Object(3): unexpected success")
	}

	if _, ok := fi.Object(-3); ok {
		t.Errorf("Object(-3): unexpected success")
	}
}

func TestConstantPool(t *testing.T) {
	fn := NewFunction("pool")
	a := fn.ConstantPoolIndex(5000)
	b := fn.ConstantPoolIndex(-1)
	c := fn.ConstantPoolIndex(5000)
	if a != 0 || b != 1 || c != 0 {
		t.Errorf("ConstantPoolIndex: got %d, %d, %d", a, b, c)
	}
}

func TestRegInfo(t *testing.T) {
	ri := NewRegInfo()
	v0 := ri.NewVirtual()
	v1 := ri.NewVirtual()
	ri.SetHint(v0, HintPairEven, v1)
	ri.SetHint(v1, HintPairOdd, v0)
	ri.SetPhysRegUsed(arm.R4)
	ri.SetPhysRegUsed(arm.D8)

	if diff := cmp.Diff([]arm.Reg{arm.R4, arm.D8}, ri.UsedRegs()); diff != "" {
		t.Errorf("UsedRegs(): (-want, +got)\n%s", diff)
	}

	if got := ri.Hint(v0); got != (Hint{Kind: HintPairEven, Reg: v1}) {
		t.Errorf("Hint(%s): got %+v", v0, got)
	}

	ri.SetHint(v1, HintNone, arm.NoReg)
	if diff := cmp.Diff([]arm.Reg{v0}, ri.Hinted()); diff != "" {
		t.Errorf("Hinted(): (-want, +got)\n%s", diff)
	}
}

func TestParseInst(t *testing.T) {
	tests := []string{
		"LDR r0, fi:2, noreg, #0, cc:al, noreg",
		"ADDri r12, sp, #4096, cc:ne, r3",
		"BX_RET cc:al, noreg",
		"BL #0, r0, r1",
		"t2STRi12 r4, fi:0, #8, cc:al, noreg",
	}

	for _, text := range tests {
		inst, err := ParseInst(text)
		if err != nil {
			t.Errorf("ParseInst(%q): %v", text, err)
			continue
		}

		if got := inst.String(); got != text {
			t.Errorf("ParseInst(%q): got %q", text, got)
		}
	}

	inst, err := ParseInst("LDR r0, fi:2, noreg, #0, cc:al, noreg")
	if err != nil {
		t.Fatal(err)
	}

	if !inst.Operands[0].Def || inst.FrameIndexOperand() != 1 {
		t.Errorf("ParseInst(LDR): got operands %+v", inst.Operands)
	}

	for _, bad := range []string{"", "NOP", "LDR r0, fi:0", "MOVr r0, r1, cc:al, r16"} {
		if _, err := ParseInst(bad); err == nil {
			t.Errorf("ParseInst(%q): unexpected success", bad)
		}
	}
}
