// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package mir implements a machine-level intermediate
// representation (IR) for a single ARM function, after
// instruction selection and register allocation.
//
// Instructions refer to stack slots symbolically, using
// frame indices, until frame lowering replaces each
// frame index with a base register and an offset.
package mir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"firefly-os.dev/tools/armframe/internal/arm"
)

// ID uniquely identifies a block within a single
// function.
type ID int

// idAllocator returns monotonically increasing positive ID
// values.
type idAllocator struct {
	last ID
}

func (a *idAllocator) Next() ID {
	next := a.last + 1
	if next >= math.MaxInt32 {
		panic("function has too many blocks")
	}

	a.last = next
	return next
}

// OperandKind describes the kind of value an operand
// holds.
type OperandKind uint8

const (
	OperandInvalid OperandKind = iota
	OperandReg
	OperandImm
	OperandFrameIndex
	OperandConstPool
	OperandCond
)

// Operand is a single operand to a machine instruction.
type Operand struct {
	Kind OperandKind

	// The register, for register operands.
	// Operands that name no register hold
	// arm.NoReg.
	Reg arm.Reg

	// Whether the register is written by the
	// instruction, rather than read.
	Def bool

	// Whether this is the last read of the
	// register's value.
	Kill bool

	// The immediate value, frame index, constant
	// pool index or condition code.
	Imm int64
}

// Reg returns a register operand.
func Reg(r arm.Reg) Operand { return Operand{Kind: OperandReg, Reg: r} }

// Imm returns an immediate operand.
func Imm(v int64) Operand { return Operand{Kind: OperandImm, Imm: v} }

// FI returns a frame index operand.
func FI(index int) Operand { return Operand{Kind: OperandFrameIndex, Imm: int64(index)} }

// CP returns a constant pool index operand.
func CP(index int) Operand { return Operand{Kind: OperandConstPool, Imm: int64(index)} }

// Cond returns a condition code operand.
func Cond(c arm.Cond) Operand { return Operand{Kind: OperandCond, Imm: int64(c)} }

// Pred returns the pair of operands that predicate an
// instruction on c, using predicate register r.
func Pred(c arm.Cond, r arm.Reg) []Operand {
	return []Operand{Cond(c), Reg(r)}
}

// IsReg returns whether the operand names a register.
func (o *Operand) IsReg() bool { return o.Kind == OperandReg && o.Reg != arm.NoReg }

// IsFI returns whether the operand is a frame index.
func (o *Operand) IsFI() bool { return o.Kind == OperandFrameIndex }

// Index returns the frame index or constant pool index
// of the operand.
func (o *Operand) Index() int { return int(o.Imm) }

// ChangeToRegister replaces the operand with a use of r.
func (o *Operand) ChangeToRegister(r arm.Reg, kill bool) {
	*o = Operand{Kind: OperandReg, Reg: r, Kill: kill}
}

// ChangeToImmediate replaces the operand with the
// immediate v.
func (o *Operand) ChangeToImmediate(v int64) {
	*o = Operand{Kind: OperandImm, Imm: v}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		return o.Reg.String()
	case OperandImm:
		return "#" + strconv.FormatInt(o.Imm, 10)
	case OperandFrameIndex:
		return "fi:" + strconv.FormatInt(o.Imm, 10)
	case OperandConstPool:
		return "cp:" + strconv.FormatInt(o.Imm, 10)
	case OperandCond:
		return "cc:" + arm.Cond(o.Imm).String()
	default:
		return fmt.Sprintf("Operand(%d)", o.Kind)
	}
}

// ParseOperand parses the textual form of an operand,
// as produced by Operand.String.
func ParseOperand(s string) (Operand, error) {
	switch {
	case s == "":
		return Operand{}, fmt.Errorf("empty operand")
	case s == "noreg":
		return Reg(arm.NoReg), nil
	case s[0] == '#':
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return Operand{}, fmt.Errorf("invalid immediate %q: %v", s, err)
		}

		return Imm(v), nil
	case strings.HasPrefix(s, "fi:"):
		v, err := strconv.Atoi(s[3:])
		if err != nil {
			return Operand{}, fmt.Errorf("invalid frame index %q: %v", s, err)
		}

		return FI(v), nil
	case strings.HasPrefix(s, "cp:"):
		v, err := strconv.Atoi(s[3:])
		if err != nil || v < 0 {
			return Operand{}, fmt.Errorf("invalid constant pool index %q", s)
		}

		return CP(v), nil
	case strings.HasPrefix(s, "cc:"):
		c, ok := arm.CondByName(s[3:])
		if !ok {
			return Operand{}, fmt.Errorf("invalid condition code %q", s)
		}

		return Cond(c), nil
	case s[0] == '%':
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 0 {
			return Operand{}, fmt.Errorf("invalid virtual register %q", s)
		}

		return Reg(arm.Virtual(n)), nil
	}

	r, ok := arm.RegisterByName(s)
	if !ok {
		return Operand{}, fmt.Errorf("invalid operand %q", s)
	}

	return Reg(r), nil
}

// Inst is a single machine instruction.
type Inst struct {
	Op       arm.Opcode
	Operands []Operand
}

// NewInst returns an instruction with the given operands.
// The leading register operands are marked as definitions,
// according to the opcode's descriptor.
func NewInst(op arm.Opcode, operands ...Operand) *Inst {
	inst := &Inst{Op: op, Operands: operands}
	defs := op.Desc().NumDefs
	for i := 0; i < defs && i < len(operands); i++ {
		if operands[i].Kind == OperandReg {
			inst.Operands[i].Def = true
		}
	}

	return inst
}

// Desc returns the instruction's descriptor.
func (i *Inst) Desc() *arm.Desc { return i.Op.Desc() }

// FrameIndexOperand returns the position of the first
// frame index operand, or -1 if there is none.
func (i *Inst) FrameIndexOperand() int {
	for j := range i.Operands {
		if i.Operands[j].IsFI() {
			return j
		}
	}

	return -1
}

// Predicate returns the instruction's condition code and
// predicate register. Instructions that cannot be
// predicated are always executed.
func (i *Inst) Predicate() (arm.Cond, arm.Reg) {
	idx := i.Desc().Pred
	if idx < 0 || idx+1 >= len(i.Operands) {
		return arm.AL, arm.NoReg
	}

	return arm.Cond(i.Operands[idx].Imm), i.Operands[idx+1].Reg
}

// IsReturn returns whether the instruction returns from
// the function.
func (i *Inst) IsReturn() bool { return i.Desc().Is(arm.FlagReturn) }

// Returns read the link register and the result
// registers.
var returnUses = []arm.Reg{arm.R0, arm.R1, arm.LR}

// Reads returns whether the instruction reads r, or a
// register that overlaps r.
func (i *Inst) Reads(r arm.Reg) bool {
	asm := i.Desc().Is(arm.FlagInlineAsm)
	for _, op := range i.Operands {
		if op.IsReg() && (!op.Def || asm) && arm.Overlaps(op.Reg, r) {
			return true
		}
	}

	if i.IsReturn() {
		for _, use := range returnUses {
			if use == r {
				return true
			}
		}
	}

	return false
}

// Writes returns whether the instruction writes r, or a
// register that overlaps r.
func (i *Inst) Writes(r arm.Reg) bool {
	asm := i.Desc().Is(arm.FlagInlineAsm)
	for _, op := range i.Operands {
		if op.IsReg() && (op.Def || asm) && arm.Overlaps(op.Reg, r) {
			return true
		}
	}

	if i.Desc().Is(arm.FlagCall) {
		for _, clobber := range arm.Clobbers {
			if arm.Overlaps(clobber, r) {
				return true
			}
		}
	}

	return false
}

// Refs returns whether the instruction reads or writes
// r.
func (i *Inst) Refs(r arm.Reg) bool { return i.Reads(r) || i.Writes(r) }

// ParseInst parses the textual form of an instruction,
// as produced by Inst.String.
func ParseInst(s string) (*Inst, error) {
	s = strings.TrimSpace(s)
	name, rest, _ := strings.Cut(s, " ")
	op, ok := arm.OpcodeByName(name)
	if !ok {
		return nil, fmt.Errorf("invalid opcode %q", name)
	}

	var operands []Operand
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, text := range strings.Split(rest, ",") {
			operand, err := ParseOperand(strings.TrimSpace(text))
			if err != nil {
				return nil, fmt.Errorf("invalid %s instruction: %v", op, err)
			}

			operands = append(operands, operand)
		}
	}

	desc := op.Desc()
	if !desc.Is(arm.FlagVariadic) && len(operands) != desc.NumOperands {
		return nil, fmt.Errorf("invalid %s instruction: got %d operands, want %d", op, len(operands), desc.NumOperands)
	}

	return NewInst(op, operands...), nil
}

func (i *Inst) String() string {
	var buf strings.Builder
	buf.WriteString(i.Op.String())
	for j, op := range i.Operands {
		if j == 0 {
			buf.WriteByte(' ')
		} else {
			buf.WriteString(", ")
		}

		buf.WriteString(op.String())
	}

	return buf.String()
}

// Block represents a single basic block within a
// function's control flow graph.
type Block struct {
	// The Block's unique identifier within its parent
	// function.
	ID ID

	// The function to which this block belongs.
	Function *Function

	// The instructions in the block, in order.
	Insts []*Inst

	// Subsequent blocks in the control flow graph, if any.
	Successors []*Block
}

// String returns the block's ID with a 'b' prefix.
func (b *Block) String() string {
	return fmt.Sprintf("b%d", b.ID)
}

// Append adds instructions to the end of the block.
func (b *Block) Append(insts ...*Inst) {
	b.Insts = append(b.Insts, insts...)
}

// Insert adds instructions to the block, before the
// instruction at index idx. If idx is len(b.Insts),
// the instructions are appended.
func (b *Block) Insert(idx int, insts ...*Inst) {
	if idx < 0 || idx > len(b.Insts) {
		panic(fmt.Sprintf("invalid insertion point %d in %s with %d instructions", idx, b, len(b.Insts)))
	}

	if len(insts) == 0 {
		return
	}

	b.Insts = append(b.Insts, insts...)
	copy(b.Insts[idx+len(insts):], b.Insts[idx:])
	copy(b.Insts[idx:], insts)
}

// Remove deletes the instruction at index idx.
func (b *Block) Remove(idx int) {
	b.Insts = append(b.Insts[:idx], b.Insts[idx+1:]...)
}

// IsReturn returns whether the block ends by returning
// from the function.
func (b *Block) IsReturn() bool {
	return len(b.Insts) > 0 && b.Insts[len(b.Insts)-1].IsReturn()
}

// Function represents a single function being lowered.
//
// Each function is lowered separately.
type Function struct {
	Name   string   // The function name.
	Blocks []*Block // The basic blocks, in layout order. The first is the entry block.

	Frame  *FrameInfo // The stack frame's objects.
	Regs   *RegInfo   // Register usage and allocation hints.
	Layout *Layout    // The frame layout, once decided.

	// Constant pool entries, which can be
	// loaded with LDRcp.
	ConstantPool []int32

	// ID allocator.
	blocks idAllocator
}

// NewFunction returns an empty function with the given
// name.
func NewFunction(name string) *Function {
	return &Function{
		Name:   name,
		Frame:  NewFrameInfo(),
		Regs:   NewRegInfo(),
		Layout: NewLayout(),
	}
}

// NewBlock creates a new basic block, assigns it a
// unique identifier within this function, appends it
// to f.Blocks, and returns it.
func (f *Function) NewBlock() *Block {
	b := &Block{
		ID:       f.blocks.Next(),
		Function: f,
	}

	f.Blocks = append(f.Blocks, b)

	return b
}

// Entry returns the function's entry block.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}

	return f.Blocks[0]
}

// Size returns the size of the function's code in bytes.
func (f *Function) Size() int {
	size := 0
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			size += inst.Desc().Size
		}
	}

	return size
}

// ConstantPoolIndex returns the index of the constant
// pool entry holding v, adding one if necessary.
func (f *Function) ConstantPoolIndex(v int32) int {
	for i, c := range f.ConstantPool {
		if c == v {
			return i
		}
	}

	f.ConstantPool = append(f.ConstantPool, v)

	return len(f.ConstantPool) - 1
}

// MarkUsedRegs records every physical register that an
// instruction in the function reads or writes as used,
// including the registers clobbered by calls. The stack
// pointer and program counter are ignored.
func (f *Function) MarkUsedRegs() {
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			for _, op := range inst.Operands {
				if op.IsReg() && op.Reg.IsPhysical() && !op.Reg.IsSpecial() {
					f.Regs.SetPhysRegUsed(op.Reg)
				}
			}

			if inst.Desc().Is(arm.FlagCall) {
				f.Frame.HasCalls = true
				for _, reg := range arm.Clobbers {
					f.Regs.SetPhysRegUsed(reg)
				}
			}
		}
	}
}

// Print returns a textual listing of f's instructions.
func (f *Function) Print() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s:\n", f.Name)
	for _, b := range f.Blocks {
		fmt.Fprintf(&buf, "%s:\n", b)
		for _, inst := range b.Insts {
			fmt.Fprintf(&buf, "\t%s\n", inst)
		}
	}

	return buf.String()
}

// Debug returns a detailed description of f, including
// its frame objects and layout.
func (f *Function) Debug() string {
	var buf strings.Builder
	buf.WriteString(f.Print())
	buf.WriteString(f.Frame.Debug())
	buf.WriteString(f.Layout.Debug())
	if len(f.ConstantPool) > 0 {
		buf.WriteString("constant pool:\n")
		for i, c := range f.ConstantPool {
			fmt.Fprintf(&buf, "\tcp:%d\t%#x\n", i, uint32(c))
		}
	}

	return buf.String()
}
