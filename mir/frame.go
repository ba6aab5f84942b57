// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package mir

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/btree"

	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/sys"
)

// NoFrameIndex is used where no frame index applies.
const NoFrameIndex = math.MinInt32

// FrameObject is an abstract stack slot.
//
// Objects with a non-negative index are allocated by
// frame lowering. Fixed objects, with negative indices,
// already exist when the function is entered, such as
// arguments passed on the stack.
type FrameObject struct {
	Index     int
	Size      int
	Align     int
	Fixed     bool
	Dead      bool // Dead objects take up no space.
	SpillSlot bool

	// The object's offset, relative to the stack
	// pointer on entry to the function after any
	// variadic register save area has been pushed.
	// Objects allocated by frame lowering have
	// negative offsets.
	Offset int
}

func (o *FrameObject) String() string {
	var flags []string
	if o.Fixed {
		flags = append(flags, "fixed")
	}
	if o.SpillSlot {
		flags = append(flags, "spill")
	}
	if o.Dead {
		flags = append(flags, "dead")
	}

	s := fmt.Sprintf("fi:%d size=%d align=%d offset=%d", o.Index, o.Size, o.Align, o.Offset)
	if len(flags) > 0 {
		s += " (" + strings.Join(flags, ", ") + ")"
	}

	return s
}

// CalleeSavedInfo records the stack slot that holds a
// spilled callee-saved register.
type CalleeSavedInfo struct {
	Reg        arm.Reg
	FrameIndex int
	Area       sys.Area
}

// FrameInfo is the table of a function's frame objects,
// plus the properties of the function that shape its
// stack frame. Frame objects are never deleted.
type FrameInfo struct {
	objects []*FrameObject // Indexed by frame index.
	fixed   []*FrameObject // Indexed by -1-(frame index).

	// The size of the stack frame in bytes, not
	// including any variadic register save area.
	// This is decided during layout.
	StackSize int

	// The adjustment made to frame offsets when
	// describing them in debug information.
	OffsetAdjustment int

	// The size of the largest outgoing argument
	// area of any call in the function.
	MaxCallFrameSize int

	// The size of the area used to save variadic
	// argument registers, which is pushed before
	// anything else.
	VarArgsSaveSize int

	// Whether the function allocates stack space
	// dynamically.
	HasVarSizedObjects bool

	// Whether the function takes the address of
	// its own stack frame.
	FrameAddressTaken bool

	// Whether the function makes calls.
	HasCalls bool

	// The spilled callee-saved registers, in
	// spill order, once assigned.
	CalleeSaved []CalleeSavedInfo

	// The frame index reserved for register
	// scavenging, or NoFrameIndex.
	ScavengingIndex int
}

// NewFrameInfo returns an empty frame object table.
func NewFrameInfo() *FrameInfo {
	return &FrameInfo{ScavengingIndex: NoFrameIndex}
}

func (f *FrameInfo) newObject(size, align int, spill bool) int {
	if size < 0 || align <= 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("invalid frame object size %d, alignment %d", size, align))
	}

	obj := &FrameObject{
		Index:     len(f.objects),
		Size:      size,
		Align:     align,
		SpillSlot: spill,
	}

	f.objects = append(f.objects, obj)

	return obj.Index
}

// CreateStackObject allocates a new local stack object
// and returns its frame index.
func (f *FrameInfo) CreateStackObject(size, align int) int {
	return f.newObject(size, align, false)
}

// CreateSpillSlot allocates a new stack object used to
// spill a register and returns its frame index.
func (f *FrameInfo) CreateSpillSlot(size, align int) int {
	return f.newObject(size, align, true)
}

// CreateFixedObject records an object at a fixed offset
// from the incoming stack pointer and returns its
// (negative) frame index.
func (f *FrameInfo) CreateFixedObject(size, offset int) int {
	obj := &FrameObject{
		Index:  -1 - len(f.fixed),
		Size:   size,
		Align:  4,
		Fixed:  true,
		Offset: offset,
	}

	f.fixed = append(f.fixed, obj)

	return obj.Index
}

// Object returns the frame object with the given index.
func (f *FrameInfo) Object(index int) (*FrameObject, bool) {
	if index >= 0 {
		if index >= len(f.objects) {
			return nil, false
		}

		return f.objects[index], true
	}

	i := -1 - index
	if i >= len(f.fixed) {
		return nil, false
	}

	return f.fixed[i], true
}

// ObjectOffset returns the offset of the frame object
// with the given index. It panics if the index does not
// exist.
func (f *FrameInfo) ObjectOffset(index int) int {
	obj, ok := f.Object(index)
	if !ok {
		panic(fmt.Sprintf("invalid frame index %d", index))
	}

	return obj.Offset
}

// Objects returns the non-fixed frame objects, in index
// order.
func (f *FrameInfo) Objects() []*FrameObject { return f.objects }

// FixedObjects returns the fixed frame objects, from
// index -1 downwards.
func (f *FrameInfo) FixedObjects() []*FrameObject { return f.fixed }

// IndexBegin returns the smallest frame index.
func (f *FrameInfo) IndexBegin() int { return -len(f.fixed) }

// IndexEnd returns one more than the largest frame
// index.
func (f *FrameInfo) IndexEnd() int { return len(f.objects) }

// byOffset orders frame objects by offset, then index.
func byOffset(a, b *FrameObject) bool {
	if a.Offset != b.Offset {
		return a.Offset < b.Offset
	}

	return a.Index < b.Index
}

// ByOffset returns the live frame objects, including the
// fixed objects, ordered from the lowest address to the
// highest.
func (f *FrameInfo) ByOffset() []*FrameObject {
	tree := btree.NewG[*FrameObject](8, byOffset)
	for _, obj := range f.fixed {
		tree.ReplaceOrInsert(obj)
	}

	for _, obj := range f.objects {
		if !obj.Dead {
			tree.ReplaceOrInsert(obj)
		}
	}

	out := make([]*FrameObject, 0, tree.Len())
	tree.Ascend(func(obj *FrameObject) bool {
		out = append(out, obj)
		return true
	})

	return out
}

// Debug returns a description of the frame objects.
func (f *FrameInfo) Debug() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "frame: stack size %d", f.StackSize)
	if f.MaxCallFrameSize != 0 {
		fmt.Fprintf(&buf, ", max call frame %d", f.MaxCallFrameSize)
	}
	if f.VarArgsSaveSize != 0 {
		fmt.Fprintf(&buf, ", varargs %d", f.VarArgsSaveSize)
	}
	if f.HasVarSizedObjects {
		buf.WriteString(", var-sized")
	}
	if f.FrameAddressTaken {
		buf.WriteString(", frame address taken")
	}
	buf.WriteByte('\n')

	for _, obj := range f.ByOffset() {
		fmt.Fprintf(&buf, "\t%s", obj)
		if obj.Index == f.ScavengingIndex {
			buf.WriteString(" scavenging")
		}

		for _, cs := range f.CalleeSaved {
			if cs.FrameIndex == obj.Index {
				fmt.Fprintf(&buf, " saves %s", cs.Reg)
			}
		}

		buf.WriteByte('\n')
	}

	return buf.String()
}
