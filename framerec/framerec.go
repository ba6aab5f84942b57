// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package framerec encodes and decodes frame records, which
// summarise the stack frame of each lowered function.
//
// A frame record holds enough information to find each
// saved register, given the value of the stack pointer or
// frame pointer in the body of the function. Registers are
// identified by their DWARF numbers, and saved registers are
// located relative to the canonical frame address (CFA),
// which is the value of the stack pointer when the function
// was entered.
//
// # File format
//
// A frame record file consists of a header, a sequence of
// records, and a checksum. All integers are big-endian.
//
//	header:
//		magic    uint32 // "afrm"
//		version  uint8
//		records  uint32 // Number of records.
//
//	record:
//		length   uint24 // Length of the rest of the record.
//		name     uint8 length, then bytes
//		stack    uint32 // Stack size.
//		varargs  uint32 // Variadic register save area size.
//		flags    uint8
//		framereg uint16 // DWARF number.
//		areas    3 x (size uint32, offset uint32)
//		saved    uint16 count, then count x (dwarf uint16, offset int32)
//
//	checksum:
//		sha256   [32]byte // Of everything before the checksum.
package framerec

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/cryptobyte"

	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

const (
	magic   = 0x6166726d // "afrm"
	version = 1

	headerSize = 4 + 1 + 4

	// ChecksumLength is the length in bytes of the
	// checksum at the end of a frame record file.
	ChecksumLength = sha256.Size
)

// Flags describe properties of a stack frame.
type Flags uint8

const (
	FlagStackFrame   Flags = 1 << iota // The function has a stack frame.
	FlagFramePointer                   // The function establishes a frame pointer.
	FlagFarJump                        // The link register was saved for far branches.
	FlagVarSized                       // The function has variable-sized objects.

	flagsMask = FlagStackFrame | FlagFramePointer | FlagFarJump | FlagVarSized
)

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}

	var names []string
	for _, flag := range []struct {
		Flag Flags
		Name string
	}{
		{FlagStackFrame, "frame"},
		{FlagFramePointer, "fp"},
		{FlagFarJump, "farjump"},
		{FlagVarSized, "varsized"},
	} {
		if f&flag.Flag != 0 {
			names = append(names, flag.Name)
		}
	}

	if rest := f &^ flagsMask; rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint8(rest)))
	}

	return strings.Join(names, "|")
}

// Area is the extent of a callee-saved area, measured
// from the stack pointer in the body of the function.
type Area struct {
	Size   uint32
	Offset uint32
}

// SavedReg records where a callee-saved register is
// stored, relative to the CFA.
type SavedReg struct {
	DWARF  uint16
	Offset int32
}

// Reg returns the saved register, or NoReg if its DWARF
// number is unknown.
func (s SavedReg) Reg() arm.Reg {
	reg, _ := arm.RegisterByDWARF(int(s.DWARF))
	return reg
}

// Record describes the stack frame of one function.
type Record struct {
	Name            string
	StackSize       uint32
	VarArgsSaveSize uint32
	Flags           Flags

	// The DWARF number of the register from
	// which frame objects are addressed.
	FrameReg uint16

	GPR1 Area
	GPR2 Area
	DPR  Area

	// The saved registers, in spill order.
	Saved []SavedReg
}

// FromFunction returns the frame record for fn, which must
// have been lowered by target.
func FromFunction(target *frame.Target, fn *mir.Function) (*Record, error) {
	if len(fn.Name) == 0 || len(fn.Name) > 255 {
		return nil, fmt.Errorf("invalid function name %q: must be 1-255 bytes", fn.Name)
	}

	layout := fn.Layout
	rec := &Record{
		Name:            fn.Name,
		StackSize:       uint32(fn.Frame.StackSize),
		VarArgsSaveSize: uint32(fn.Frame.VarArgsSaveSize),
		FrameReg:        uint16(target.FrameRegister(fn).DWARF()),
		GPR1:            Area{Size: uint32(layout.GPR1Size), Offset: uint32(layout.GPR1Offset)},
		GPR2:            Area{Size: uint32(layout.GPR2Size), Offset: uint32(layout.GPR2Offset)},
		DPR:             Area{Size: uint32(layout.DPRSize), Offset: uint32(layout.DPROffset)},
	}

	if layout.HasStackFrame {
		rec.Flags |= FlagStackFrame
	}
	if layout.HasFramePointer {
		rec.Flags |= FlagFramePointer
	}
	if layout.LRSpilledForFarJump {
		rec.Flags |= FlagFarJump
	}
	if fn.Frame.HasVarSizedObjects {
		rec.Flags |= FlagVarSized
	}

	// Object offsets are measured from below
	// the variadic save area.
	rec.Saved = make([]SavedReg, 0, len(fn.Frame.CalleeSaved))
	for _, cs := range fn.Frame.CalleeSaved {
		obj, ok := fn.Frame.Object(cs.FrameIndex)
		if !ok {
			return nil, fmt.Errorf("%s: %s has no spill slot", fn.Name, cs.Reg)
		}

		if cs.Area == sys.AreaNone {
			return nil, fmt.Errorf("%s: %s is not in a callee-saved area", fn.Name, cs.Reg)
		}

		rec.Saved = append(rec.Saved, SavedReg{
			DWARF:  uint16(cs.Reg.DWARF()),
			Offset: int32(obj.Offset - fn.Frame.VarArgsSaveSize),
		})
	}

	if len(rec.Saved) > 0xffff {
		return nil, fmt.Errorf("%s: too many saved registers: %d", fn.Name, len(rec.Saved))
	}

	return rec, nil
}

// String returns a one-line summary of the record.
func (r *Record) String() string {
	var buf strings.Builder
	frameReg, _ := arm.RegisterByDWARF(int(r.FrameReg))
	fmt.Fprintf(&buf, "%s: stack %d, varargs %d, flags %s, base %s", r.Name, r.StackSize, r.VarArgsSaveSize, r.Flags, frameReg)
	for _, saved := range r.Saved {
		fmt.Fprintf(&buf, ", %s@cfa%+d", saved.Reg(), saved.Offset)
	}

	return buf.String()
}

// Encode writes recs to w in the frame record file format.
func Encode(w io.Writer, recs []*Record) error {
	b := cryptobyte.NewBuilder(make([]byte, 0, headerSize+64*len(recs)))
	b.AddUint32(magic)
	b.AddUint8(version)
	b.AddUint32(uint32(len(recs)))
	for _, rec := range recs {
		if len(rec.Name) == 0 || len(rec.Name) > 255 {
			return fmt.Errorf("invalid frame record name %q", rec.Name)
		}

		if len(rec.Saved) > 0xffff {
			return fmt.Errorf("invalid frame record %s: too many saved registers", rec.Name)
		}

		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			encodeRecord(b, rec)
		})
	}

	data, err := b.Bytes()
	if err != nil {
		return fmt.Errorf("failed to encode frame records: %v", err)
	}

	checksum := sha256.Sum256(data)
	data = append(data, checksum[:]...)

	_, err = w.Write(data)

	return err
}

func encodeRecord(b *cryptobyte.Builder, rec *Record) {
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(rec.Name))
	})

	b.AddUint32(rec.StackSize)
	b.AddUint32(rec.VarArgsSaveSize)
	b.AddUint8(uint8(rec.Flags))
	b.AddUint16(rec.FrameReg)
	for _, area := range []Area{rec.GPR1, rec.GPR2, rec.DPR} {
		b.AddUint32(area.Size)
		b.AddUint32(area.Offset)
	}

	b.AddUint16(uint16(len(rec.Saved)))
	for _, saved := range rec.Saved {
		b.AddUint16(saved.DWARF)
		b.AddUint32(uint32(saved.Offset))
	}
}

// Decode parses a frame record file.
func Decode(data []byte) ([]*Record, error) {
	if len(data) < headerSize+ChecksumLength {
		return nil, fmt.Errorf("invalid frame records: got %d bytes, want at least %d", len(data), headerSize+ChecksumLength)
	}

	body := data[:len(data)-ChecksumLength]
	want := data[len(data)-ChecksumLength:]
	got := sha256.Sum256(body)
	if !bytes.Equal(got[:], want) {
		return nil, fmt.Errorf("invalid frame records: checksum mismatch: got %x, want %x", got[:], want)
	}

	var (
		gotMagic   uint32
		gotVersion uint8
		count      uint32
	)

	s := cryptobyte.String(body)
	if !s.ReadUint32(&gotMagic) ||
		!s.ReadUint8(&gotVersion) ||
		!s.ReadUint32(&count) {
		return nil, fmt.Errorf("invalid frame records: truncated header")
	}

	if gotMagic != magic {
		return nil, fmt.Errorf("invalid frame records: got magic %#x, want %#x", gotMagic, magic)
	}

	if gotVersion != version {
		return nil, fmt.Errorf("unsupported frame record version %d", gotVersion)
	}

	// Each record takes at least four bytes,
	// which bounds the allocation.
	if uint64(count)*4 > uint64(len(s)) {
		return nil, fmt.Errorf("invalid frame records: %d records in %d bytes", count, len(s))
	}

	recs := make([]*Record, 0, count)
	for i := uint32(0); i < count; i++ {
		var raw cryptobyte.String
		if !s.ReadUint24LengthPrefixed(&raw) {
			return nil, fmt.Errorf("invalid frame record %d: truncated", i)
		}

		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid frame record %d: %v", i, err)
		}

		recs = append(recs, rec)
	}

	if !s.Empty() {
		return nil, fmt.Errorf("invalid frame records: %d trailing bytes", len(s))
	}

	return recs, nil
}

func decodeRecord(s cryptobyte.String) (*Record, error) {
	var (
		rec   Record
		name  cryptobyte.String
		flags uint8
		saved uint16
	)

	if !s.ReadUint8LengthPrefixed(&name) ||
		!s.ReadUint32(&rec.StackSize) ||
		!s.ReadUint32(&rec.VarArgsSaveSize) ||
		!s.ReadUint8(&flags) ||
		!s.ReadUint16(&rec.FrameReg) {
		return nil, fmt.Errorf("truncated")
	}

	if len(name) == 0 {
		return nil, fmt.Errorf("missing name")
	}

	rec.Name = string(name)
	rec.Flags = Flags(flags)
	if rec.Flags&^flagsMask != 0 {
		return nil, fmt.Errorf("%s: unknown flags %s", rec.Name, rec.Flags)
	}

	for _, area := range []*Area{&rec.GPR1, &rec.GPR2, &rec.DPR} {
		if !s.ReadUint32(&area.Size) || !s.ReadUint32(&area.Offset) {
			return nil, fmt.Errorf("%s: truncated areas", rec.Name)
		}
	}

	if !s.ReadUint16(&saved) {
		return nil, fmt.Errorf("%s: truncated saved registers", rec.Name)
	}

	rec.Saved = make([]SavedReg, saved)
	for i := range rec.Saved {
		var offset uint32
		if !s.ReadUint16(&rec.Saved[i].DWARF) || !s.ReadUint32(&offset) {
			return nil, fmt.Errorf("%s: truncated saved register %d", rec.Name, i)
		}

		rec.Saved[i].Offset = int32(offset)
	}

	if !s.Empty() {
		return nil, fmt.Errorf("%s: %d trailing bytes", rec.Name, len(s))
	}

	return &rec, nil
}
