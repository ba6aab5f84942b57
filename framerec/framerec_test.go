// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package framerec

import (
	"bytes"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

var small = &Record{
	Name:      "f",
	StackSize: 8,
	Flags:     FlagStackFrame,
	FrameReg:  13,
	GPR1:      Area{Size: 8},
	Saved: []SavedReg{
		{DWARF: 14, Offset: -4},
		{DWARF: 4, Offset: -8},
	},
}

var smallRaw = []byte{
	// Header.
	0x61, 0x66, 0x72, 0x6d, // Magic.
	1,          // Version: 1.
	0, 0, 0, 1, // Records: 1.
	// Record.
	0, 0, 51, // Length: 51.
	1, 'f', // Name.
	0, 0, 0, 8, // Stack size: 8.
	0, 0, 0, 0, // Varargs: 0.
	1,     // Flags: frame.
	0, 13, // Frame register: sp.
	0, 0, 0, 8, 0, 0, 0, 0, // GPR1: 8 bytes at 0.
	0, 0, 0, 0, 0, 0, 0, 0, // GPR2.
	0, 0, 0, 0, 0, 0, 0, 0, // DPR.
	0, 2, // Saved: 2.
	0, 14, 0xff, 0xff, 0xff, 0xfc, // lr at cfa-4.
	0, 4, 0xff, 0xff, 0xff, 0xf8, // r4 at cfa-8.
	// Checksum.
	0xc1, 0x4e, 0xb1, 0x4b, 0xcd, 0xf0, 0xf4, 0xb6,
	0xff, 0x70, 0x6c, 0xe3, 0xfa, 0xe9, 0x07, 0x9a,
	0x28, 0xc7, 0x5b, 0x28, 0x2a, 0xb8, 0xd7, 0x4d,
	0x5b, 0xa2, 0x61, 0xd1, 0xc9, 0x6c, 0x61, 0x15,
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []*Record{small}); err != nil {
		t.Fatalf("Encode(): %v", err)
	}

	if diff := cmp.Diff(smallRaw, buf.Bytes()); diff != "" {
		t.Errorf("Encode(): (-want, +got)\n%s", diff)
	}

	got, err := Decode(smallRaw)
	if err != nil {
		t.Fatalf("Decode(): %v", err)
	}

	if diff := cmp.Diff([]*Record{small}, got); diff != "" {
		t.Errorf("Decode(): (-want, +got)\n%s", diff)
	}

	if err := Encode(&buf, []*Record{{Name: ""}}); err == nil {
		t.Errorf("Encode(): unexpected success with an unnamed record")
	}
}

func TestDecodeErrors(t *testing.T) {
	corrupt := func(fn func(b []byte) []byte) []byte {
		return fn(bytes.Clone(smallRaw))
	}

	tests := []struct {
		Name string
		Data []byte
		Want string
	}{
		{
			Name: "short",
			Data: smallRaw[:20],
			Want: "got 20 bytes",
		},
		{
			Name: "checksum",
			Data: corrupt(func(b []byte) []byte { b[20]++; return b }),
			Want: "checksum mismatch",
		},
		{
			Name: "truncated",
			Data: corrupt(func(b []byte) []byte {
				b = b[:len(b)-ChecksumLength-1]
				sum := sha256Sum(b)
				return append(b, sum...)
			}),
			Want: "truncated",
		},
		{
			Name: "magic",
			Data: corrupt(func(b []byte) []byte {
				b[0] = 'A'
				b = b[:len(b)-ChecksumLength]
				return append(b, sha256Sum(b)...)
			}),
			Want: "got magic",
		},
		{
			Name: "version",
			Data: corrupt(func(b []byte) []byte {
				b[4] = 2
				b = b[:len(b)-ChecksumLength]
				return append(b, sha256Sum(b)...)
			}),
			Want: "unsupported frame record version 2",
		},
		{
			Name: "flags",
			Data: corrupt(func(b []byte) []byte {
				b[22] = 0x80
				b = b[:len(b)-ChecksumLength]
				return append(b, sha256Sum(b)...)
			}),
			Want: "unknown flags",
		},
		{
			Name: "count",
			Data: corrupt(func(b []byte) []byte {
				b[5] = 1
				b = b[:len(b)-ChecksumLength]
				return append(b, sha256Sum(b)...)
			}),
			Want: "16777217 records in 54 bytes",
		},
	}

	for _, test := range tests {
		_, err := Decode(test.Data)
		if err == nil {
			t.Errorf("%s: Decode(): unexpected success", test.Name)
			continue
		}

		if !strings.Contains(err.Error(), test.Want) {
			t.Errorf("%s: Decode(): got error %q, want %q", test.Name, err, test.Want)
		}
	}
}

func TestFromFunction(t *testing.T) {
	target, err := frame.NewTarget(sys.ARM, sys.AAPCS, frame.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	fn := mir.NewFunction("callee_saved")
	b := fn.NewBlock()
	for _, line := range []string{
		"MOVr r4, r0, cc:al, noreg",
		"MOVr r5, r0, cc:al, noreg",
		"MOVr r6, r0, cc:al, noreg",
		"FLDD d8, r0, #0, cc:al, noreg",
		"BX_RET cc:al, noreg",
	} {
		inst, err := mir.ParseInst(line)
		if err != nil {
			t.Fatal(err)
		}

		b.Append(inst)
	}

	if err := target.Lower(fn); err != nil {
		t.Fatalf("Lower(): %v", err)
	}

	got, err := FromFunction(target, fn)
	if err != nil {
		t.Fatalf("FromFunction(): %v", err)
	}

	want := &Record{
		Name:      "callee_saved",
		StackSize: 24,
		Flags:     FlagStackFrame,
		FrameReg:  13,
		GPR1:      Area{Size: 16, Offset: 8},
		GPR2:      Area{Size: 0, Offset: 8},
		DPR:       Area{Size: 8, Offset: 0},
		Saved: []SavedReg{
			{DWARF: 14, Offset: -4},
			{DWARF: 6, Offset: -8},
			{DWARF: 5, Offset: -12},
			{DWARF: 4, Offset: -16},
			{DWARF: 264, Offset: -24},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromFunction(): (-want, +got)\n%s", diff)
	}

	if reg := got.Saved[4].Reg(); reg != arm.D8 {
		t.Errorf("Saved[4].Reg(): got %s, want d8", reg)
	}

	const wantString = "callee_saved: stack 24, varargs 0, flags frame, base sp, lr@cfa-4, r6@cfa-8, r5@cfa-12, r4@cfa-16, d8@cfa-24"
	if s := got.String(); s != wantString {
		t.Errorf("String():\n got %q\nwant %q", s, wantString)
	}

	// The record survives encoding.
	var buf bytes.Buffer
	if err := Encode(&buf, []*Record{got, small}); err != nil {
		t.Fatalf("Encode(): %v", err)
	}

	decoded, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode(): %v", err)
	}

	if diff := cmp.Diff([]*Record{want, small}, decoded); diff != "" {
		t.Errorf("Decode(Encode()): (-want, +got)\n%s", diff)
	}
}

func TestFlags(t *testing.T) {
	tests := []struct {
		Flags Flags
		Want  string
	}{
		{0, "none"},
		{FlagStackFrame, "frame"},
		{FlagStackFrame | FlagFramePointer | FlagVarSized, "frame|fp|varsized"},
		{FlagFarJump | 0x40, "farjump|0x40"},
	}

	for _, test := range tests {
		if got := test.Flags.String(); got != test.Want {
			t.Errorf("Flags(%#x).String(): got %q, want %q", uint8(test.Flags), got, test.Want)
		}
	}
}

func TestFromFunctionFrameRegister(t *testing.T) {
	tests := []struct {
		Name         string
		AddressTaken bool
		WantReg      uint16
		WantFlags    Flags
	}{
		{Name: "sp_based", WantReg: 13, WantFlags: FlagStackFrame},
		{Name: "fp_based", AddressTaken: true, WantReg: 7, WantFlags: FlagStackFrame | FlagFramePointer},
	}

	target, err := frame.NewTarget(sys.ARM, sys.Darwin, frame.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	for _, test := range tests {
		fn := mir.NewFunction(test.Name)
		fn.Frame.FrameAddressTaken = test.AddressTaken
		b := fn.NewBlock()
		for _, line := range []string{"MOVr r4, r0, cc:al, noreg", "BX_RET cc:al, noreg"} {
			inst, err := mir.ParseInst(line)
			if err != nil {
				t.Fatal(err)
			}

			b.Append(inst)
		}

		if err := target.Lower(fn); err != nil {
			t.Fatalf("%s: Lower(): %v", test.Name, err)
		}

		rec, err := FromFunction(target, fn)
		if err != nil {
			t.Fatalf("%s: FromFunction(): %v", test.Name, err)
		}

		if rec.FrameReg != test.WantReg || rec.Flags != test.WantFlags {
			t.Errorf("%s: got frame register %d, flags %s, want %d, %s", test.Name, rec.FrameReg, rec.Flags, test.WantReg, test.WantFlags)
		}
	}
}
