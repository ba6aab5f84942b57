// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package order

import (
	"strings"
	"testing"

	"rsc.io/diff"

	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/internal/arm"
	"firefly-os.dev/tools/armframe/mir"
	"firefly-os.dev/tools/armframe/sys"
)

func TestWriteOrder(t *testing.T) {
	var dprNames []string
	for _, r := range arm.DPR.Order() {
		dprNames = append(dprNames, r.String())
	}

	tests := []struct {
		Name   string
		ABI    *sys.ABI
		Config frame.Config
		Class  arm.Class
		Hint   mir.HintKind
		Reg    arm.Reg
		Want   string
	}{
		{
			Name:  "default",
			ABI:   sys.AAPCS,
			Class: arm.GPR,
			Hint:  mir.HintNone,
			Reg:   arm.NoReg,
			Want:  "GPR (aapcs, none): r0 r1 r2 r3 r12 lr r4 r5 r6 r7 r8 r9 r10 r11\n",
		},
		{
			Name:  "odd pair",
			ABI:   sys.AAPCS,
			Class: arm.GPR,
			Hint:  mir.HintPairOdd,
			Reg:   arm.R4,
			Want: "GPR (aapcs, odd): r1 r3 r5 r7 r9 r11 r0 r2 r12 lr r4 r6 r8 r10\n" +
				"r4: hint resolves to r5\n",
		},
		{
			Name:   "reserved frame pointer",
			ABI:    sys.AAPCS,
			Config: frame.Config{DisableFramePointerElim: true},
			Class:  arm.GPR,
			Hint:   mir.HintPairEven,
			Reg:    arm.R11,
			Want: "GPR (aapcs, even): r0 r1 r2 r3 r12 lr r4 r5 r6 r7 r8 r9 r10\n" +
				"r11: hint cannot be satisfied\n",
		},
		{
			Name:  "virtual",
			ABI:   sys.AAPCS,
			Class: arm.GPR,
			Hint:  mir.HintNone,
			Reg:   arm.Virtual(2),
			Want:  "GPR (aapcs, none): r0 r1 r2 r3 r12 lr r4 r5 r6 r7 r8 r9 r10 r11\n",
		},
		{
			Name:  "double",
			ABI:   sys.Darwin,
			Class: arm.DPR,
			Hint:  mir.HintPairEven,
			Reg:   arm.NoReg,
			Want:  "DPR (darwin, even): " + strings.Join(dprNames, " ") + "\n",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			target, err := frame.NewTarget(sys.ARM, test.ABI, test.Config)
			if err != nil {
				t.Fatal(err)
			}

			var buf strings.Builder
			if err := WriteOrder(&buf, target, test.Class, test.Hint, test.Reg); err != nil {
				t.Fatalf("WriteOrder(): %v", err)
			}

			if got := buf.String(); got != test.Want {
				t.Errorf("WriteOrder():\n%s", diff.Format(got, test.Want))
			}
		})
	}
}
