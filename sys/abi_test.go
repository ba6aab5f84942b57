// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package sys

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"firefly-os.dev/tools/armframe/internal/arm"
)

func TestDefaultABIs(t *testing.T) {
	for _, arch := range All {
		t.Run(arch.Name, func(t *testing.T) {
			err := arch.Validate(&arch.DefaultABI)
			if err != nil {
				t.Fatal(err)
			}
		})
	}

	for _, name := range ABINames() {
		t.Run(name, func(t *testing.T) {
			abi := ABIByName[name]
			if abi.Name != name {
				t.Fatalf("ABI %q registered as %q", abi.Name, name)
			}

			err := ARM.Validate(abi)
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestABIs(t *testing.T) {
	tests := []struct {
		Name         string
		ABI          *ABI
		FramePointer arm.Reg
		Areas        map[Area][]arm.Reg
	}{
		{
			Name:         "AAPCS",
			ABI:          AAPCS,
			FramePointer: arm.R11,
			Areas: map[Area][]arm.Reg{
				AreaGPR1: {arm.LR, arm.R11, arm.R10, arm.R9, arm.R8, arm.R7, arm.R6, arm.R5, arm.R4},
				AreaDPR:  {arm.D15, arm.D14, arm.D13, arm.D12, arm.D11, arm.D10, arm.D9, arm.D8},
			},
		},
		{
			Name:         "AAPCS Thumb-2",
			ABI:          AAPCSThumb2,
			FramePointer: arm.R7,
			Areas: map[Area][]arm.Reg{
				AreaGPR1: {arm.LR, arm.R11, arm.R10, arm.R9, arm.R8, arm.R7, arm.R6, arm.R5, arm.R4},
				AreaDPR:  {arm.D15, arm.D14, arm.D13, arm.D12, arm.D11, arm.D10, arm.D9, arm.D8},
			},
		},
		{
			Name:         "Darwin",
			ABI:          Darwin,
			FramePointer: arm.R7,
			Areas: map[Area][]arm.Reg{
				AreaGPR1: {arm.LR, arm.R7, arm.R6, arm.R5, arm.R4},
				AreaGPR2: {arm.R11, arm.R10, arm.R8},
				AreaDPR:  {arm.D15, arm.D14, arm.D13, arm.D12, arm.D11, arm.D10, arm.D9, arm.D8},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			if got := test.ABI.FramePointer(); got != test.FramePointer {
				t.Errorf("FramePointer(): got %s, want %s", got, test.FramePointer)
			}

			got := make(map[Area][]arm.Reg)
			for _, cs := range test.ABI.CalleeSaved() {
				got[cs.Area] = append(got[cs.Area], cs.Reg)
			}

			if diff := cmp.Diff(test.Areas, got); diff != "" {
				t.Errorf("CalleeSaved(): (-want, +got)\n%s", diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		Name string
		ABI  *ABI
		Want string
	}{
		{
			Name: "bad alignment",
			ABI:  &ABI{Name: "x", StackAlignment: 6},
			Want: "invalid stack alignment 6",
		},
		{
			Name: "small alignment",
			ABI:  &ABI{Name: "x", StackAlignment: 2},
			Want: "invalid stack alignment 2",
		},
		{
			Name: "thumb1 without thumb",
			ABI:  &ABI{Name: "x", Thumb1Only: true, StackAlignment: 8},
			Want: "Thumb-1 only, but not Thumb",
		},
		{
			Name: "repeated register",
			ABI: &ABI{Name: "x", StackAlignment: 8, CalleeSavedRegs: []CalleeSaved{
				{arm.LR, AreaGPR1}, {arm.R4, AreaGPR1}, {arm.R4, AreaGPR1},
			}},
			Want: "invalid callee-saved register r4: repeated",
		},
		{
			Name: "wrong area",
			ABI: &ABI{Name: "x", StackAlignment: 8, CalleeSavedRegs: []CalleeSaved{
				{arm.LR, AreaGPR1}, {arm.R8, AreaGPR2},
			}},
			Want: "invalid callee-saved register r8: in area gpr2, want gpr1",
		},
		{
			Name: "areas out of order",
			ABI: &ABI{Name: "x", StackAlignment: 8, CalleeSavedRegs: []CalleeSaved{
				{arm.D8, AreaDPR}, {arm.LR, AreaGPR1},
			}},
			Want: "invalid callee-saved register lr: area gpr1 follows area dpr",
		},
		{
			Name: "not callee-saved",
			ABI: &ABI{Name: "x", StackAlignment: 8, CalleeSavedRegs: []CalleeSaved{
				{arm.LR, AreaGPR1}, {arm.R0, AreaGPR1},
			}},
			Want: "invalid callee-saved register r0: not saved",
		},
		{
			Name: "special register",
			ABI: &ABI{Name: "x", StackAlignment: 8, CalleeSavedRegs: []CalleeSaved{
				{arm.LR, AreaGPR1}, {arm.SP, AreaGPR1},
			}},
			Want: "invalid callee-saved register sp: not an ABI register",
		},
		{
			Name: "no link register",
			ABI: &ABI{Name: "x", StackAlignment: 8, CalleeSavedRegs: []CalleeSaved{
				{arm.R4, AreaGPR1},
			}},
			Want: "link register lr is not callee-saved",
		},
		{
			Name: "empty list",
			ABI:  &ABI{Name: "x", StackAlignment: 8, CalleeSavedRegs: []CalleeSaved{}},
			Want: "no callee-saved registers",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			err := ARM.Validate(test.ABI)
			if err == nil {
				t.Fatalf("Validate(): unexpected success")
			}

			if !strings.Contains(err.Error(), test.Want) {
				t.Fatalf("Validate(): got error %q, want %q", err, test.Want)
			}
		})
	}
}
