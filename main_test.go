// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rsc.io/diff"
)

func TestRun(t *testing.T) {
	tests := []struct {
		Name   string
		Args   []string
		Err    error
		Stdout string
		Stderr []string // Substrings of stderr.
	}{
		{
			Name:   "no tool",
			Err:    errUsage,
			Stderr: []string{"Usage:\n  armframe TOOL", "  lower [-abi NAME]", ".toml, .yaml, or .yml"},
		},
		{
			Name:   "help",
			Args:   []string{"-h"},
			Err:    errUsage,
			Stderr: []string{"Tools:\n  lower ", "\n  layout ", "\n  order "},
		},
		{
			Name:   "unknown tool",
			Args:   []string{"frobnicate"},
			Err:    errUsage,
			Stderr: []string{`unknown tool "frobnicate"`},
		},
		{
			Name:   "order",
			Args:   []string{"order", "-abi", "aapcs"},
			Stdout: "GPR (aapcs, none): r0 r1 r2 r3 r12 lr r4 r5 r6 r7 r8 r9 r10 r11\n",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			var stdout, stderr strings.Builder
			err := run(context.Background(), &stdout, &stderr, "armframe", test.Args)
			if !errors.Is(err, test.Err) || (test.Err == nil && err != nil) {
				t.Fatalf("run(): got error %v, want %v", err, test.Err)
			}

			if got := stdout.String(); got != test.Stdout {
				t.Errorf("run(): stdout:\n%s", diff.Format(got, test.Stdout))
			}

			for _, want := range test.Stderr {
				if !strings.Contains(stderr.String(), want) {
					t.Errorf("run(): stderr missing %q:\n%s", want, stderr.String())
				}
			}
		})
	}
}
