// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

package frame

import (
	"io"

	"github.com/xyproto/env/v2"
)

// Config contains the options that affect how frames
// are lowered. A Config is passed explicitly to each
// Target, rather than being held in global state.
type Config struct {
	// Always establish a frame pointer.
	DisableFramePointerElim bool

	// Whether a register scavenger is available
	// to produce scratch registers. Without one,
	// r12 is assumed to be free for materializing
	// large offsets.
	Scavenging bool

	// If non-nil, a one-line record of each
	// lowering stage is written to Trace.
	Trace io.Writer
}

// Environment variables read by ConfigFromEnv.
const (
	EnvDisableFramePointerElim = "ARMFRAME_DISABLE_FP_ELIM"
	EnvNoScavenging            = "ARMFRAME_NO_SCAVENGING"
)

// DefaultConfig returns the default configuration, with
// scavenging enabled and frame pointer elimination
// allowed.
func DefaultConfig() Config {
	return Config{Scavenging: true}
}

// ConfigFromEnv returns the default configuration,
// modified by any environment variables that are set.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if env.Has(EnvDisableFramePointerElim) {
		cfg.DisableFramePointerElim = env.Bool(EnvDisableFramePointerElim)
	}

	if env.Has(EnvNoScavenging) {
		cfg.Scavenging = !env.Bool(EnvNoScavenging)
	}

	return cfg
}
