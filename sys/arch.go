// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package sys defines the characteristics of the 32-bit ARM
// architecture and the ABI variants that shape a function's
// stack frame.
package sys

import (
	"encoding/binary"

	"firefly-os.dev/tools/armframe/internal/arm"
)

// Arch defines the characteristics of a machine architecture.
type Arch struct {
	Name   string
	Family ArchFamily

	PointerSize  int // The size of a memory address in bytes.
	RegisterSize int // The capacity of a general-purpose register in bytes.
	ByteOrder    binary.ByteOrder

	// Contains the full set of registers in
	// this architecture. The order of these
	// registers is arbitrary and may change.
	Registers []arm.Reg

	// Maps register names to their structured
	// data.
	RegisterNames map[string]arm.Reg

	// The set of registers available to the
	// register allocator, before any ABI
	// reservations are applied.
	ABIRegisters []arm.Reg

	// Internal cache of the ABI registers.
	abiRegisters map[arm.Reg]bool

	// The architecture's special registers.
	StackPointer   arm.Reg
	LinkRegister   arm.Reg
	ProgramCounter arm.Reg

	// Whether the stack grows downward. If
	// true, successive stack locations will
	// have smaller addresses.
	StackGrowsDown bool

	// The ABI to use if none is specified.
	DefaultABI ABI
}

// IsABIRegister returns whether reg can be handed out
// by the register allocator under some ABI.
func (a *Arch) IsABIRegister(reg arm.Reg) bool {
	return a.abiRegisters[reg]
}

var ARM = &Arch{
	Name:         "arm",
	Family:       FamilyARM,
	PointerSize:  4,
	RegisterSize: 4,
	ByteOrder:    binary.LittleEndian,
	ABIRegisters: []arm.Reg{
		arm.R0, arm.R1, arm.R2, arm.R3, arm.R4, arm.R5, arm.R6, arm.R7,
		arm.R8, arm.R9, arm.R10, arm.R11, arm.R12, arm.LR,
		arm.D0, arm.D1, arm.D2, arm.D3, arm.D4, arm.D5, arm.D6, arm.D7,
		arm.D8, arm.D9, arm.D10, arm.D11, arm.D12, arm.D13, arm.D14, arm.D15,
		arm.D16, arm.D17, arm.D18, arm.D19, arm.D20, arm.D21, arm.D22, arm.D23,
		arm.D24, arm.D25, arm.D26, arm.D27, arm.D28, arm.D29, arm.D30, arm.D31,
	},
	StackPointer:   arm.SP,
	LinkRegister:   arm.LR,
	ProgramCounter: arm.PC,
	StackGrowsDown: true,
	DefaultABI:     *AAPCS,
}

// All is a list of all supported architectures.
var All = [...]*Arch{
	ARM,
}

func init() {
	// Populate arch.Registers, arch.abiRegisters
	// and arch.RegisterNames.
	for _, arch := range All {
		arch.Registers = make([]arm.Reg, 0, arm.NumRegs)
		for reg := arm.R0; reg < arm.NumRegs; reg++ {
			arch.Registers = append(arch.Registers, reg)
		}

		arch.abiRegisters = make(map[arm.Reg]bool)
		for _, reg := range arch.ABIRegisters {
			arch.abiRegisters[reg] = true

			// Single-precision registers are
			// allocatable wherever the register
			// they alias is.
			for _, alias := range reg.Aliases() {
				arch.abiRegisters[alias] = true
			}
		}

		arch.RegisterNames = make(map[string]arm.Reg)
		for _, reg := range arch.Registers {
			arch.RegisterNames[reg.String()] = reg
		}
	}
}

// ArchByName maps architecture names to their
// metadata.
var ArchByName = map[string]*Arch{
	ARM.Name: ARM,
}

// ArchFamily represents a group of related machine
// architectures.
type ArchFamily uint8

const (
	FamilyNone ArchFamily = iota
	FamilyARM
)
