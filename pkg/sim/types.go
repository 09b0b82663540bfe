// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package sim drives a CPU one step at a time until a stop condition holds.
package sim

import (
	"github.com/lassandro/goavr/pkg/machine"
)

type StopReason uint8

const (
	StopNone StopReason = iota
	Completed
	Crashed
	CyclesExhausted
	InstructionsExhausted
	VacuousInfiniteLoop
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case Completed:
		return "completed"
	case Crashed:
		return "crashed"
	case CyclesExhausted:
		return "cycles exhausted"
	case InstructionsExhausted:
		return "instructions exhausted"
	case VacuousInfiniteLoop:
		return "vacuous infinite loop"
	}
	return "unknown"
}

// Limits bound a run. Zero budgets are unbounded.
type Limits struct {
	MaxCycles          uint64
	MaxInstructions    uint64
	ExitOnInfiniteLoop bool
}

// Snapshot is the CPU state observed after one step.
type Snapshot struct {
	PrevPC            uint32
	PC                uint32
	InterruptsEnabled bool
	Cycles            uint64
	Instructions      uint64
	Status            machine.Status
}

// CPU is the part of a core the run loop needs.
type CPU interface {
	Step() machine.Status
	PC() uint32
	Cycle() uint64
	InterruptsEnabled() bool
}

var _ CPU = (*machine.Machine)(nil)

type Result struct {
	Reason       StopReason
	Instructions uint64
	Cycles       uint64
	PC           uint32
	PrevPC       uint32
}
