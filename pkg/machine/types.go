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

package machine

import (
	"io"
	"log/slog"
)

// Status is the outcome of a single Step.
type Status int

const (
	StatusRunning Status = iota
	StatusDone
	StatusCrashed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

type MachineState struct {
	// Byte address of the next instruction
	Program uint32
	Cycle   uint64

	// One entry per flag. SREG lives here rather than in Data, the
	// memory-mapped copy is rebuilt on access.
	SREG [8]uint8

	// Registers, I/O space and SRAM, RAMEND+1 bytes
	Data   []byte
	Flash  []byte
	EEPROM []byte

	Sleeping bool
}

type MachineDebugger interface {
	Step(mc *Machine)
	Read(addr uint16, mc *Machine)
	Write(addr uint16, mc *Machine)
	Trap(mc *Machine)
}

type Machine struct {
	Profile    *Device
	State      MachineState
	Interrupts Interrupts
	Debugger   MachineDebugger

	Frequency uint32
	Symbols   map[uint32]string

	// Instruction tracing is enabled when Trace > 0
	Trace    int
	TraceOut io.Writer
	Logger   *slog.Logger

	status     Status
	terminated bool
}
