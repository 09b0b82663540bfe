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

package sim

import (
	"github.com/lassandro/goavr/pkg/machine"
)

// Evaluate decides whether a run stops after the step described by snap.
// A crash is reported before anything else and budgets are only checked
// while the CPU is still running.
func Evaluate(snap Snapshot, limits Limits) StopReason {
	switch {
	case snap.Status == machine.StatusCrashed:
		return Crashed

	case snap.Status == machine.StatusDone:
		return Completed

	// A self jump with interrupts masked can never make progress
	case limits.ExitOnInfiniteLoop &&
		snap.PC == snap.PrevPC &&
		!snap.InterruptsEnabled:
		return VacuousInfiniteLoop

	case limits.MaxCycles > 0 && snap.Cycles >= limits.MaxCycles:
		return CyclesExhausted

	case limits.MaxInstructions > 0 && snap.Instructions >= limits.MaxInstructions:
		return InstructionsExhausted
	}

	return StopNone
}
