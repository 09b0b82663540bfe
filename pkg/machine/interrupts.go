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
	"fmt"

	"github.com/pkg/errors"
)

type Vector struct {
	Number  int
	Address uint32
	Pending bool
	Trace   bool
}

// Interrupts is the vector table of the loaded device. Vector 0 is reset
// and cannot be raised.
type Interrupts struct {
	Vectors []*Vector
}

func (it *Interrupts) reset(device *Device) {
	it.Vectors = make([]*Vector, device.VectorCount)

	for i := range it.Vectors {
		it.Vectors[i] = &Vector{
			Number:  i,
			Address: uint32(i) * device.VectorSize,
		}
	}
}

// Lookup returns the vector with the given number, or nil.
func (it *Interrupts) Lookup(number int) *Vector {
	if number < 0 || number >= len(it.Vectors) {
		return nil
	}
	return it.Vectors[number]
}

// Raise marks a vector pending. It is serviced once interrupts are enabled.
func (it *Interrupts) Raise(number int) error {
	vector := it.Lookup(number)

	if vector == nil || number == 0 {
		return errors.Errorf("no interrupt vector %d", number)
	}

	vector.Pending = true
	return nil
}

// serviceInterrupts enters the handler of the lowest pending vector when
// interrupts are enabled. It reports whether a handler was entered.
func (mc *Machine) serviceInterrupts() bool {
	if mc.State.SREG[FLAG_I] == 0 {
		return false
	}

	for _, vector := range mc.Interrupts.Vectors {
		if !vector.Pending {
			continue
		}

		vector.Pending = false
		mc.State.Sleeping = false

		if vector.Trace || mc.Trace > 0 {
			mc.log().Info(fmt.Sprintf("IRQ%d calling", vector.Number),
				"pc", fmt.Sprintf("0x%04x", mc.State.Program),
				"handler", fmt.Sprintf("0x%04x", vector.Address),
			)
		}

		mc.pushAddr(mc.State.Program)
		mc.State.SREG[FLAG_I] = 0
		mc.State.Program = vector.Address
		mc.State.Cycle += interruptCycles + uint64(mc.Profile.PCBytes()-2)

		return true
	}

	return false
}
