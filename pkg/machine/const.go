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

// SREG bit positions
const (
	FLAG_C uint8 = iota
	FLAG_Z
	FLAG_N
	FLAG_V
	FLAG_S
	FLAG_H
	FLAG_T
	FLAG_I
)

// Data memory layout shared by every supported device
const (
	MEMSPACE_REGISTERS uint16 = 0x0000
	MEMSPACE_IO        uint16 = 0x0020
	MEMSPACE_EXT_IO    uint16 = 0x0060

	REG_SPL  uint16 = 0x5D
	REG_SPH  uint16 = 0x5E
	REG_SREG uint16 = 0x5F
)

// Fixed encodings
const (
	OP_NOP   uint16 = 0x0000
	OP_RET   uint16 = 0x9508
	OP_RETI  uint16 = 0x9518
	OP_SLEEP uint16 = 0x9588
	OP_BREAK uint16 = 0x9598
	OP_WDR   uint16 = 0x95A8
)

// Cycles taken to enter an interrupt handler with a 16 bit PC
const interruptCycles = 4
