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
	"log/slog"
	"os"
	"slices"

	"github.com/pkg/errors"

	"github.com/lassandro/goavr/pkg/encoding"
	"github.com/lassandro/goavr/pkg/firmware"
)

var ErrFirmwareTooLarge = errors.New("firmware does not fit the device")

// New creates a machine for the named device. Init must be called before
// anything is loaded into it.
func New(name string) (*Machine, error) {
	device, ok := Lookup(name)

	if !ok {
		return nil, &UnknownDeviceError{name}
	}

	return &Machine{Profile: device, TraceOut: os.Stdout}, nil
}

// Init resets the machine to its power-on state. Flash and EEPROM read as
// erased.
func (mc *Machine) Init() {
	device := mc.Profile

	mc.State = MachineState{
		Data:   make([]byte, device.DataSize()),
		Flash:  make([]byte, device.FlashSize),
		EEPROM: make([]byte, device.EEPROMSize),
	}

	for i := range mc.State.Flash {
		mc.State.Flash[i] = 0xFF
	}

	for i := range mc.State.EEPROM {
		mc.State.EEPROM[i] = 0xFF
	}

	mc.SetSP(device.RAMEnd)
	mc.Interrupts.reset(device)

	mc.status = StatusRunning
	mc.terminated = false
}

// Load copies fw into flash and EEPROM. Firmware linked at a bootloader
// offset starts executing at that offset.
func (mc *Machine) Load(fw *firmware.Firmware) error {
	device := mc.Profile

	if end := uint64(fw.FlashBase) + uint64(len(fw.Flash)); end > uint64(device.FlashSize) {
		return errors.Wrapf(
			ErrFirmwareTooLarge,
			"flash image ends at %#x, %s has %#x bytes",
			end, device.Name(), device.FlashSize,
		)
	}

	if len(fw.EEPROM) > int(device.EEPROMSize) {
		return errors.Wrapf(
			ErrFirmwareTooLarge,
			"eeprom image has %d bytes, %s has %d",
			len(fw.EEPROM), device.Name(), device.EEPROMSize,
		)
	}

	copy(mc.State.Flash[fw.FlashBase:], fw.Flash)
	copy(mc.State.EEPROM, fw.EEPROM)

	mc.Frequency = fw.Frequency
	mc.Symbols = fw.Symbols

	if fw.FlashBase != 0 {
		mc.log().Info(fmt.Sprintf("Attempted to load a bootloader at %04x", fw.FlashBase))
		mc.State.Program = fw.FlashBase
	}

	return nil
}

// Terminate stops the machine for good. Later calls to Step report
// StatusDone.
func (mc *Machine) Terminate() {
	if mc.terminated {
		return
	}

	mc.terminated = true
	mc.status = StatusDone
	mc.State.Flash = nil
	mc.State.EEPROM = nil

	mc.log().Debug("machine terminated",
		"pc", fmt.Sprintf("%#x", mc.State.Program),
		"cycle", mc.State.Cycle,
	)
}

func (mc *Machine) Device() *Device {
	return mc.Profile
}

func (mc *Machine) PC() uint32 {
	return mc.State.Program
}

func (mc *Machine) Cycle() uint64 {
	return mc.State.Cycle
}

func (mc *Machine) InterruptsEnabled() bool {
	return mc.State.SREG[FLAG_I] != 0
}

// DataMemory returns a copy of the data address space as firmware sees it,
// SREG included.
func (mc *Machine) DataMemory() []byte {
	data := slices.Clone(mc.State.Data)

	if int(REG_SREG) < len(data) {
		data[REG_SREG] = mc.SREG()
	}

	return data
}

func (mc *Machine) log() *slog.Logger {
	if mc.Logger != nil {
		return mc.Logger
	}
	return slog.Default()
}

func (mc *Machine) crash(format string, args ...interface{}) {
	mc.status = StatusCrashed
	mc.log().Error("CRASH: "+fmt.Sprintf(format, args...),
		"pc", fmt.Sprintf("0x%04x", mc.State.Program),
		"cycle", mc.State.Cycle,
	)
}

func (mc *Machine) trace(pc uint32, format string, args ...interface{}) {
	if mc.Trace <= 0 || mc.TraceOut == nil {
		return
	}

	if name, exists := mc.Symbols[pc]; exists {
		fmt.Fprintf(mc.TraceOut, "%04x <%s>: ", pc, name)
	} else {
		fmt.Fprintf(mc.TraceOut, "%04x: ", pc)
	}

	fmt.Fprintf(mc.TraceOut, format+"\n", args...)
}

// SREG assembles the status register from its flag bits.
func (mc *Machine) SREG() byte {
	var value byte

	for i, bit := range mc.State.SREG {
		if bit != 0 {
			value |= 1 << i
		}
	}

	return value
}

func (mc *Machine) SetSREG(value byte) {
	for i := range mc.State.SREG {
		mc.State.SREG[i] = (value >> i) & 0x1
	}
}

// SP returns the stack pointer held in SPH:SPL.
func (mc *Machine) SP() uint16 {
	return uint16(mc.State.Data[REG_SPH])<<8 | uint16(mc.State.Data[REG_SPL])
}

func (mc *Machine) SetSP(sp uint16) {
	mc.State.Data[REG_SPL] = byte(sp)
	mc.State.Data[REG_SPH] = byte(sp >> 8)
}

func (mc *Machine) read(addr uint16) byte {
	if int(addr) >= len(mc.State.Data) {
		mc.crash("read from 0x%04x outside data memory", addr)
		return 0
	}

	var value byte

	if addr == REG_SREG {
		value = mc.SREG()
	} else {
		value = mc.State.Data[addr]
	}

	if mc.Debugger != nil {
		mc.Debugger.Read(addr, mc)
	}

	return value
}

func (mc *Machine) write(addr uint16, value byte) {
	if int(addr) >= len(mc.State.Data) {
		mc.crash("write to 0x%04x outside data memory", addr)
		return
	}

	if addr == REG_SREG {
		mc.SetSREG(value)
	} else {
		mc.State.Data[addr] = value
	}

	if mc.Debugger != nil {
		mc.Debugger.Write(addr, mc)
	}
}

func (mc *Machine) push(value byte) {
	sp := mc.SP()
	mc.write(sp, value)
	mc.SetSP(sp - 1)
}

func (mc *Machine) pop() byte {
	sp := mc.SP() + 1
	mc.SetSP(sp)
	return mc.read(sp)
}

// pushAddr saves a byte address as a word address, low byte first.
func (mc *Machine) pushAddr(addr uint32) {
	word := addr >> 1

	for i := 0; i < mc.Profile.PCBytes(); i++ {
		mc.push(byte(word >> (8 * i)))
	}
}

func (mc *Machine) popAddr() uint32 {
	var word uint32

	for i := mc.Profile.PCBytes() - 1; i >= 0; i-- {
		word |= uint32(mc.pop()) << (8 * i)
	}

	return word << 1
}

func (mc *Machine) fetch(addr uint32) (uint16, bool) {
	if uint64(addr)+2 > uint64(len(mc.State.Flash)) {
		return 0, false
	}

	return uint16(mc.State.Flash[addr]) | uint16(mc.State.Flash[addr+1])<<8, true
}

func (mc *Machine) setFlag(flag uint8, value uint8) {
	mc.State.SREG[flag] = value & 0x1
}

func (mc *Machine) setFlagBool(flag uint8, value bool) {
	if value {
		mc.State.SREG[flag] = 1
	} else {
		mc.State.SREG[flag] = 0
	}
}

// Z, N and S from a result, V must already be set
func (mc *Machine) setFlagsZNS(result byte) {
	mc.setFlagBool(FLAG_Z, result == 0)
	mc.setFlag(FLAG_N, result>>7)
	mc.setFlag(FLAG_S, mc.State.SREG[FLAG_N]^mc.State.SREG[FLAG_V])
}

func (mc *Machine) setFlagsAdd(rd, rr, result byte) {
	carry := (rd & rr) | (rr &^ result) | (^result & rd)
	mc.setFlag(FLAG_H, carry>>3)
	mc.setFlag(FLAG_C, carry>>7)
	mc.setFlag(FLAG_V, ((rd&rr&^result)|(^rd&^rr&result))>>7)
	mc.setFlagsZNS(result)
}

func (mc *Machine) setFlagsSub(rd, rr, result byte) {
	borrow := (^rd & rr) | (rr & result) | (result &^ rd)
	mc.setFlag(FLAG_H, borrow>>3)
	mc.setFlag(FLAG_C, borrow>>7)
	mc.setFlag(FLAG_V, ((rd&^rr&^result)|(^rd&rr&result))>>7)
	mc.setFlagsZNS(result)
}

func (mc *Machine) setFlagsLogic(result byte) {
	mc.setFlag(FLAG_V, 0)
	mc.setFlagsZNS(result)
}

// Step runs one instruction, or idles for a cycle while the core sleeps,
// then services at most one pending interrupt.
func (mc *Machine) Step() Status {
	if mc.status != StatusRunning {
		return mc.status
	}

	if mc.State.Sleeping {
		if !mc.serviceInterrupts() {
			mc.State.Cycle++
		}
		return mc.status
	}

	// The instruction following SEI always runs before any handler
	delayed := mc.execute()

	if mc.status == StatusRunning && !delayed {
		mc.serviceInterrupts()
	}

	if mc.Debugger != nil && mc.status == StatusRunning {
		mc.Debugger.Step(mc)
	}

	return mc.status
}

// execute decodes and runs the instruction at the program counter. It
// reports whether interrupts were just enabled.
func (mc *Machine) execute() bool {
	pc := mc.State.Program
	instruction, ok := mc.fetch(pc)

	if !ok {
		mc.crash("program counter outside flash")
		return false
	}

	next := pc + 2
	cycles := uint64(1)
	regs := mc.State.Data[:32]

	// Most two-operand forms share these fields
	d := (instruction >> 4) & 0x1F
	r := (instruction>>5)&0x10 | instruction&0xF
	// Immediate forms address r16-r31
	dh := 16 + (instruction>>4)&0xF
	k8 := byte((instruction>>4)&0xF0 | instruction&0xF)

	sei := false

	switch {
	// NOP  |0000 0000 0000 0000|
	case instruction == OP_NOP:
		mc.trace(pc, "nop")

	// ADD  |0000 11rd dddd rrrr|
	// ADC  |0001 11rd dddd rrrr|
	case instruction&0xFC00 == 0x0C00, instruction&0xFC00 == 0x1C00:
		rd, rr := regs[d], regs[r]
		result := rd + rr

		if instruction&0x1000 != 0 {
			result += mc.State.SREG[FLAG_C]
			mc.trace(pc, "adc r%d, r%d", d, r)
		} else {
			mc.trace(pc, "add r%d, r%d", d, r)
		}

		regs[d] = result
		mc.setFlagsAdd(rd, rr, result)

	// SUB  |0001 10rd dddd rrrr|
	// CP   |0001 01rd dddd rrrr|
	case instruction&0xFC00 == 0x1800, instruction&0xFC00 == 0x1400:
		rd, rr := regs[d], regs[r]
		result := rd - rr

		if instruction&0x0800 != 0 {
			regs[d] = result
			mc.trace(pc, "sub r%d, r%d", d, r)
		} else {
			mc.trace(pc, "cp r%d, r%d", d, r)
		}

		mc.setFlagsSub(rd, rr, result)

	// AND  |0010 00rd dddd rrrr|
	// EOR  |0010 01rd dddd rrrr|
	// OR   |0010 10rd dddd rrrr|
	case instruction&0xF000 == 0x2000 && instruction&0x0C00 != 0x0C00:
		var result byte

		switch instruction & 0x0C00 {
		case 0x0000:
			result = regs[d] & regs[r]
			mc.trace(pc, "and r%d, r%d", d, r)
		case 0x0400:
			result = regs[d] ^ regs[r]
			mc.trace(pc, "eor r%d, r%d", d, r)
		default:
			result = regs[d] | regs[r]
			mc.trace(pc, "or r%d, r%d", d, r)
		}

		regs[d] = result
		mc.setFlagsLogic(result)

	// MOV  |0010 11rd dddd rrrr|
	case instruction&0xFC00 == 0x2C00:
		regs[d] = regs[r]
		mc.trace(pc, "mov r%d, r%d", d, r)

	// CPI  |0011 KKKK dddd KKKK|
	case instruction&0xF000 == 0x3000:
		rd := regs[dh]
		mc.setFlagsSub(rd, k8, rd-k8)
		mc.trace(pc, "cpi r%d, 0x%02x", dh, k8)

	// SUBI |0101 KKKK dddd KKKK|
	case instruction&0xF000 == 0x5000:
		rd := regs[dh]
		regs[dh] = rd - k8
		mc.setFlagsSub(rd, k8, regs[dh])
		mc.trace(pc, "subi r%d, 0x%02x", dh, k8)

	// LDI  |1110 KKKK dddd KKKK|
	case instruction&0xF000 == 0xE000:
		regs[dh] = k8
		mc.trace(pc, "ldi r%d, 0x%02x", dh, k8)

	// RJMP |1100 kkkk kkkk kkkk|
	// RCALL|1101 kkkk kkkk kkkk|
	case instruction&0xE000 == 0xC000:
		offset := int32(encoding.SignExtend(instruction&0xFFF, 12))
		target := uint32(int32(next) + 2*offset)

		if instruction&0x1000 != 0 {
			mc.pushAddr(next)
			cycles = 3 + uint64(mc.Profile.PCBytes()-2)
			mc.trace(pc, "rcall .%+d", 2*offset)
		} else {
			cycles = 2
			mc.trace(pc, "rjmp .%+d", 2*offset)
		}

		next = target

	// BRBS |1111 00kk kkkk ksss|
	// BRBC |1111 01kk kkkk ksss|
	case instruction&0xF800 == 0xF000:
		bit := uint8(instruction & 0x7)
		offset := int32(encoding.SignExtend((instruction>>3)&0x7F, 7))
		set := instruction&0x0400 == 0

		if (mc.State.SREG[bit] == 1) == set {
			next = uint32(int32(next) + 2*offset)
			cycles = 2
		}

		if set {
			mc.trace(pc, "brbs %d, .%+d", bit, 2*offset)
		} else {
			mc.trace(pc, "brbc %d, .%+d", bit, 2*offset)
		}

	// IN   |1011 0AAd dddd AAAA|
	// OUT  |1011 1AAr rrrr AAAA|
	case instruction&0xF000 == 0xB000:
		addr := MEMSPACE_IO + ((instruction>>5)&0x30 | instruction&0xF)

		if instruction&0x0800 != 0 {
			mc.write(addr, regs[d])
			mc.trace(pc, "out 0x%02x, r%d", addr-MEMSPACE_IO, d)
		} else {
			regs[d] = mc.read(addr)
			mc.trace(pc, "in r%d, 0x%02x", d, addr-MEMSPACE_IO)
		}

	// LDS  |1001 000d dddd 0000|kkkk kkkk kkkk kkkk|
	// STS  |1001 001d dddd 0000|kkkk kkkk kkkk kkkk|
	case instruction&0xFC0F == 0x9000:
		addr, ok := mc.fetch(next)

		if !ok {
			mc.crash("program counter outside flash")
			return false
		}

		next += 2
		cycles = 2

		if instruction&0x0200 != 0 {
			mc.write(addr, regs[d])
			mc.trace(pc, "sts 0x%04x, r%d", addr, d)
		} else {
			regs[d] = mc.read(addr)
			mc.trace(pc, "lds r%d, 0x%04x", d, addr)
		}

	// POP  |1001 000d dddd 1111|
	// PUSH |1001 001d dddd 1111|
	case instruction&0xFC0F == 0x900F:
		cycles = 2

		if instruction&0x0200 != 0 {
			mc.push(regs[d])
			mc.trace(pc, "push r%d", d)
		} else {
			regs[d] = mc.pop()
			mc.trace(pc, "pop r%d", d)
		}

	// INC  |1001 010d dddd 0011|
	case instruction&0xFE0F == 0x9403:
		regs[d]++
		mc.setFlagBool(FLAG_V, regs[d] == 0x80)
		mc.setFlagsZNS(regs[d])
		mc.trace(pc, "inc r%d", d)

	// DEC  |1001 010d dddd 1010|
	case instruction&0xFE0F == 0x940A:
		regs[d]--
		mc.setFlagBool(FLAG_V, regs[d] == 0x7F)
		mc.setFlagsZNS(regs[d])
		mc.trace(pc, "dec r%d", d)

	// JMP  |1001 010k kkkk 110k|kkkk kkkk kkkk kkkk|
	// CALL |1001 010k kkkk 111k|kkkk kkkk kkkk kkkk|
	case instruction&0xFE0C == 0x940C:
		low, ok := mc.fetch(next)

		if !ok {
			mc.crash("program counter outside flash")
			return false
		}

		next += 2
		word := uint32((instruction>>3)&0x3E|instruction&0x1)<<16 | uint32(low)
		target := word << 1

		if instruction&0x0002 != 0 {
			mc.pushAddr(next)
			cycles = 4 + uint64(mc.Profile.PCBytes()-2)
			mc.trace(pc, "call 0x%04x", target)
		} else {
			cycles = 3
			mc.trace(pc, "jmp 0x%04x", target)
		}

		next = target

	// BSET |1001 0100 0sss 1000|
	// BCLR |1001 0100 1sss 1000|
	case instruction&0xFF0F == 0x9408:
		bit := uint8((instruction >> 4) & 0x7)

		if instruction&0x0080 != 0 {
			mc.State.SREG[bit] = 0
			mc.trace(pc, "bclr %d", bit)
		} else {
			sei = bit == FLAG_I && mc.State.SREG[FLAG_I] == 0
			mc.State.SREG[bit] = 1
			mc.trace(pc, "bset %d", bit)
		}

	// RET  |1001 0101 0000 1000|
	// RETI |1001 0101 0001 1000|
	case instruction == OP_RET, instruction == OP_RETI:
		next = mc.popAddr()
		cycles = 4 + uint64(mc.Profile.PCBytes()-2)

		if instruction == OP_RETI {
			mc.State.SREG[FLAG_I] = 1
			mc.trace(pc, "reti")
		} else {
			mc.trace(pc, "ret")
		}

	// SLEEP|1001 0101 1000 1000|
	case instruction == OP_SLEEP:
		mc.trace(pc, "sleep")

		if mc.State.SREG[FLAG_I] == 0 {
			mc.log().Info("sleeping with interrupts off, quitting gracefully")
			mc.status = StatusDone
		} else {
			mc.State.Sleeping = true
		}

	// BREAK|1001 0101 1001 1000|
	case instruction == OP_BREAK:
		mc.trace(pc, "break")

		if mc.Debugger != nil {
			mc.State.Program = next
			mc.State.Cycle += cycles
			mc.Debugger.Trap(mc)
			return false
		}

	// WDR  |1001 0101 1010 1000|
	case instruction == OP_WDR:
		mc.trace(pc, "wdr")

	default:
		mc.crash("invalid opcode 0x%04x", instruction)
		return false
	}

	// Faulting memory accesses leave the PC on the instruction
	if mc.status == StatusCrashed {
		return false
	}

	mc.State.Cycle += cycles

	// A watchpoint handler may have moved the PC mid-instruction
	if mc.State.Program == pc {
		mc.State.Program = next
	}

	return sei
}
