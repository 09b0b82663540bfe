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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/lassandro/goavr/pkg/firmware"
)

type testMachineState struct {
	Program   uint32
	Registers map[int]byte
	SREG      byte
	Memory    map[uint16]byte
	Stack     uint16
	Cycle     uint64
}

type testCase struct {
	Name   string
	Device string
	Steps  uint
	Flash  []uint16
	Status Status
	Input  testMachineState
	Output testMachineState
}

func newTestMachine(t *testing.T, device string, flash ...uint16) *Machine {
	t.Helper()

	if device == "" {
		device = "atmega328p"
	}

	mc, err := New(device)

	if err != nil {
		t.Fatalf("New(%q): %v", device, err)
	}

	mc.Init()

	for i, word := range flash {
		mc.State.Flash[2*i] = byte(word)
		mc.State.Flash[2*i+1] = byte(word >> 8)
	}

	return mc
}

func testMachineSuccess(t *testing.T, test *testCase) {
	mc := newTestMachine(t, test.Device, test.Flash...)

	mc.State.Program = test.Input.Program
	mc.SetSREG(test.Input.SREG)

	for reg, value := range test.Input.Registers {
		mc.State.Data[reg] = value
	}

	for addr, value := range test.Input.Memory {
		mc.State.Data[addr] = value
	}

	if test.Input.Stack != 0 {
		mc.SetSP(test.Input.Stack)
	}

	if test.Steps == 0 {
		test.Steps = 1
	}

	var status Status
	for i := uint(0); i < test.Steps; i++ {
		status = mc.Step()
	}

	if status != test.Status {
		t.Errorf(
			"Status mismatch\nwant:%s (test.Status)\nhave:%s",
			test.Status,
			status,
		)
	}

	for i := 0; i < 32; i++ {
		want, expecting := test.Output.Registers[i]
		if !expecting {
			want = test.Input.Registers[i]
		}

		if have := mc.State.Data[i]; have != want {
			t.Errorf(
				"Register mismatch"+
					"\nwant:%#02x (r%d)\nhave:%#02x",
				want,
				i,
				have,
			)
		}
	}

	if mc.State.Program != test.Output.Program {
		t.Errorf(
			"Program counter mismatch"+
				"\nwant:%#04x (test.Output.Program)\nhave:%#04x",
			test.Output.Program,
			mc.State.Program,
		)
	}

	if have := mc.SREG(); have != test.Output.SREG {
		t.Errorf(
			"SREG mismatch"+
				"\nwant:%#08b (test.Output.SREG)\nhave:%#08b",
			test.Output.SREG,
			have,
		)
	}

	if test.Output.Stack != 0 {
		if have := mc.SP(); have != test.Output.Stack {
			t.Errorf(
				"Stack pointer mismatch"+
					"\nwant:%#04x (test.Output.Stack)\nhave:%#04x",
				test.Output.Stack,
				have,
			)
		}
	}

	if test.Output.Cycle != 0 && mc.State.Cycle != test.Output.Cycle {
		t.Errorf(
			"Cycle count mismatch"+
				"\nwant:%d (test.Output.Cycle)\nhave:%d",
			test.Output.Cycle,
			mc.State.Cycle,
		)
	}

	for addr, want := range test.Output.Memory {
		if have := mc.State.Data[addr]; have != want {
			t.Errorf(
				"Memory value mismatch"+
					"\nwant:%#02x (test.Output.Memory[%#04x])\nhave:%#02x",
				want,
				addr,
				have,
			)
		}
	}
}

func testSuccess(t *testing.T, tests []testCase) {
	t.Run("Success", func(t *testing.T) {
		for _, test := range tests {
			t.Run(test.Name, func(t *testing.T) {
				testMachineSuccess(t, &test)
			})
		}
	})
}

func TestArithmetic(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name:  "ADD Overflow",
			Flash: []uint16{0b0000_11_0_00001_0010},
			Input: testMachineState{
				Registers: map[int]byte{1: 0x7F, 2: 0x01},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{1: 0x80},
				SREG:      0x2C, // H V N
				Cycle:     1,
			},
		},
		{
			Name:  "ADD Carry Zero",
			Flash: []uint16{0x0C12},
			Input: testMachineState{
				Registers: map[int]byte{1: 0xFF, 2: 0x01},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{1: 0x00},
				SREG:      0x23, // H Z C
			},
		},
		{
			Name:  "ADC Carry In",
			Flash: []uint16{0x1C12},
			Input: testMachineState{
				Registers: map[int]byte{1: 0x01, 2: 0x01},
				SREG:      0x01,
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{1: 0x03},
				SREG:      0x00,
			},
		},
		{
			Name:  "SUB Half Borrow",
			Flash: []uint16{0x1B01},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x10, 17: 0x01},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{16: 0x0F},
				SREG:      0x20, // H
			},
		},
		{
			Name:  "CP Equal",
			Flash: []uint16{0x1701},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x05, 17: 0x05},
			},
			Output: testMachineState{
				Program: 0x0002,
				SREG:    0x02, // Z
			},
		},
		{
			Name:  "CPI Less",
			Flash: []uint16{0x3005},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x03},
			},
			Output: testMachineState{
				Program: 0x0002,
				SREG:    0x35, // H S N C
			},
		},
		{
			Name:  "SUBI Zero",
			Flash: []uint16{0x5011},
			Input: testMachineState{
				Registers: map[int]byte{17: 0x01},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{17: 0x00},
				SREG:      0x02, // Z
			},
		},
		{
			Name:  "INC Overflow",
			Flash: []uint16{0x9503},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x7F},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{16: 0x80},
				SREG:      0x0C, // V N
			},
		},
		{
			Name:  "DEC Zero",
			Flash: []uint16{0x950A},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x01},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{16: 0x00},
				SREG:      0x02, // Z
			},
		},
	})
}

func TestLogic(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name:  "AND",
			Flash: []uint16{0x2012},
			Input: testMachineState{
				Registers: map[int]byte{1: 0xF0, 2: 0x3C},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{1: 0x30},
			},
		},
		{
			Name:  "EOR Clear",
			Flash: []uint16{0x2411},
			Input: testMachineState{
				Registers: map[int]byte{1: 0x5A},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{1: 0x00},
				SREG:      0x02, // Z
			},
		},
		{
			Name:  "OR Negative Clears V",
			Flash: []uint16{0x2812},
			Input: testMachineState{
				Registers: map[int]byte{1: 0x80, 2: 0x01},
				SREG:      0x08,
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{1: 0x81},
				SREG:      0x14, // S N
			},
		},
		{
			Name:  "MOV",
			Flash: []uint16{0x2E0F},
			Input: testMachineState{
				Registers: map[int]byte{31: 0x42},
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{0: 0x42},
			},
		},
		{
			Name:  "LDI",
			Flash: []uint16{0xEA0B},
			Input: testMachineState{
				SREG: 0x80,
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{16: 0xAB},
				SREG:      0x80,
			},
		},
	})
}

func TestControl(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name:  "NOP",
			Flash: []uint16{OP_NOP},
			Output: testMachineState{
				Program: 0x0002,
				Cycle:   1,
			},
		},
		{
			Name:  "RJMP Self",
			Flash: []uint16{0xCFFF},
			Output: testMachineState{
				Program: 0x0000,
				Cycle:   2,
			},
		},
		{
			Name:  "RJMP Forward",
			Flash: []uint16{0xC001},
			Output: testMachineState{
				Program: 0x0004,
			},
		},
		{
			Name:  "RCALL",
			Flash: []uint16{0xD001},
			Output: testMachineState{
				Program: 0x0004,
				Stack:   0x08FD,
				Cycle:   3,
				Memory:  map[uint16]byte{0x08FF: 0x01, 0x08FE: 0x00},
			},
		},
		{
			Name:  "RET",
			Flash: []uint16{OP_RET},
			Input: testMachineState{
				Stack:  0x08FD,
				Memory: map[uint16]byte{0x08FE: 0x00, 0x08FF: 0x02},
			},
			Output: testMachineState{
				Program: 0x0004,
				Stack:   0x08FF,
				Cycle:   4,
			},
		},
		{
			Name:  "RETI",
			Flash: []uint16{OP_RETI},
			Input: testMachineState{
				Stack:  0x08FD,
				Memory: map[uint16]byte{0x08FE: 0x00, 0x08FF: 0x10},
			},
			Output: testMachineState{
				Program: 0x0020,
				SREG:    0x80,
			},
		},
		{
			Name:  "JMP",
			Flash: []uint16{0x940C, 0x0010},
			Output: testMachineState{
				Program: 0x0020,
				Cycle:   3,
			},
		},
		{
			Name:   "CALL 22 Bit PC",
			Device: "atmega2560",
			Flash:  []uint16{0x940E, 0x0010},
			Output: testMachineState{
				Program: 0x0020,
				Stack:   0x21FC,
				Cycle:   5,
				Memory: map[uint16]byte{
					0x21FF: 0x02,
					0x21FE: 0x00,
					0x21FD: 0x00,
				},
			},
		},
		{
			Name:  "BRNE Taken",
			Flash: []uint16{0xF7F9},
			Output: testMachineState{
				Program: 0x0000,
				Cycle:   2,
			},
		},
		{
			Name:  "BREQ Not Taken",
			Flash: []uint16{0xF3F9},
			Output: testMachineState{
				Program: 0x0002,
				Cycle:   1,
			},
		},
		{
			Name:  "SEI",
			Flash: []uint16{0x9478},
			Output: testMachineState{
				Program: 0x0002,
				SREG:    0x80,
			},
		},
		{
			Name:  "CLI",
			Flash: []uint16{0x94F8},
			Input: testMachineState{
				SREG: 0x83,
			},
			Output: testMachineState{
				Program: 0x0002,
				SREG:    0x03,
			},
		},
		{
			Name:  "Loop",
			Steps: 7,
			Flash: []uint16{
				0xE003, // ldi r16, 3
				0x950A, // dec r16
				0xF7F1, // brne .-4
				OP_NOP,
			},
			Output: testMachineState{
				Program:   0x0006,
				Registers: map[int]byte{16: 0x00},
				SREG:      0x02,
				Cycle:     1 + 3 + 2 + 2 + 1,
			},
		},
	})
}

func TestMemory(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name:  "IN SREG",
			Flash: []uint16{0xB70F},
			Input: testMachineState{
				SREG: 0x82,
			},
			Output: testMachineState{
				Program:   0x0002,
				Registers: map[int]byte{16: 0x82},
				SREG:      0x82,
			},
		},
		{
			Name:  "OUT SREG",
			Flash: []uint16{0xBF0F},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x81},
			},
			Output: testMachineState{
				Program: 0x0002,
				SREG:    0x81,
				// The memory-mapped byte is not where SREG lives
				Memory: map[uint16]byte{REG_SREG: 0x00},
			},
		},
		{
			Name:  "STS",
			Flash: []uint16{0x9300, 0x0100},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x5A},
			},
			Output: testMachineState{
				Program: 0x0004,
				Cycle:   2,
				Memory:  map[uint16]byte{0x0100: 0x5A},
			},
		},
		{
			Name:  "LDS",
			Flash: []uint16{0x9100, 0x0100},
			Input: testMachineState{
				Memory: map[uint16]byte{0x0100: 0xA5},
			},
			Output: testMachineState{
				Program:   0x0004,
				Registers: map[int]byte{16: 0xA5},
			},
		},
		{
			Name:  "PUSH POP",
			Steps: 2,
			Flash: []uint16{0x930F, 0x911F},
			Input: testMachineState{
				Registers: map[int]byte{16: 0x77},
			},
			Output: testMachineState{
				Program:   0x0004,
				Registers: map[int]byte{17: 0x77},
				Stack:     0x08FF,
				Cycle:     4,
				Memory:    map[uint16]byte{0x08FF: 0x77},
			},
		},
	})
}

func TestCrash(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name:   "Invalid Opcode",
			Flash:  []uint16{0xFFFF},
			Status: StatusCrashed,
		},
		{
			Name:   "Erased Flash",
			Flash:  []uint16{OP_NOP},
			Steps:  3,
			Status: StatusCrashed,
			Output: testMachineState{
				Program: 0x0002,
			},
		},
		{
			Name:   "STS Outside Data",
			Flash:  []uint16{0x9300, 0x0900},
			Status: StatusCrashed,
		},
		{
			Name:   "PC Outside Flash",
			Status: StatusCrashed,
			Input: testMachineState{
				Program: 32 * 1024,
			},
			Output: testMachineState{
				Program: 32 * 1024,
			},
		},
	})
}

func TestSleep(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name:   "Interrupts Disabled",
			Flash:  []uint16{OP_SLEEP},
			Status: StatusDone,
			Output: testMachineState{
				Program: 0x0002,
			},
		},
		{
			Name:  "Interrupts Enabled",
			Flash: []uint16{OP_SLEEP},
			Steps: 4,
			Input: testMachineState{
				SREG: 0x80,
			},
			Output: testMachineState{
				Program: 0x0002,
				SREG:    0x80,
				Cycle:   4,
			},
		},
	})
}

func TestNewUnknownDevice(t *testing.T) {
	_, err := New("atmega9000")

	var unknown *UnknownDeviceError
	if !errors.As(err, &unknown) {
		t.Fatalf("want UnknownDeviceError, have %v", err)
	}

	if have := err.Error(); have != "AVR 'atmega9000' not known" {
		t.Errorf("Error message mismatch\nhave:%s", have)
	}
}

func TestLookup(t *testing.T) {
	device, ok := Lookup("ATmega2560")

	if !ok {
		t.Fatal("atmega2560 not found")
	}

	if have := device.DataSize(); have != 0x2200 {
		t.Errorf("DataSize mismatch\nwant:0x2200\nhave:%#x", have)
	}

	if have := device.PCBytes(); have != 3 {
		t.Errorf("PCBytes mismatch\nwant:3\nhave:%d", have)
	}

	for _, device := range Devices() {
		if device.RAMEnd < REG_SREG {
			t.Errorf("%s: RAMEND below SREG", device.Name())
		}
	}
}

func TestLoad(t *testing.T) {
	mc := newTestMachine(t, "attiny85")

	err := mc.Load(&firmware.Firmware{
		Flash:     []byte{0xFF, 0xCF},
		FlashBase: 0x1E00,
		EEPROM:    []byte{0x01, 0x02},
		Frequency: 8000000,
		Symbols:   map[uint32]string{0x1E00: "boot"},
	})

	if err != nil {
		t.Fatal(err)
	}

	if mc.PC() != 0x1E00 {
		t.Errorf("PC mismatch\nwant:0x1e00\nhave:%#x", mc.PC())
	}

	if !bytes.Equal(mc.State.Flash[0x1E00:0x1E02], []byte{0xFF, 0xCF}) {
		t.Errorf("Flash mismatch\nhave:% x", mc.State.Flash[0x1E00:0x1E02])
	}

	if mc.State.Flash[0] != 0xFF {
		t.Errorf("Flash outside the image is not erased")
	}

	if !bytes.Equal(mc.State.EEPROM[:3], []byte{0x01, 0x02, 0xFF}) {
		t.Errorf("EEPROM mismatch\nhave:% x", mc.State.EEPROM[:3])
	}

	if mc.Frequency != 8000000 {
		t.Errorf("Frequency mismatch\nhave:%d", mc.Frequency)
	}
}

func TestLoadTooLarge(t *testing.T) {
	mc := newTestMachine(t, "attiny85")

	err := mc.Load(&firmware.Firmware{
		Flash:     make([]byte, 8*1024),
		FlashBase: 2,
	})

	if !errors.Is(err, ErrFirmwareTooLarge) {
		t.Errorf("want ErrFirmwareTooLarge, have %v", err)
	}

	err = mc.Load(&firmware.Firmware{EEPROM: make([]byte, 513)})

	if !errors.Is(err, ErrFirmwareTooLarge) {
		t.Errorf("want ErrFirmwareTooLarge, have %v", err)
	}
}

func TestDataMemory(t *testing.T) {
	mc := newTestMachine(t, "atmega328p")
	mc.SetSREG(0x83)
	mc.State.Data[0x0100] = 0x42

	data := mc.DataMemory()

	if len(data) != 0x0900 {
		t.Fatalf("DataMemory size mismatch\nwant:0x900\nhave:%#x", len(data))
	}

	if data[REG_SREG] != 0x83 {
		t.Errorf("SREG not reassembled\nwant:0x83\nhave:%#02x", data[REG_SREG])
	}

	if data[0x0100] != 0x42 || data[REG_SPH] != 0x08 || data[REG_SPL] != 0xFF {
		t.Errorf("DataMemory does not mirror data")
	}

	data[0x0100] = 0
	if mc.State.Data[0x0100] != 0x42 {
		t.Errorf("DataMemory is not a copy")
	}
}

func TestInterrupts(t *testing.T) {
	mc := newTestMachine(t, "atmega328p",
		0x9478, // sei
		OP_NOP,
		OP_NOP,
	)

	if err := mc.Interrupts.Raise(0); err == nil {
		t.Error("reset vector must not be raisable")
	}

	if err := mc.Interrupts.Raise(26); err == nil {
		t.Error("vector past the table must not be raisable")
	}

	if err := mc.Interrupts.Raise(3); err != nil {
		t.Fatal(err)
	}

	// SEI, then the following instruction, then the handler
	mc.Step()

	if mc.PC() != 0x0002 || !mc.InterruptsEnabled() {
		t.Fatalf("SEI did not run\nhave pc:%#x", mc.PC())
	}

	mc.Step()

	if mc.PC() != 3*4 {
		t.Errorf("Handler not entered\nwant:%#x\nhave:%#x", 3*4, mc.PC())
	}

	if mc.InterruptsEnabled() {
		t.Error("Interrupts still enabled inside handler")
	}

	if mc.State.Data[0x08FF] != 0x02 {
		t.Errorf("Return address mismatch\nwant:0x02\nhave:%#02x", mc.State.Data[0x08FF])
	}
}

func TestInterruptWakesSleep(t *testing.T) {
	mc := newTestMachine(t, "atmega328p", OP_SLEEP)
	mc.State.SREG[FLAG_I] = 1

	mc.Step()
	mc.Step()

	if !mc.State.Sleeping {
		t.Fatal("SLEEP did not put the core to sleep")
	}

	if err := mc.Interrupts.Raise(1); err != nil {
		t.Fatal(err)
	}

	if status := mc.Step(); status != StatusRunning {
		t.Fatalf("Status mismatch\nhave:%s", status)
	}

	if mc.State.Sleeping || mc.PC() != 4 {
		t.Errorf("Interrupt did not wake the core\nhave pc:%#x", mc.PC())
	}
}

func TestTerminate(t *testing.T) {
	mc := newTestMachine(t, "atmega328p", 0xCFFF)

	mc.Terminate()
	mc.Terminate()

	if status := mc.Step(); status != StatusDone {
		t.Errorf("Status mismatch\nwant:done\nhave:%s", status)
	}

	if mc.Cycle() != 0 {
		t.Errorf("Terminated machine advanced")
	}
}

func TestTrace(t *testing.T) {
	var out bytes.Buffer

	mc := newTestMachine(t, "atmega328p", 0xEA0B, 0xCFFF)
	mc.Trace = 1
	mc.TraceOut = &out
	mc.Symbols = map[uint32]string{0x0002: "loop"}

	mc.Step()
	mc.Step()

	want := "0000: ldi r16, 0xab\n0002 <loop>: rjmp .-2\n"
	if have := out.String(); have != want {
		t.Errorf("Trace mismatch\nwant:%s\nhave:%s", want, have)
	}

	out.Reset()
	mc.Trace = 0
	mc.Step()

	if strings.TrimSpace(out.String()) != "" {
		t.Errorf("Trace written while disabled")
	}
}
