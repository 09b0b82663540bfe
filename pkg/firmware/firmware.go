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

// Package firmware turns firmware files into a Firmware descriptor that a
// simulated AVR core can load.
//
// Two container formats are supported. ELF files carry their own device
// metadata in an optional .mmcu section and are read directly. Intel HEX
// files are read into address-tagged chunks which are then classified as
// flash or EEPROM data by Normalize.
package firmware

const (
	// SegmentOffsetFlash is the address flash data is linked at.
	SegmentOffsetFlash uint32 = 0x000000

	// SegmentOffsetData is the address data memory is linked at. Nothing at
	// or above it is flash.
	SegmentOffsetData uint32 = 0x800000

	// SegmentOffsetEEPROM is the address EEPROM data is linked at.
	SegmentOffsetEEPROM uint32 = 0x810000

	// SegmentOffsetFuse marks the end of the EEPROM segment.
	SegmentOffsetFuse uint32 = 0x820000

	// MaxNameLength bounds the device name carried by a Firmware.
	MaxNameLength = 23

	// Chunks based below this address are flash.
	flashLimit uint32 = 1 * 1024 * 1024
)

// Firmware is a program to load into a simulated device.
type Firmware struct {
	// MCU is the device name, such as "atmega328p".
	MCU string

	// Frequency is the device clock in Hz.
	Frequency uint32

	// Flash is the program image. It is loaded at FlashBase.
	Flash []byte

	// FlashBase is nonzero only for images linked at a bootloader offset.
	// The CPU starts executing there instead of at the reset vector.
	FlashBase uint32

	// EEPROM is the initial EEPROM image, or nil.
	EEPROM []byte

	// Symbols maps flash addresses to names, when the container has them.
	Symbols map[uint32]string
}

// Chunk is a contiguous run of bytes read from an Intel HEX file.
type Chunk struct {
	BaseAddr uint32
	Size     uint32
	Data     []byte
}

// End returns the address following the last byte of the chunk.
func (c *Chunk) End() uint32 {
	return c.BaseAddr + c.Size
}
