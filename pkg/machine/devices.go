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
	"strings"
)

// Device describes the memories and vector table of one AVR part.
type Device struct {
	Names      []string
	FlashSize  uint32
	RAMEnd     uint16
	EEPROMSize uint16

	// Number of interrupt vectors, including reset, and the size in bytes
	// of a single vector table slot
	VectorCount int
	VectorSize  uint32
}

// DataSize is the size of the data address space: registers, I/O and SRAM.
func (d *Device) DataSize() int {
	return int(d.RAMEnd) + 1
}

// PCBytes is the number of bytes a return address takes on the stack.
func (d *Device) PCBytes() int {
	if d.FlashSize > 128*1024 {
		return 3
	}
	return 2
}

func (d *Device) Name() string {
	return d.Names[0]
}

var devices = []*Device{
	{
		Names:       []string{"atmega88", "atmega88p"},
		FlashSize:   8 * 1024,
		RAMEnd:      0x04FF,
		EEPROMSize:  512,
		VectorCount: 26,
		VectorSize:  2,
	},
	{
		Names:       []string{"atmega168", "atmega168p"},
		FlashSize:   16 * 1024,
		RAMEnd:      0x04FF,
		EEPROMSize:  512,
		VectorCount: 26,
		VectorSize:  4,
	},
	{
		Names:       []string{"atmega328p", "atmega328"},
		FlashSize:   32 * 1024,
		RAMEnd:      0x08FF,
		EEPROMSize:  1024,
		VectorCount: 26,
		VectorSize:  4,
	},
	{
		Names:       []string{"atmega32u4"},
		FlashSize:   32 * 1024,
		RAMEnd:      0x0AFF,
		EEPROMSize:  1024,
		VectorCount: 43,
		VectorSize:  4,
	},
	{
		Names:       []string{"atmega1280"},
		FlashSize:   128 * 1024,
		RAMEnd:      0x21FF,
		EEPROMSize:  4096,
		VectorCount: 57,
		VectorSize:  4,
	},
	{
		Names:       []string{"atmega2560"},
		FlashSize:   256 * 1024,
		RAMEnd:      0x21FF,
		EEPROMSize:  4096,
		VectorCount: 57,
		VectorSize:  4,
	},
	{
		Names:       []string{"attiny85"},
		FlashSize:   8 * 1024,
		RAMEnd:      0x025F,
		EEPROMSize:  512,
		VectorCount: 15,
		VectorSize:  2,
	},
}

// Devices lists every supported part.
func Devices() []*Device {
	return devices
}

// Lookup finds a device by any of its names, ignoring case.
func Lookup(name string) (*Device, bool) {
	for _, device := range devices {
		for _, alias := range device.Names {
			if strings.EqualFold(alias, name) {
				return device, true
			}
		}
	}

	return nil, false
}

// UnknownDeviceError is returned by New for names Lookup cannot resolve.
type UnknownDeviceError struct {
	Name string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("AVR '%s' not known", e.Name)
}
