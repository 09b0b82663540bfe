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

package firmware

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

// Tags found in the .mmcu section. Every entry is a tag byte, a length byte
// and length bytes of payload; a zero tag ends the list.
const (
	mmcuTagEnd       byte = 0
	mmcuTagName      byte = 1
	mmcuTagFrequency byte = 2
)

// ReadELF reads the ELF file at path.
func ReadELF(path string) (*Firmware, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return readELF(f)
}

// ParseELF reads an ELF image from r.
func ParseELF(r io.ReaderAt) (*Firmware, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}

	return readELF(f)
}

type segment struct {
	addr uint32
	data []byte
}

func readELF(f *elf.File) (*Firmware, error) {
	if f.Machine != elf.EM_AVR {
		slog.Warn("ELF file is not built for AVR", "machine", f.Machine.String())
	}

	var flash, eeprom []segment

	// Program headers carry load addresses, which is where .data lives in
	// flash (after .text) rather than its SRAM address.
	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD || ph.Filesz == 0 {
			continue
		}

		buf := make([]byte, ph.Filesz)
		if _, err := ph.ReadAt(buf, 0); err != nil {
			return nil, errors.Wrap(err, "read segment")
		}

		addr := uint32(ph.Paddr)

		switch {
		case addr < SegmentOffsetData:
			flash = append(flash, segment{addr, buf})
		case addr >= SegmentOffsetEEPROM && addr < SegmentOffsetFuse:
			eeprom = append(eeprom, segment{addr - SegmentOffsetEEPROM, buf})
		default:
			slog.Debug("Skipping ELF segment", "paddr", hex32(addr), "size", len(buf))
		}
	}

	if len(flash) == 0 {
		return nil, ErrNoFlash
	}

	var fw Firmware
	fw.FlashBase, fw.Flash = flatten(flash)

	if len(eeprom) > 0 {
		var base uint32
		base, fw.EEPROM = flatten(eeprom)
		// EEPROM images always start at EEPROM address zero
		if base != 0 {
			fw.EEPROM = append(make([]byte, base), fw.EEPROM...)
		}
	}

	if section := f.Section(".mmcu"); section != nil {
		data, err := section.Data()
		if err != nil {
			return nil, errors.Wrap(err, "read .mmcu section")
		}
		parseMMCU(&fw, data)
	}

	fw.Symbols = readSymbols(f)

	slog.Debug("Loaded ELF firmware",
		"mcu", fw.MCU,
		"frequency", fw.Frequency,
		"flash", len(fw.Flash),
		"eeprom", len(fw.EEPROM),
		"symbols", len(fw.Symbols),
	)

	return &fw, nil
}

// flatten lays segments out in one buffer starting at the lowest segment
// address, zero filling any gaps.
func flatten(segments []segment) (uint32, []byte) {
	lo, hi := segments[0].addr, uint32(0)

	for _, s := range segments {
		if s.addr < lo {
			lo = s.addr
		}
		if end := s.addr + uint32(len(s.data)); end > hi {
			hi = end
		}
	}

	image := make([]byte, hi-lo)

	for _, s := range segments {
		copy(image[s.addr-lo:], s.data)
	}

	return lo, image
}

func parseMMCU(fw *Firmware, data []byte) {
	for len(data) >= 2 {
		tag, size := data[0], int(data[1])
		data = data[2:]

		if tag == mmcuTagEnd {
			return
		}

		if size > len(data) {
			slog.Warn("Truncated .mmcu entry", "tag", tag)
			return
		}

		payload := data[:size]
		data = data[size:]

		switch tag {
		case mmcuTagName:
			if i := bytes.IndexByte(payload, 0); i >= 0 {
				payload = payload[:i]
			}
			if len(payload) > MaxNameLength {
				payload = payload[:MaxNameLength]
			}
			fw.MCU = string(payload)

		case mmcuTagFrequency:
			if size >= 4 {
				fw.Frequency = binary.LittleEndian.Uint32(payload)
			}
		}
	}
}

// readSymbols collects named code locations. Firmware without a symbol
// table yields nil.
func readSymbols(f *elf.File) map[uint32]string {
	syms, err := f.Symbols()
	if err != nil {
		return nil
	}

	result := make(map[uint32]string)

	for _, sym := range syms {
		kind := elf.ST_TYPE(sym.Info)

		if sym.Name == "" || sym.Value >= uint64(SegmentOffsetData) {
			continue
		}

		if sym.Section == elf.SHN_UNDEF || sym.Section == elf.SHN_ABS {
			continue
		}

		if kind != elf.STT_FUNC && kind != elf.STT_NOTYPE {
			continue
		}

		addr := uint32(sym.Value)

		// Functions take precedence over local labels at the same address
		if _, exists := result[addr]; exists && kind != elf.STT_FUNC {
			continue
		}

		result[addr] = sym.Name
	}

	return result
}
