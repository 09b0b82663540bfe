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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSegment struct {
	paddr uint32
	data  []byte
}

// buildELF assembles a little-endian ELF32 AVR executable holding one
// PT_LOAD header per segment and, when mmcu is not nil, a .mmcu section.
func buildELF(t *testing.T, segments []testSegment, mmcu []byte) []byte {
	t.Helper()

	const (
		ehsize    = 52
		phentsize = 32
		shentsize = 40
	)

	var payload bytes.Buffer
	dataOff := uint32(ehsize + phentsize*len(segments))

	progs := make([]elf.Prog32, len(segments))
	for i, s := range segments {
		progs[i] = elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    dataOff + uint32(payload.Len()),
			Vaddr:  s.paddr,
			Paddr:  s.paddr,
			Filesz: uint32(len(s.data)),
			Memsz:  uint32(len(s.data)),
			Flags:  uint32(elf.PF_R | elf.PF_X),
			Align:  1,
		}
		payload.Write(s.data)
	}

	sections := []elf.Section32{{}}
	shstrtab := []byte("\x00")

	if mmcu != nil {
		sections = append(sections, elf.Section32{
			Name:      uint32(len(shstrtab)),
			Type:      uint32(elf.SHT_PROGBITS),
			Off:       dataOff + uint32(payload.Len()),
			Size:      uint32(len(mmcu)),
			Addralign: 1,
		})
		shstrtab = append(shstrtab, ".mmcu\x00"...)
		payload.Write(mmcu)
	}

	sections = append(sections, elf.Section32{
		Name:      uint32(len(shstrtab)),
		Type:      uint32(elf.SHT_STRTAB),
		Off:       dataOff + uint32(payload.Len()),
		Addralign: 1,
	})
	shstrtab = append(shstrtab, ".shstrtab\x00"...)
	sections[len(sections)-1].Size = uint32(len(shstrtab))
	payload.Write(shstrtab)

	for payload.Len()%4 != 0 {
		payload.WriteByte(0)
	}

	header := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_AVR),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehsize,
		Shoff:     dataOff + uint32(payload.Len()),
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(progs)),
		Shentsize: shentsize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(len(sections) - 1),
	}
	copy(header.Ident[:], elf.ELFMAG)
	header.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	header.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	header.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	require.NoError(t, binary.Write(&out, binary.LittleEndian, header))
	require.NoError(t, binary.Write(&out, binary.LittleEndian, progs))
	out.Write(payload.Bytes())
	require.NoError(t, binary.Write(&out, binary.LittleEndian, sections))

	return out.Bytes()
}

func mmcuSection(name string, freq uint32) []byte {
	var b bytes.Buffer

	b.WriteByte(mmcuTagName)
	b.WriteByte(byte(len(name) + 1))
	b.WriteString(name)
	b.WriteByte(0)

	b.WriteByte(mmcuTagFrequency)
	b.WriteByte(4)
	_ = binary.Write(&b, binary.LittleEndian, freq)

	b.Write([]byte{mmcuTagEnd, 0})

	return b.Bytes()
}

func TestParseELF(t *testing.T) {
	image := buildELF(t, []testSegment{
		{0x0000, []byte{0x0C, 0x94, 0x34, 0x00}},
		// .data is loaded right behind .text
		{0x0004, []byte{0xDE, 0xAD}},
		{SegmentOffsetEEPROM + 2, []byte{0x11, 0x22}},
		// fuses are not part of either image
		{SegmentOffsetFuse, []byte{0xFF, 0xD9, 0xFD}},
	}, mmcuSection("atmega328p", 16000000))

	fw, err := ParseELF(bytes.NewReader(image))
	require.NoError(t, err)

	assert.Equal(t, "atmega328p", fw.MCU)
	assert.Equal(t, uint32(16000000), fw.Frequency)
	assert.Equal(t, uint32(0), fw.FlashBase)
	assert.Equal(t, []byte{0x0C, 0x94, 0x34, 0x00, 0xDE, 0xAD}, fw.Flash)
	assert.Equal(t, []byte{0x00, 0x00, 0x11, 0x22}, fw.EEPROM)
	assert.Empty(t, fw.Symbols)
}

func TestParseELFBootloader(t *testing.T) {
	image := buildELF(t, []testSegment{
		{0x7E00, []byte{0xFF, 0xCF}},
	}, nil)

	fw, err := ParseELF(bytes.NewReader(image))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x7E00), fw.FlashBase)
	assert.Equal(t, []byte{0xFF, 0xCF}, fw.Flash)
	assert.Nil(t, fw.EEPROM)
	assert.Equal(t, "", fw.MCU)
	assert.Equal(t, uint32(0), fw.Frequency)
}

func TestParseELFGapIsZeroFilled(t *testing.T) {
	image := buildELF(t, []testSegment{
		{0x0004, []byte{0x03}},
		{0x0000, []byte{0x01}},
	}, nil)

	fw, err := ParseELF(bytes.NewReader(image))
	require.NoError(t, err)

	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00, 0x03}, fw.Flash)
}

func TestParseELFWithoutFlash(t *testing.T) {
	image := buildELF(t, []testSegment{
		{SegmentOffsetEEPROM, []byte{0x01}},
	}, nil)

	_, err := ParseELF(bytes.NewReader(image))
	assert.ErrorIs(t, err, ErrNoFlash)
}

func TestParseELFGarbage(t *testing.T) {
	_, err := ParseELF(bytes.NewReader([]byte(":00000001FF\n")))
	assert.Error(t, err)
}

func TestParseMMCU(t *testing.T) {
	t.Run("truncated entry", func(t *testing.T) {
		var fw Firmware
		parseMMCU(&fw, []byte{mmcuTagName, 10, 'a', 't'})
		assert.Equal(t, "", fw.MCU)
	})

	t.Run("unknown tags are skipped", func(t *testing.T) {
		var fw Firmware
		parseMMCU(&fw, append([]byte{0x03, 2, 0x14, 0x00}, mmcuSection("attiny85", 8000000)...))
		assert.Equal(t, "attiny85", fw.MCU)
		assert.Equal(t, uint32(8000000), fw.Frequency)
	})

	t.Run("long names are bounded", func(t *testing.T) {
		var fw Firmware
		parseMMCU(&fw, mmcuSection("atmega328p-with-a-very-long-suffix", 1))
		assert.Len(t, fw.MCU, MaxNameLength)
	})
}

func TestReadELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blink.elf")
	require.NoError(t, os.WriteFile(path, buildELF(t, []testSegment{
		{0x0000, []byte{0x00, 0x00}},
	}, mmcuSection("atmega88", 8000000)), 0o644))

	fw, err := ReadELF(path)
	require.NoError(t, err)
	assert.Equal(t, "atmega88", fw.MCU)
	assert.Equal(t, []byte{0x00, 0x00}, fw.Flash)

	_, err = ReadELF(filepath.Join(t.TempDir(), "missing.elf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
