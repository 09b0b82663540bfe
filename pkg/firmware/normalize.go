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
	"log/slog"
)

// Region is the memory a chunk was assigned to by Normalize.
type Region int

const (
	RegionDropped Region = iota
	RegionFlash
	RegionEEPROM
)

func (r Region) String() string {
	switch r {
	case RegionFlash:
		return "flash"
	case RegionEEPROM:
		return "eeprom"
	default:
		return "dropped"
	}
}

// Classify decides which memory a chunk based at addr belongs to. loadBase
// is the segment offset the caller expects un-relocated chunks to live at,
// either SegmentOffsetFlash or SegmentOffsetEEPROM.
//
// Some tools write EEPROM records at their linked address and some write
// them relative to zero, so both the absolute and the relocated address are
// checked against the EEPROM segment.
func Classify(addr uint32, loadBase uint32) Region {
	if addr < flashLimit {
		return RegionFlash
	}

	if addr >= SegmentOffsetEEPROM || uint64(addr)+uint64(loadBase) >= uint64(SegmentOffsetEEPROM) {
		return RegionEEPROM
	}

	return RegionDropped
}

// Normalize moves the data of every chunk into fw according to Classify and
// returns the region picked for each chunk, in input order. When several
// chunks land in the same region the last one wins.
//
// Chunk buffers are handed over to fw rather than copied; the Data of every
// absorbed chunk is cleared.
func Normalize(fw *Firmware, chunks []Chunk, loadBase uint32) []Region {
	regions := make([]Region, len(chunks))

	for i := range chunks {
		chunk := &chunks[i]
		regions[i] = Classify(chunk.BaseAddr, loadBase)

		switch regions[i] {
		case RegionFlash:
			fw.Flash = chunk.Data
			fw.FlashBase = chunk.BaseAddr
			slog.Info("Load HEX flash",
				"base", hex32(fw.FlashBase),
				"size", chunk.Size,
			)

		case RegionEEPROM:
			fw.EEPROM = chunk.Data
			slog.Info("Load HEX eeprom",
				"base", hex32(chunk.BaseAddr),
				"size", chunk.Size,
			)

		default:
			slog.Warn("Dropping HEX chunk outside flash and eeprom",
				"base", hex32(chunk.BaseAddr),
				"size", chunk.Size,
			)
			continue
		}

		chunk.Data = nil
	}

	return regions
}
