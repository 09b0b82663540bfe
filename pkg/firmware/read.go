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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Config carries the command line settings that apply to a firmware file.
type Config struct {
	// MCU overrides the device name found in the file. Required for HEX.
	MCU string

	// Frequency overrides the clock found in the file. Required for HEX.
	Frequency uint32

	// LoadBase is the segment offset HEX chunks are assumed relative to,
	// SegmentOffsetFlash or SegmentOffsetEEPROM.
	LoadBase uint32
}

// IsHex reports whether path names an Intel HEX file. Anything else is
// treated as ELF.
func IsHex(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".hex")
}

// Read loads the firmware at path and applies the overrides in cfg.
//
// HEX files are rejected with ErrMissingDevice before they are opened when
// cfg lacks a device name or frequency.
func Read(path string, cfg Config) (*Firmware, error) {
	if len(cfg.MCU) > MaxNameLength {
		return nil, errors.Wrapf(ErrNameTooLong, "%q", cfg.MCU)
	}

	var fw *Firmware

	if IsHex(path) {
		if cfg.MCU == "" || cfg.Frequency == 0 {
			return nil, ErrMissingDevice
		}

		chunks, err := ReadIHex(path)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to load IHEX file %s", path)
		}

		slog.Info(fmt.Sprintf("Loaded %d section(s) of ihex", len(chunks)))

		fw = &Firmware{}
		Normalize(fw, chunks, cfg.LoadBase)
	} else {
		var err error

		fw, err = ReadELF(path)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to load firmware from file %s", path)
		}
	}

	if cfg.MCU != "" {
		fw.MCU = cfg.MCU
	}

	if cfg.Frequency != 0 {
		fw.Frequency = cfg.Frequency
	}

	return fw, nil
}

func hex32(v uint32) string {
	return fmt.Sprintf("%08x", v)
}
