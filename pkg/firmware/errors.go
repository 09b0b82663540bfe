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

	"github.com/pkg/errors"
)

var (
	// ErrMissingDevice is returned when an Intel HEX file is read without
	// a device name or clock frequency. HEX files carry neither.
	ErrMissingDevice = errors.New("-mcu and -freq are mandatory to load .hex files")

	// ErrNoChunks is returned for Intel HEX input without data records.
	ErrNoChunks = errors.New("no data records")

	// ErrNoFlash is returned for ELF input without loadable flash segments.
	ErrNoFlash = errors.New("no loadable flash segments")

	// ErrNameTooLong is returned for device names over MaxNameLength.
	ErrNameTooLong = errors.New("device name too long")
)

// RecordError reports a malformed Intel HEX record.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// ChecksumError indicates that an Intel HEX record failed verification.
type ChecksumError struct {
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: got 0x%02X, expected 0x%02X",
		e.Actual, e.Expected)
}
