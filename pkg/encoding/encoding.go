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

package encoding

import (
	"errors"
	"io"
	"strconv"
	"strings"
)

var ErrInvalidHex = errors.New("Invalid hex string")

// Decodes a hexidecimal string in the formats: 0xFFFFFFFF, xFFFF, 0xFF, xFF
func DecodeHex(s string) (uint32, error) {
	if i := strings.IndexAny(s, "xX"); i == 0 {
		s = "0" + s
	} else if i == -1 || i != 1 || s[0] != '0' {
		return 0, ErrInvalidHex
	}

	result, err := strconv.ParseUint(s, 0, 32)

	if err != nil {
		return 0, err
	}

	return uint32(result), nil
}

// Decodes a base-10 string in the formats: #123, 123
func DecodeInt(s string) (int64, error) {
	if i := strings.Index(s, "#"); i == 0 {
		s = s[1:]
	}

	return strconv.ParseInt(s, 10, 64)
}

// Decodes either a hex string (see DecodeHex) or an unsigned base-10 string
func DecodeUint(s string) (uint32, error) {
	if strings.ContainsAny(s, "xX") {
		return DecodeHex(s)
	}

	result, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 32)

	if err != nil {
		return 0, err
	}

	return uint32(result), nil
}

// SignExtend widens the low bitcount bits of value to a signed offset.
func SignExtend(value uint16, bitcount uint16) int16 {
	if (value>>(bitcount-1))&0x1 == 1 {
		value |= (0xFFFF << bitcount)
	}

	return int16(value)
}

// WriteHexBytes writes every byte of data as two lowercase hex digits
// followed by a space.
func WriteHexBytes(w io.Writer, data []byte) error {
	const digits = "0123456789abcdef"

	buf := make([]byte, 0, 3*len(data))

	for _, b := range data {
		buf = append(buf, digits[b>>4], digits[b&0xF], ' ')
	}

	_, err := w.Write(buf)
	return err
}
