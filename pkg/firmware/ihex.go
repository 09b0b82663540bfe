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
	"bufio"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Intel HEX record types
const (
	recordData            byte = 0x00
	recordEOF             byte = 0x01
	recordExtendedSegment byte = 0x02
	recordStartSegment    byte = 0x03
	recordExtendedLinear  byte = 0x04
	recordStartLinear     byte = 0x05
)

// Byte count, two address bytes, record type and checksum
const recordOverhead = 5

// ReadIHex reads the Intel HEX file at path into chunks.
func ReadIHex(path string) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ParseIHex(f)
}

// ParseIHex reads Intel HEX records from r. Consecutive data records are
// merged into one chunk; a new chunk starts wherever the address of a
// record does not follow the end of the previous one.
//
// At least one data record is required.
func ParseIHex(r io.Reader) ([]Chunk, error) {
	scanner := bufio.NewScanner(r)

	var chunks []Chunk
	var base uint32
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		record, err := parseRecord(line)
		if err != nil {
			return nil, &RecordError{Line: lineNum, Err: err}
		}

		// |LL|AAAA|TT|DD...|CC|
		count := record[0]
		offset := uint32(record[1])<<8 | uint32(record[2])
		payload := record[4 : 4+int(count)]

		switch record[3] {
		case recordData:
			addr := base + offset

			if n := len(chunks); n > 0 && chunks[n-1].End() == addr {
				last := &chunks[n-1]
				last.Data = append(last.Data, payload...)
				last.Size += uint32(count)
			} else {
				data := make([]byte, len(payload))
				copy(data, payload)
				chunks = append(chunks, Chunk{
					BaseAddr: addr,
					Size:     uint32(count),
					Data:     data,
				})
			}

		case recordEOF:
			return finishChunks(chunks)

		case recordExtendedSegment:
			if count != 2 {
				return nil, &RecordError{Line: lineNum, Err: errors.New("segment address record must carry 2 bytes")}
			}
			base = (uint32(payload[0])<<8 | uint32(payload[1])) << 4

		case recordExtendedLinear:
			if count != 2 {
				return nil, &RecordError{Line: lineNum, Err: errors.New("linear address record must carry 2 bytes")}
			}
			base = (uint32(payload[0])<<8 | uint32(payload[1])) << 16

		case recordStartSegment, recordStartLinear:
			// Entry points are meaningless to a device that starts at its
			// reset vector.

		default:
			return nil, &RecordError{
				Line: lineNum,
				Err:  errors.Errorf("unknown record type 0x%02X", record[3]),
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}

	return finishChunks(chunks)
}

func finishChunks(chunks []Chunk) ([]Chunk, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	return chunks, nil
}

// parseRecord decodes and verifies a single ':'-prefixed record.
func parseRecord(line string) ([]byte, error) {
	if line[0] != ':' {
		return nil, errors.New("record must start with ':'")
	}

	record, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex data")
	}

	if len(record) < recordOverhead {
		return nil, errors.Errorf("record too short: got %d bytes, minimum is %d",
			len(record), recordOverhead)
	}

	if expected := recordOverhead + int(record[0]); len(record) != expected {
		return nil, errors.Errorf("data length mismatch: got %d bytes, expected %d",
			len(record), expected)
	}

	var sum byte
	for _, b := range record[:len(record)-1] {
		sum += b
	}

	if expected := ^sum + 1; record[len(record)-1] != expected {
		return nil, &ChecksumError{Expected: expected, Actual: record[len(record)-1]}
	}

	return record, nil
}
