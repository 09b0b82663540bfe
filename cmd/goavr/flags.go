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

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lassandro/goavr/pkg/encoding"
	"github.com/lassandro/goavr/pkg/firmware"
)

// countFlag counts how many times a bare flag is given. -t=3 sets it.
type countFlag int

func (c *countFlag) String() string {
	if c == nil {
		return "0"
	}
	return strconv.Itoa(int(*c))
}

func (c *countFlag) Set(s string) error {
	if s == "true" {
		*c++
		return nil
	}

	n, err := strconv.Atoi(s)

	if err != nil {
		return err
	}

	*c = countFlag(n)
	return nil
}

func (c *countFlag) IsBoolFlag() bool {
	return true
}

// vectorsFlag collects interrupt vector numbers from repeated flags.
type vectorsFlag []int

func (v *vectorsFlag) String() string {
	if v == nil {
		return ""
	}

	s := make([]string, len(*v))
	for i, n := range *v {
		s[i] = strconv.Itoa(n)
	}

	return strings.Join(s, ",")
}

func (v *vectorsFlag) Set(s string) error {
	n, err := strconv.Atoi(s)

	if err != nil {
		return err
	}

	*v = append(*v, n)
	return nil
}

// loadBaseFlag sets the segment HEX chunks are assumed relative to. -ee and
// -ff share one value so the last one given wins.
type loadBaseFlag struct {
	base  *uint32
	value uint32
}

func (l loadBaseFlag) String() string {
	if l.base == nil {
		return ""
	}
	return strconv.FormatBool(*l.base == l.value)
}

func (l loadBaseFlag) Set(s string) error {
	set, err := strconv.ParseBool(s)

	if err != nil {
		return err
	}

	if set {
		*l.base = l.value
	} else if *l.base == l.value {
		*l.base = firmware.SegmentOffsetFlash
	}

	return nil
}

func (l loadBaseFlag) IsBoolFlag() bool {
	return true
}

// freqFlag accepts decimal or 0x-prefixed hexadecimal frequencies.
type freqFlag uint32

func (f *freqFlag) String() string {
	if f == nil {
		return "0"
	}
	return fmt.Sprint(uint32(*f))
}

func (f *freqFlag) Set(s string) error {
	n, err := encoding.DecodeUint(s)

	if err != nil {
		return err
	}

	*f = freqFlag(n)
	return nil
}
