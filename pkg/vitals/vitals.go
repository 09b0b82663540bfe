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

// Package vitals reports the state of a core after a run.
package vitals

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/lassandro/goavr/pkg/encoding"
	"github.com/lassandro/goavr/pkg/sim"
)

// StdoutPath selects standard output as the sink.
const StdoutPath = "-"

var stdout io.Writer = os.Stdout

type Vitals struct {
	Cycles       uint64
	Instructions uint64
	PC           uint32
	InfiniteLoop bool

	// Data holds the whole data address space with SREG at 0x5F.
	Data []byte
}

type Source interface {
	PC() uint32
	Cycle() uint64
	DataMemory() []byte
}

// Collect snapshots src after a run. The infinite loop note is only carried
// when detection was enabled and is what stopped the run.
func Collect(src Source, result sim.Result, limits sim.Limits) Vitals {
	return Vitals{
		Cycles:       src.Cycle(),
		Instructions: result.Instructions,
		PC:           src.PC(),
		InfiniteLoop: limits.ExitOnInfiniteLoop &&
			result.Reason == sim.VacuousInfiniteLoop,
		Data: src.DataMemory(),
	}
}

func Write(w io.Writer, v Vitals) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Cycle Count: %d\n", v.Cycles)
	fmt.Fprintf(bw, "Instruction Count: %d\n", v.Instructions)
	fmt.Fprintf(bw, "PC = 0x%08x\n", v.PC)

	if v.InfiniteLoop {
		fmt.Fprint(bw, "Infinite loop detected.\n")
	}

	fmt.Fprint(bw, "CONTENTS OF DATA MEMORY: ")

	if err := encoding.WriteHexBytes(bw, v.Data); err != nil {
		return err
	}

	fmt.Fprint(bw, "\n")

	return bw.Flush()
}

// Dump writes v to path, or to standard output when path is "-". Files are
// created or truncated. Standard output is left open.
func Dump(path string, v Vitals) error {
	if path == StdoutPath {
		return errors.Wrap(Write(stdout, v), "unable to dump vitals")
	}

	file, err := os.Create(path)

	if err != nil {
		return errors.Wrap(err, "unable to dump vitals")
	}

	if err := Write(file, v); err != nil {
		file.Close()
		return errors.Wrapf(err, "unable to dump vitals to %s", path)
	}

	return errors.Wrapf(file.Close(), "unable to dump vitals to %s", path)
}
