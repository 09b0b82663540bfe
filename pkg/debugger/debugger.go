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

package debugger

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/lassandro/goavr/pkg/machine"
)

var _ machine.MachineDebugger = (*Debugger)(nil)

func (dbg *Debugger) Step(mc *machine.Machine) {
	if dbg.Break {
		dbg.handleBreak(mc)
		return
	}

	for _, breakpoint := range dbg.Breakpoints {
		if mc.State.Program == breakpoint.Addr {
			dbg.handleBreak(mc)
			break
		}
	}
}

// Trap is called when the firmware executes a BREAK instruction. The
// machine stops at the end of the step.
func (dbg *Debugger) Trap(mc *machine.Machine) {
	dbg.Break = true
}

func (dbg *Debugger) Read(addr uint16, mc *machine.Machine) {
	for _, watchpoint := range dbg.Watchpoints {
		if watchpoint.Type == WriteWatch {
			continue
		}

		if addr == watchpoint.Addr {
			if dbg.HandleRead != nil {
				dbg.HandleRead(addr, dbg, mc)
			}
			break
		}
	}
}

func (dbg *Debugger) Write(addr uint16, mc *machine.Machine) {
	for _, watchpoint := range dbg.Watchpoints {
		if watchpoint.Type == ReadWatch {
			continue
		}

		if addr == watchpoint.Addr {
			if dbg.HandleWrite != nil {
				dbg.HandleWrite(addr, dbg, mc)
			}
			break
		}
	}
}

func (dbg *Debugger) handleBreak(mc *machine.Machine) {
	if dbg.HandleBreak != nil {
		dbg.HandleBreak(dbg, mc)
	}
}

func (dbg *Debugger) out() io.Writer {
	if dbg.Out != nil {
		return dbg.Out
	}
	return os.Stdout
}

// Bold highlights s when Color is set.
func (dbg *Debugger) Bold(s string) string {
	if !dbg.Color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

// Faint dims s when Color is set.
func (dbg *Debugger) Faint(s string) string {
	if !dbg.Color {
		return s
	}
	return "\033[1;30m" + s + "\033[0m"
}

// Symbolize formats a flash address with the symbol it starts, if any.
func (dbg *Debugger) Symbolize(addr uint32) string {
	if name, exists := dbg.Symbols[addr]; exists {
		return fmt.Sprintf("0x%04x <%s>", addr, name)
	}
	return fmt.Sprintf("0x%04x", addr)
}

// FindSymbol returns the flash address of the named symbol.
func (dbg *Debugger) FindSymbol(name string) (uint32, bool) {
	for addr, symbol := range dbg.Symbols {
		if symbol == name {
			return addr, true
		}
	}
	return 0, false
}

func (dbg *Debugger) PrintSymbols() {
	if len(dbg.Symbols) == 0 {
		fmt.Fprintln(dbg.out(), "No symbol table loaded")
		return
	}

	keys := make([]uint32, 0, len(dbg.Symbols))
	for addr := range dbg.Symbols {
		keys = append(keys, addr)
	}

	slices.Sort(keys)

	for _, addr := range keys {
		fmt.Fprintf(
			dbg.out(), "%s %s\n", dbg.Bold(fmt.Sprintf("[0x%04x]", addr)), dbg.Symbols[addr],
		)
	}
}

// PrintMem dumps count bytes of data memory starting at addr, eight per row.
func (dbg *Debugger) PrintMem(mc *machine.MachineState, addr, count uint16) {
	w := dbg.out()

	for i := uint32(addr); i < uint32(addr)+uint32(count); i++ {
		if i >= uint32(len(mc.Data)) {
			break
		}

		if i == uint32(addr) {
			fmt.Fprintf(w, "%s ", dbg.Bold(fmt.Sprintf("[0x%04x]", i)))
		} else if (i-uint32(addr))%8 == 0 {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "%s ", dbg.Bold(fmt.Sprintf("[0x%04x]", i)))
		}

		result := mc.Data[i]

		if result == 0 {
			fmt.Fprintf(w, "%s ", dbg.Faint(fmt.Sprintf("0x%02x", result)))
		} else {
			fmt.Fprintf(w, "0x%02x ", result)
		}
	}

	fmt.Fprintln(w)
}

func (dbg *Debugger) PrintRegisters(mc *machine.Machine) {
	w := dbg.out()

	for i := 0; i < 32; i++ {
		fmt.Fprintf(w, "%s 0x%02x\t", dbg.Bold(fmt.Sprintf("r%d:", i)), mc.State.Data[i])
		if i%8 == 7 {
			fmt.Fprintln(w)
		}
	}

	const flags = "CZNVSHTI"

	sreg := []byte("--------")
	for i, bit := range mc.State.SREG {
		if bit != 0 {
			sreg[len(sreg)-1-i] = flags[i]
		}
	}

	fmt.Fprintf(
		w,
		"%s %s\t%s 0x%04x\t%s %s\n",
		dbg.Bold("PC:"), dbg.Symbolize(mc.State.Program),
		dbg.Bold("SP:"), mc.SP(),
		dbg.Bold("SREG:"), sreg,
	)
}
