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
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/lassandro/goavr/pkg/debugger"
	"github.com/lassandro/goavr/pkg/encoding"
	"github.com/lassandro/goavr/pkg/machine"
)

type repl struct {
	scanner *bufio.Scanner
	out     io.Writer
	lastcmd []string
}

func newREPL(in io.Reader, out io.Writer) *repl {
	return &repl{scanner: bufio.NewScanner(in), out: out}
}

// resolve accepts a hex address or the name of a symbol.
func resolve(dbg *debugger.Debugger, s string) (uint32, error) {
	if addr, exists := dbg.FindSymbol(s); exists {
		return addr, nil
	}
	return encoding.DecodeHex(s)
}

func (r *repl) debugBreak(dbg *debugger.Debugger, args []string) {
	if len(args) == 0 {
		args = append(args, "l")
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "a", "add":
		const usage = "break add [0x####|label]"

		if len(args) != 1 {
			log.Println(usage)
			return
		}

		addr, err := resolve(dbg, args[0])

		if err != nil {
			log.Println(err)
			return
		}

		for _, breakpoint := range dbg.Breakpoints {
			if breakpoint.Addr == addr {
				return
			}
		}

		dbg.Breakpoints = append(dbg.Breakpoints, debugger.Breakpoint{Addr: addr})
		fmt.Fprintf(r.out, "Breakpoint added [%s]\n", dbg.Symbolize(addr))

	case "l", "ls", "list":
		const usage = "break list"

		if len(args) != 0 {
			log.Println(usage)
			return
		}

		var fmtstring string
		{
			digits := math.Floor(math.Log10(float64(len(dbg.Breakpoints) + 1)))
			fmtstring = fmt.Sprintf("#%%0%dd: %%s\n", int64(digits)+1)
		}

		for i, breakpoint := range dbg.Breakpoints {
			fmt.Fprintf(r.out, fmtstring, i, dbg.Symbolize(breakpoint.Addr))
		}

	case "r", "rm", "remove":
		const usage = "break remove [#]"

		if len(args) != 1 {
			log.Println(usage)
			return
		}

		i, err := strconv.ParseInt(args[0], 10, 64)

		if err != nil {
			log.Println(err)
			return
		}

		if i < 0 || i >= int64(len(dbg.Breakpoints)) {
			log.Println("Invalid breakpoint number")
			return
		}

		dbg.Breakpoints[i] = dbg.Breakpoints[len(dbg.Breakpoints)-1]
		dbg.Breakpoints = dbg.Breakpoints[:len(dbg.Breakpoints)-1]
		fmt.Fprintf(r.out, "Breakpoint removed [%d]\n", i)

	case "clear":
		dbg.Breakpoints = nil
		fmt.Fprintln(r.out, "Breakpoints reset")

	default:
		log.Printf("break: '%s' is not a valid command\n", cmd)
	}
}

func (r *repl) debugWatch(dbg *debugger.Debugger, args []string) {
	const usage = "watch [add|list|rm|clear]"

	if len(args) == 0 {
		log.Println(usage)
		return
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "a", "add":
		const usage = "watch add [0x####] [read|write|readwrite]"

		if len(args) != 2 {
			log.Println(usage)
			return
		}

		addr, err := encoding.DecodeHex(args[0])

		if err != nil {
			log.Println(err)
			return
		}

		if addr > math.MaxUint16 {
			log.Printf("%#x is outside data memory\n", addr)
			return
		}

		var wtype debugger.WatchpointType

		switch args[1] {
		case "r", "read":
			wtype = debugger.ReadWatch
		case "w", "write":
			wtype = debugger.WriteWatch
		case "rw", "rwrite", "readwrite":
			wtype = debugger.ReadWriteWatch
		default:
			log.Println(usage)
			return
		}

		watchpoint := debugger.Watchpoint{Addr: uint16(addr), Type: wtype}

		for _, existing := range dbg.Watchpoints {
			if existing == watchpoint {
				return
			}
		}

		dbg.Watchpoints = append(dbg.Watchpoints, watchpoint)
		fmt.Fprintf(r.out, "Watchpoint added [0x%04x] (%s)\n", addr, wtype)

	case "l", "ls", "list":
		var fmtstring string
		{
			digits := math.Floor(math.Log10(float64(len(dbg.Watchpoints) + 1)))
			fmtstring = fmt.Sprintf("#%%0%dd: 0x%%04x %%s\n", int64(digits)+1)
		}

		for i, watchpoint := range dbg.Watchpoints {
			fmt.Fprintf(r.out, fmtstring, i, watchpoint.Addr, watchpoint.Type)
		}

	case "r", "rm", "remove":
		const usage = "watch rm [#]"

		if len(args) != 1 {
			log.Println(usage)
			return
		}

		i, err := strconv.ParseInt(args[0], 10, 64)

		if err != nil {
			log.Println(err)
			return
		}

		if i < 0 || i >= int64(len(dbg.Watchpoints)) {
			log.Println("Invalid watchpoint number")
			return
		}

		dbg.Watchpoints[i] = dbg.Watchpoints[len(dbg.Watchpoints)-1]
		dbg.Watchpoints = dbg.Watchpoints[:len(dbg.Watchpoints)-1]
		fmt.Fprintf(r.out, "Watchpoint removed [%d]\n", i)

	case "clear":
		dbg.Watchpoints = nil
		fmt.Fprintln(r.out, "Watchpoints reset")

	default:
		log.Printf("watch: '%s' is not a valid command\n", cmd)
	}
}

func (r *repl) debugReg(dbg *debugger.Debugger, mc *machine.Machine, args []string) {
	const usage = "register [r#|PC|SP|SREG] [0x####]"

	if len(args) == 0 {
		dbg.PrintRegisters(mc)
		return
	}

	if len(args) != 2 {
		log.Println(usage)
		return
	}

	value, err := encoding.DecodeUint(args[1])

	if err != nil {
		log.Println(err)
		return
	}

	name := strings.ToUpper(args[0])

	switch {
	case name == "PC":
		mc.State.Program = value &^ 1
	case name == "SP":
		mc.SetSP(uint16(value))
	case name == "SREG":
		mc.SetSREG(byte(value))
	case strings.HasPrefix(name, "R"):
		n, err := strconv.Atoi(name[1:])

		if err != nil || n < 0 || n > 31 {
			log.Println("Invalid register")
			return
		}

		mc.State.Data[n] = byte(value)
	default:
		log.Println("Invalid register")
		return
	}

	fmt.Fprintf(r.out, "%s 0x%02x\n", dbg.Bold(args[0]+":"), value)
}

func (r *repl) debugMemory(dbg *debugger.Debugger, mc *machine.Machine, args []string) {
	const usage = "memory [0x####|#] [#]"

	if len(args) > 2 {
		log.Println(usage)
		return
	}

	var size uint16 = 1
	var addr = mc.SP() + 1

	if len(args) > 0 {
		value, err := encoding.DecodeHex(args[0])

		if err != nil {
			n, err := encoding.DecodeInt(args[0])

			if err != nil || n < 0 || n > math.MaxUint16 {
				log.Println("Invalid count")
				return
			}

			size = uint16(n)
		} else {
			addr = uint16(value)
		}
	}

	if len(args) > 1 {
		n, err := encoding.DecodeInt(args[1])

		if err != nil || n < 0 || n > math.MaxUint16 {
			log.Println("Invalid count")
			return
		}

		size = uint16(n)
	}

	dbg.PrintMem(&mc.State, addr, size)
}

func (r *repl) debugSet(dbg *debugger.Debugger, mc *machine.Machine, args []string) {
	const usage = "set [0x####] [0x##]"

	if len(args) != 2 {
		log.Println(usage)
		return
	}

	addr, err := encoding.DecodeHex(args[0])

	if err != nil {
		log.Println(err)
		return
	}

	value, err := encoding.DecodeUint(args[1])

	if err != nil {
		log.Println(err)
		return
	}

	if addr >= uint32(len(mc.State.Data)) {
		log.Printf("%#x is outside data memory\n", addr)
		return
	}

	if uint16(addr) == machine.REG_SREG {
		mc.SetSREG(byte(value))
	} else {
		mc.State.Data[addr] = byte(value)
	}

	dbg.PrintMem(&mc.State, uint16(addr), 1)
}

func (r *repl) debugJump(dbg *debugger.Debugger, mc *machine.Machine, args []string) {
	const usage = "jump [0x####|label]"

	if len(args) != 1 {
		fmt.Fprintln(r.out, usage)
		return
	}

	addr, err := resolve(dbg, args[0])

	if err != nil {
		fmt.Fprintf(r.out, "Unable to find '%s'\n", args[0])
		return
	}

	mc.State.Program = addr &^ 1
	fmt.Fprintf(r.out, "%s %s\n", dbg.Bold("PC:"), dbg.Symbolize(mc.State.Program))
}

func (r *repl) debugIRQ(mc *machine.Machine, args []string) {
	const usage = "irq [#]"

	if len(args) != 1 {
		log.Println(usage)
		return
	}

	n, err := strconv.Atoi(args[0])

	if err != nil {
		log.Println(err)
		return
	}

	if err := mc.Interrupts.Raise(n); err != nil {
		log.Println(err)
		return
	}

	fmt.Fprintf(r.out, "IRQ%d pending\n", n)
}

// run reads commands until one of them resumes execution. Quitting, or the
// end of input, terminates the machine so the run stops after this step.
func (r *repl) run(dbg *debugger.Debugger, mc *machine.Machine) {
	for {
		fmt.Fprint(r.out, dbg.Faint("(dbg)")+" ")

		if !r.scanner.Scan() {
			fmt.Fprintln(r.out)
			mc.Terminate()
			return
		}

		args := strings.Fields(r.scanner.Text())

		if len(args) == 0 {
			if len(r.lastcmd) == 0 {
				continue
			}
			args = r.lastcmd
		} else {
			r.lastcmd = make([]string, len(args))
			copy(r.lastcmd, args)
		}

		cmd := args[0]
		args = args[1:]

		switch cmd {
		case "b", "bp", "break", "breakpoint":
			r.debugBreak(dbg, args)

		case "w", "wp", "watch", "watchpoint":
			r.debugWatch(dbg, args)

		case "r", "reg", "register", "registers":
			r.debugReg(dbg, mc, args)

		case "l", "label", "labels":
			dbg.PrintSymbols()

		case "j", "jmp", "jump":
			r.debugJump(dbg, mc, args)

		case "m", "mem", "memory":
			r.debugMemory(dbg, mc, args)

		case "set":
			r.debugSet(dbg, mc, args)

		case "i", "irq":
			r.debugIRQ(mc, args)

		case "c", "continue":
			dbg.Break = false
			return

		case "n", "next":
			dbg.Break = true
			return

		case "q", "quit", "exit":
			mc.Terminate()
			return

		case "clear":
			if dbg.Color {
				fmt.Fprint(r.out, "\033[H\033[2J")
			}

		default:
			fmt.Fprintf(r.out, "error: '%s' is not a valid command\n", cmd)
		}
	}
}

func (r *repl) handleBreak(dbg *debugger.Debugger, mc *machine.Machine) {
	if !dbg.Break {
		fmt.Fprintln(r.out)
		fmt.Fprintf(r.out, "Program stopped at %s\n", dbg.Symbolize(mc.State.Program))
	}
	r.run(dbg, mc)
}

func (r *repl) handleRead(addr uint16, dbg *debugger.Debugger, mc *machine.Machine) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Program stopped")
	dbg.PrintMem(&mc.State, addr, 1)
	r.run(dbg, mc)
}

func (r *repl) handleWrite(addr uint16, dbg *debugger.Debugger, mc *machine.Machine) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Program stopped")
	dbg.PrintMem(&mc.State, addr, 1)
	r.run(dbg, mc)
}
