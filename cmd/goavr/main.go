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
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/lassandro/goavr/pkg/debugger"
	"github.com/lassandro/goavr/pkg/firmware"
	"github.com/lassandro/goavr/pkg/machine"
	"github.com/lassandro/goavr/pkg/sim"
	"github.com/lassandro/goavr/pkg/vitals"
)

const usage = "goavr [options] <firmware>"

// Trace level below slog.LevelDebug used by -v -v -v.
const levelTrace = slog.LevelDebug - 4

type options struct {
	help       bool
	listCores  bool
	debug      bool
	mcu        string
	freq       freqFlag
	trace      countFlag
	verbose    countFlag
	vectors    vectorsFlag
	loadBase   uint32
	vitalsPath string
	limits     sim.Limits
}

func init() {
	exe, _ := os.Executable()
	log.SetFlags(0)
	log.SetPrefix(fmt.Sprintf("%s: ", filepath.Base(exe)))
	log.SetOutput(os.Stderr)
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("goavr", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage:", usage)
		fs.PrintDefaults()
	}

	fs.BoolVar(&opts.help, "h", false, "Displays command usage")
	fs.BoolVar(&opts.help, "help", false, "Displays command usage")
	fs.BoolVar(&opts.listCores, "list-cores", false, "Lists the supported AVR cores")
	fs.BoolVar(&opts.debug, "d", false, "Runs the machine in a debug CLI")
	fs.BoolVar(&opts.debug, "debug", false, "Runs the machine in a debug CLI")
	fs.StringVar(&opts.mcu, "m", "", "Sets the MCU type, mandatory for .hex firmware")
	fs.StringVar(&opts.mcu, "mcu", "", "Sets the MCU type, mandatory for .hex firmware")
	fs.Var(&opts.freq, "f", "Sets the clock frequency, mandatory for .hex firmware")
	fs.Var(&opts.freq, "freq", "Sets the clock frequency, mandatory for .hex firmware")
	fs.Var(&opts.trace, "t", "Traces every decoded instruction")
	fs.Var(&opts.trace, "trace", "Traces every decoded instruction")
	fs.Var(&opts.vectors, "ti", "Traces IRQ `vector` (repeatable)")
	fs.Var(&opts.verbose, "v", "Raises the log level (repeatable)")

	fs.Var(
		loadBaseFlag{&opts.loadBase, firmware.SegmentOffsetEEPROM},
		"ee", "Loads .hex data as eeprom",
	)
	fs.Var(
		loadBaseFlag{&opts.loadBase, firmware.SegmentOffsetFlash},
		"ff", "Loads .hex data as flash",
	)

	fs.StringVar(&opts.vitalsPath, "dump-vitals", "", "Dumps memory and counters to `file` on exit, - for stdout")
	fs.Uint64Var(&opts.limits.MaxCycles, "max-cycles", 0, "Runs for at most `n` cycles")
	fs.Uint64Var(&opts.limits.MaxInstructions, "max-instructions", 0, "Executes at most `n` instructions")
	fs.BoolVar(&opts.limits.ExitOnInfiniteLoop, "exit-on-infinite", false, "Stops at a self jump with interrupts disabled")

	return fs
}

// parseArgs accepts flags on either side of the firmware path.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string

	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}

		args = fs.Args()

		if len(args) == 0 {
			return positional, nil
		}

		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newLogger(w io.Writer, verbose countFlag) *slog.Logger {
	level := slog.LevelInfo

	switch {
	case verbose >= 2:
		level = levelTrace
	case verbose == 1:
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func listCores() {
	fmt.Println("Supported AVR cores:")

	for _, device := range machine.Devices() {
		fmt.Printf("       %s\n", strings.Join(device.Names, " "))
	}
}

func goavr() int {
	var opts options

	fs := newFlagSet(&opts)
	args, err := parseArgs(fs, os.Args[1:])

	if err != nil {
		return 1
	}

	if opts.help {
		fmt.Println(usage)
		fs.SetOutput(os.Stdout)
		fs.PrintDefaults()
		return 0
	}

	if opts.listCores {
		listCores()
		return 0
	}

	if len(args) != 1 {
		log.Println(usage)
		return 1
	}

	logger := newLogger(os.Stderr, opts.verbose)
	slog.SetDefault(logger)

	fw, err := firmware.Read(args[0], firmware.Config{
		MCU:       opts.mcu,
		Frequency: uint32(opts.freq),
		LoadBase:  opts.loadBase,
	})

	if err != nil {
		log.Println(err)
		return 1
	}

	mc, err := machine.New(fw.MCU)

	if err != nil {
		log.Println(err)
		return 1
	}

	mc.Logger = logger
	mc.Init()

	if err := mc.Load(fw); err != nil {
		log.Println(err)
		return 1
	}

	defer mc.Terminate()

	mc.Trace = int(opts.trace)

	for _, number := range opts.vectors {
		if vector := mc.Interrupts.Lookup(number); vector != nil {
			vector.Trace = true
		} else {
			logger.Warn("no such interrupt vector", "vector", number)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cpu sim.CPU = mc
	var interrupted atomic.Bool

	c := make(chan os.Signal, 1)
	signal.Notify(c, unix.SIGINT, unix.SIGTERM)
	defer func() {
		signal.Stop(c)
		close(c)
	}()

	if opts.debug {
		dbg := &debugger.Debugger{
			Symbols: fw.Symbols,
			Out:     os.Stdout,
			Color:   isTerminal(int(os.Stdin.Fd())) && isTerminal(int(os.Stdout.Fd())),
		}
		repl := newREPL(os.Stdin, os.Stdout)

		dbg.HandleBreak = repl.handleBreak
		dbg.HandleRead = repl.handleRead
		dbg.HandleWrite = repl.handleWrite
		mc.Debugger = dbg

		// Interrupts break into the debugger, SIGTERM still ends the run
		cpu = &interruptibleCPU{mc, dbg, &interrupted}

		go func() {
			for sig := range c {
				if sig == unix.SIGINT {
					interrupted.Store(true)
				} else {
					cancel()
				}
			}
		}()

		repl.run(dbg, mc)
	} else {
		go func() {
			for range c {
				cancel()
			}
		}()
	}

	runner := sim.NewRunner(sim.WithLimits(opts.limits), sim.WithLogger(logger))
	result, err := runner.Run(ctx, cpu)

	if err != nil {
		logger.Info("signal caught, terminating")
		return 0
	}

	if opts.vitalsPath != "" {
		v := vitals.Collect(mc, result, runner.Limits())

		if err := vitals.Dump(opts.vitalsPath, v); err != nil {
			log.Println(err)
			return 1
		}
	}

	return 0
}

// interruptibleCPU hands a pending interrupt request to the debugger
// between steps.
type interruptibleCPU struct {
	*machine.Machine
	dbg     *debugger.Debugger
	pending *atomic.Bool
}

func (c *interruptibleCPU) Step() machine.Status {
	if c.pending.Swap(false) {
		fmt.Println()
		c.dbg.Break = true
	}
	return c.Machine.Step()
}

func main() {
	os.Exit(goavr())
}
