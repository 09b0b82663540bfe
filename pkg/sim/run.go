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

package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

type Runner struct {
	limits Limits
	logger *slog.Logger
}

type Option func(*Runner)

// WithMaxCycles stops the run once the cycle counter reaches max.
// A value of 0 means no limit.
func WithMaxCycles(max uint64) Option {
	return func(r *Runner) {
		r.limits.MaxCycles = max
	}
}

// WithMaxInstructions stops the run once max steps have executed.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) Option {
	return func(r *Runner) {
		r.limits.MaxInstructions = max
	}
}

func WithExitOnInfiniteLoop(exit bool) Option {
	return func(r *Runner) {
		r.limits.ExitOnInfiniteLoop = exit
	}
}

func WithLimits(limits Limits) Option {
	return func(r *Runner) {
		r.limits = limits
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{logger: slog.Default()}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) Limits() Limits {
	return r.limits
}

// Run steps cpu until Evaluate reports a stop reason. The only error is a
// cancelled ctx, in which case the CPU is left as it was after the last
// completed step.
func (r *Runner) Run(ctx context.Context, cpu CPU) (Result, error) {
	var result Result

	done := ctx.Done()

	for {
		select {
		case <-done:
			return result, errors.Wrap(ctx.Err(), "run cancelled")
		default:
		}

		result.PrevPC = cpu.PC()
		status := cpu.Step()
		result.Instructions++

		result.PC = cpu.PC()
		result.Cycles = cpu.Cycle()

		result.Reason = Evaluate(Snapshot{
			PrevPC:            result.PrevPC,
			PC:                result.PC,
			InterruptsEnabled: cpu.InterruptsEnabled(),
			Cycles:            result.Cycles,
			Instructions:      result.Instructions,
			Status:            status,
		}, r.limits)

		if result.Reason != StopNone {
			break
		}
	}

	r.logger.Debug("run stopped",
		"reason", result.Reason.String(),
		"instructions", result.Instructions,
		"cycles", result.Cycles,
		"pc", fmt.Sprintf("0x%04x", result.PC),
	)

	return result, nil
}
