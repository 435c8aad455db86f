/*
   Core simulation loop.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package core

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/cortex-m0/emu/cpu"
	"github.com/rcornwell/cortex-m0/emu/event"
	"github.com/rcornwell/cortex-m0/emu/master"
	"github.com/rcornwell/cortex-m0/emu/nvic"
)

// Core owns the CPU on its own goroutine. The machine is cooperative:
// one instruction retires, the event queue advances one quantum, control
// packets are drained, repeat. Peripheral state changes land between
// instructions, which is where the CPU checks for exceptions anyway.
type Core struct {
	CPU   *cpu.CPU
	Queue *event.Queue

	wg       sync.WaitGroup
	done     chan struct{}
	master   chan master.Packet
	running  bool
	stepsRun int // Remaining single step budget, -1 when free running

	// OnHalt is called when the core stops at a breakpoint or finishes a
	// step budget. Used by the GDB server to report stop reasons.
	OnHalt func()
}

// New wires a core around an assembled machine.
func New(c *cpu.CPU, q *event.Queue, masterChan chan master.Packet) *Core {
	return &Core{
		CPU:    c,
		Queue:  q,
		done:   make(chan struct{}),
		master: masterChan,
	}
}

// Start runs the simulation loop until Stop. Run it on its own
// goroutine.
func (core *Core) Start() {
	core.wg.Add(1)
	defer core.wg.Done()

	core.CPU.Reset()
	for {
		if core.running {
			cycles, ok := core.CPU.Step()
			core.Queue.Advance(cycles)
			core.CPU.Nvic.TickSysTick(uint32(cycles))
			if !ok {
				slog.Error("core: lockup, stopping")
				core.running = false
			}
			if core.CPU.Halted() {
				core.halt()
			}
			if core.stepsRun > 0 {
				core.stepsRun--
				if core.stepsRun == 0 {
					core.running = false
					core.halt()
				}
			}
		} else if !core.Queue.Empty() {
			// Keep simulated time moving so timers still fire.
			core.Queue.Advance(1)
		}

		select {
		case <-core.done:
			slog.Info("core: shutdown")
			return
		case packet := <-core.master:
			core.processPacket(packet)
		default:
		}
	}
}

// Stop shuts the loop down and waits for it to exit.
func (core *Core) Stop() {
	close(core.done)
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(time.Second):
		slog.Warn("core: timed out waiting for CPU to finish")
		return
	}
}

func (core *Core) halt() {
	core.running = false
	if core.OnHalt != nil {
		core.OnHalt()
	}
}

// Running reports whether instructions are retiring.
func (core *Core) Running() bool {
	return core.running
}

func (core *Core) processPacket(packet master.Packet) {
	switch packet.Msg {
	case master.Start:
		core.CPU.Resume()
		core.stepsRun = -1
		core.running = true
	case master.Stop:
		core.running = false
	case master.Step:
		core.CPU.Resume()
		core.stepsRun = packet.Count
		if core.stepsRun <= 0 {
			core.stepsRun = 1
		}
		core.running = true
	case master.Reset:
		core.CPU.Reset()
	case master.Shutdown:
		core.running = false
	}
}

// PostIRQ pends an external interrupt. Exposed for embedders that drive
// devices outside the bus.
func (core *Core) PostIRQ(irq int) {
	core.CPU.Nvic.SetPending(nvic.IRQ0 + irq)
}
