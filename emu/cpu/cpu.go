/*
   CPU: main fetch, decode, execute loop and exception machinery.

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

package cpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rcornwell/cortex-m0/emu/bus"
	"github.com/rcornwell/cortex-m0/emu/inst"
	"github.com/rcornwell/cortex-m0/emu/nvic"
	"github.com/rcornwell/cortex-m0/emu/registers"
)

/*
   The Cortex-M0 executes Thumb-1 plus the 32-bit BL. Each call to Step
   retires at most one instruction:

     1. Deliver the highest priority pending exception, if it beats the
        current execution priority.
     2. Fetch a halfword at PC, fetch a second when it is the BL prefix.
     3. Decode and execute. Execute reports whether it set PC itself.
     4. Otherwise advance PC by the instruction size.

   Bus visible faults (unmapped address, misalignment, undefined
   encodings) escalate to HardFault; a fault with HardFault already
   active locks the core up.
*/

// EXC_RETURN values recognized on interworking branches.
const (
	excReturnHandler   = 0xfffffff1
	excReturnThreadMSP = 0xfffffff9
	excReturnThreadPSP = 0xfffffffd
)

// errFault marks any condition that escalates to HardFault.
var errFault = errors.New("fault")

// BreakHandler is notified when a BKPT retires while a debugger is
// attached. Without one, BKPT escalates to HardFault.
type BreakHandler func(pc uint32)

// CPU binds the register file, the bus and the exception controller.
// Execute borrows them per call; the decoder is pure.
type CPU struct {
	Reg  *registers.File
	Bus  *bus.Bus
	Nvic *nvic.NVIC

	lockup  bool
	sleep   bool // Parked by WFI until an exception pends
	halted  bool // Stopped by a breakpoint, debugger owns the core
	onBreak BreakHandler

	// Fetch fast path handle, granted by the RAM target.
	ram     []byte
	ramBase uint32
	ramOK   bool
}

// New creates a core. Reset must run before the first Step.
func New(reg *registers.File, b *bus.Bus, nv *nvic.NVIC) *CPU {
	return &CPU{Reg: reg, Bus: b, Nvic: nv}
}

// SetBreakHandler attaches a debugger notification for BKPT.
func (c *CPU) SetBreakHandler(fn BreakHandler) {
	c.onBreak = fn
}

// Halted reports whether a breakpoint stopped the core.
func (c *CPU) Halted() bool { return c.halted }

// Resume clears a breakpoint halt.
func (c *CPU) Resume() { c.halted = false }

// Lockup reports whether the core is dead from a nested fault.
func (c *CPU) Lockup() bool { return c.lockup }

// Reset performs the ARMv6-M reset: MSP from word 0, PC from the reset
// vector at word 4. A vector table that cannot be read leaves both at
// zero with a warning, matching a blank part.
func (c *CPU) Reset() {
	c.Reg.Reset()
	c.Nvic.Reset()
	c.lockup = false
	c.sleep = false
	c.halted = false

	if ram, off, ok := c.Bus.Direct(0); ok {
		c.ram = ram
		c.ramBase = 0 - off // Bus address of ram[0]
		c.ramOK = true
	}

	sp, err := c.readWord(0)
	if err != nil || sp == 0 {
		slog.Warn("reset: no initial stack pointer in vector table")
	}
	c.Reg.SetMSP(sp)
	vector, err := c.readWord(4)
	if err != nil || vector == 0 {
		slog.Warn("reset: no reset vector, starting at 0")
		vector = 0
	}
	c.Reg.SetPC(vector &^ 1)
}

// Step retires one instruction or delivers one exception. It returns the
// simulated cycles consumed and false once the core locks up.
func (c *CPU) Step() (int, bool) {
	if c.lockup {
		return 1, false
	}
	if c.halted {
		// Debugger owns the core; nothing retires, nothing is delivered.
		return 1, true
	}

	// Exceptions are taken between instructions only.
	cur := c.Nvic.CurrentPriority()
	if num, ok := c.Nvic.Next(cur, c.Reg.Masked()); ok {
		c.sleep = false
		c.exceptionEntry(num)
		return 1, !c.lockup
	}

	if c.sleep {
		return 1, true
	}

	pc := c.Reg.PC()
	h1, err := c.fetch16(pc)
	if err != nil {
		slog.Warn(fmt.Sprintf("fetch fault at %08x", pc))
		c.fault()
		return 1, !c.lockup
	}

	var fields inst.Fields
	if inst.Is32Prefix(h1) {
		var h2 uint16
		h2, err = c.fetch16(pc + 2)
		if err != nil {
			c.fault()
			return 1, !c.lockup
		}
		fields = inst.Decode32(h1, h2)
	} else {
		fields = inst.Decode16(h1)
	}

	pcChanged, err := c.execute(&fields)
	if err != nil {
		slog.Debug(fmt.Sprintf("fault at %08x opcode %04x: %v", pc, fields.Opcode, err))
		c.fault()
		return 1, !c.lockup
	}

	if !pcChanged {
		if fields.Is32 {
			c.Reg.SetPC(pc + 4)
		} else {
			c.Reg.SetPC(pc + 2)
		}
	}
	return 1, true
}

// fault escalates to HardFault, or locks up when HardFault is already
// being handled.
func (c *CPU) fault() {
	if c.Nvic.Active(nvic.HardFault) {
		slog.Error("fault while HardFault active, core lockup")
		c.lockup = true
		return
	}
	c.Nvic.SetPending(nvic.HardFault)
}

// exceptionEntry pushes the 8 word frame, switches to handler mode and
// vectors to the handler.
func (c *CPU) exceptionEntry(num int) {
	returnAddress := c.Reg.PC()
	fromHandler := c.Reg.ISRNumber() != 0
	onPSP := c.Reg.SpselPSP()

	// Frame goes on the currently selected stack, R0 at the lowest
	// address, xPSR at the highest.
	sp := c.Reg.SP() - 32
	var frame [8]uint32
	for i := uint8(0); i < 4; i++ {
		frame[i], _ = c.Reg.Read(i)
	}
	frame[4], _ = c.Reg.Read(12)
	frame[5] = c.Reg.LR()
	frame[6] = returnAddress | 1 // Thumb bit rides along
	frame[7] = c.Reg.PSR()
	for i, w := range frame {
		if err := c.writeWord(sp+uint32(i)*4, w); err != nil {
			slog.Warn(fmt.Sprintf("exception %d: frame push failed at %08x", num, sp+uint32(i)*4))
			c.fault()
			return
		}
	}
	c.Reg.SetSP(sp)

	switch {
	case fromHandler:
		c.Reg.SetLR(excReturnHandler)
	case onPSP:
		c.Reg.SetLR(excReturnThreadPSP)
	default:
		c.Reg.SetLR(excReturnThreadMSP)
	}

	// Handlers always run on the main stack.
	c.Reg.SetSpsel(false)
	c.Reg.SetISRNumber(uint32(num))
	c.Nvic.Acknowledge(num)

	handler, err := c.readWord(uint32(num) * 4)
	if err != nil || handler == 0 {
		slog.Warn(fmt.Sprintf("exception %d: vector fetch failed", num))
		if num == nvic.HardFault {
			c.lockup = true
			return
		}
		// Escalate: dispatch through the HardFault vector instead.
		c.Nvic.Deactivate(num)
		c.Reg.SetISRNumber(nvic.HardFault)
		c.Nvic.Acknowledge(nvic.HardFault)
		handler, err = c.readWord(nvic.HardFault * 4)
		if err != nil || handler == 0 {
			slog.Error("HardFault vector unavailable, core lockup")
			c.lockup = true
			return
		}
	}
	c.Reg.SetPC(handler &^ 1)
}

// exceptionReturn unwinds an EXC_RETURN branch. value has its top 28
// bits set; the low nibble selects mode and stack.
func (c *CPU) exceptionReturn(value uint32) error {
	returning := int(c.Reg.ISRNumber())

	switch value {
	case excReturnHandler, excReturnThreadMSP:
		c.Reg.SetSpsel(false)
	case excReturnThreadPSP:
		c.Reg.SetSpsel(true)
	default:
		return fmt.Errorf("%w: bad EXC_RETURN %08x", errFault, value)
	}

	sp := c.Reg.SP()
	var frame [8]uint32
	for i := range frame {
		w, err := c.readWord(sp + uint32(i)*4)
		if err != nil {
			return fmt.Errorf("%w: unstack at %08x", errFault, sp+uint32(i)*4)
		}
		frame[i] = w
	}

	for i := uint8(0); i < 4; i++ {
		_ = c.Reg.Write(i, frame[i])
	}
	_ = c.Reg.Write(12, frame[4])
	c.Reg.SetLR(frame[5])
	c.Reg.SetSP(sp + 32)
	c.Reg.SetPSR(frame[7]) // Restores flags and the prior ISR number
	c.Reg.SetPC(frame[6] &^ 1)

	if returning != 0 {
		c.Nvic.Deactivate(returning)
	}
	return nil
}

// isExcReturn reports whether a branch target is one of the EXC_RETURN
// magic values.
func isExcReturn(value uint32) bool {
	switch value {
	case excReturnHandler, excReturnThreadMSP, excReturnThreadPSP:
		return true
	}
	return false
}

// fetch16 reads an instruction halfword, through the RAM fast path when
// the address lands there.
func (c *CPU) fetch16(addr uint32) (uint16, error) {
	if addr&1 != 0 {
		return 0, fmt.Errorf("%w: unaligned fetch %08x", errFault, addr)
	}
	if c.ramOK {
		off := addr - c.ramBase
		if uint64(off)+2 <= uint64(len(c.ram)) {
			return binary.LittleEndian.Uint16(c.ram[off:]), nil
		}
	}
	b, err := c.Bus.Read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *CPU) readWord(addr uint32) (uint32, error) {
	b, err := c.Bus.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *CPU) writeWord(addr, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return c.Bus.Write(addr, b[:])
}
