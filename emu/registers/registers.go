/*
   CM0: ARMv6-M architectural register file.

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

package registers

import (
	"errors"
	"fmt"
)

// Register indices for R13..R15.
const (
	SP = 13
	LR = 14
	PC = 15
)

// xPSR bit positions.
const (
	FlagN = 1 << 31
	FlagZ = 1 << 30
	FlagC = 1 << 29
	FlagV = 1 << 28
	FlagT = 1 << 24

	isrMask = 0x1ff
)

// CONTROL bits.
const (
	ControlNPriv = 1 << 0
	ControlSpsel = 1 << 1
)

var ErrInvalidRegister = errors.New("invalid register number")

// File holds the programmer visible state of a Cortex-M0 core. R13 is not
// stored directly: reads and writes of register 13 route to MSP or PSP
// depending on CONTROL.SPSEL.
type File struct {
	gpr     [13]uint32 // R0-R12
	msp     uint32     // Main stack pointer
	psp     uint32     // Process stack pointer
	lr      uint32     // R14
	pc      uint32     // R15, bit 0 always clear
	psr     uint32     // xPSR, T bit always set
	primask uint32     // Bit 0 masks configurable exceptions
	control uint32     // Bit 0 nPRIV, bit 1 SPSEL

	stackTop uint32 // MSP value installed by Reset
}

// NewFile returns a register file whose Reset installs stackTop as MSP.
func NewFile(stackTop uint32) *File {
	f := &File{stackTop: stackTop}
	f.Reset()
	return f
}

// Reset returns every register to its architectural reset value.
func (f *File) Reset() {
	for i := range f.gpr {
		f.gpr[i] = 0
	}
	f.msp = f.stackTop
	f.psp = 0
	f.lr = 0
	f.pc = 0
	f.psr = FlagT
	f.primask = 0
	f.control = 0
}

// Read returns the value of register reg. Register 13 reads the stack
// pointer selected by CONTROL.SPSEL.
func (f *File) Read(reg uint8) (uint32, error) {
	switch {
	case reg < 13:
		return f.gpr[reg], nil
	case reg == SP:
		return f.SP(), nil
	case reg == LR:
		return f.lr, nil
	case reg == PC:
		return f.pc, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidRegister, reg)
}

// Write sets register reg. Writes of register 13 keep the stack pointer a
// multiple of 4; writes of the PC clear bit 0.
func (f *File) Write(reg uint8, value uint32) error {
	switch {
	case reg < 13:
		f.gpr[reg] = value
	case reg == SP:
		f.SetSP(value)
	case reg == LR:
		f.lr = value
	case reg == PC:
		f.pc = value &^ 1
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRegister, reg)
	}
	return nil
}

// SP returns the currently selected stack pointer.
func (f *File) SP() uint32 {
	if f.control&ControlSpsel != 0 {
		return f.psp
	}
	return f.msp
}

// SetSP writes the currently selected stack pointer.
func (f *File) SetSP(value uint32) {
	value &^= 3
	if f.control&ControlSpsel != 0 {
		f.psp = value
	} else {
		f.msp = value
	}
}

func (f *File) MSP() uint32       { return f.msp }
func (f *File) SetMSP(v uint32)   { f.msp = v &^ 3 }
func (f *File) PSP() uint32       { return f.psp }
func (f *File) SetPSP(v uint32)   { f.psp = v &^ 3 }
func (f *File) LR() uint32        { return f.lr }
func (f *File) SetLR(v uint32)    { f.lr = v }
func (f *File) PC() uint32        { return f.pc }
func (f *File) SetPC(v uint32)    { f.pc = v &^ 1 }
func (f *File) Control() uint32   { return f.control }
func (f *File) Primask() uint32   { return f.primask }
func (f *File) SetPrimask(v bool) { f.primask = b2u(v) }

// PSR returns the xPSR with the T bit forced on.
func (f *File) PSR() uint32 {
	return f.psr | FlagT
}

// SetPSR replaces the xPSR. The T bit cannot be cleared on ARMv6-M.
func (f *File) SetPSR(v uint32) {
	f.psr = v | FlagT
}

func (f *File) N() bool { return f.psr&FlagN != 0 }
func (f *File) Z() bool { return f.psr&FlagZ != 0 }
func (f *File) C() bool { return f.psr&FlagC != 0 }
func (f *File) V() bool { return f.psr&FlagV != 0 }

func (f *File) SetN(v bool) { f.setFlag(FlagN, v) }
func (f *File) SetZ(v bool) { f.setFlag(FlagZ, v) }
func (f *File) SetC(v bool) { f.setFlag(FlagC, v) }
func (f *File) SetV(v bool) { f.setFlag(FlagV, v) }

func (f *File) setFlag(mask uint32, v bool) {
	if v {
		f.psr |= mask
	} else {
		f.psr &^= mask
	}
}

// NZ sets N and Z from result.
func (f *File) NZ(result uint32) {
	f.SetN(result&0x80000000 != 0)
	f.SetZ(result == 0)
}

// ISRNumber returns xPSR[8:0], the exception currently being handled.
func (f *File) ISRNumber() uint32 {
	return f.psr & isrMask
}

// SetISRNumber replaces xPSR[8:0].
func (f *File) SetISRNumber(n uint32) {
	f.psr = (f.psr &^ isrMask) | (n & isrMask)
}

// Masked reports whether PRIMASK currently masks configurable exceptions.
func (f *File) Masked() bool {
	return f.primask&1 != 0
}

// SpselPSP reports whether CONTROL selects the process stack.
func (f *File) SpselPSP() bool {
	return f.control&ControlSpsel != 0
}

// SetSpsel switches the active stack pointer selection.
func (f *File) SetSpsel(psp bool) {
	if psp {
		f.control |= ControlSpsel
	} else {
		f.control &^= ControlSpsel
	}
}

// SetControl replaces CONTROL. Only nPRIV and SPSEL are implemented.
func (f *File) SetControl(v uint32) {
	f.control = v & (ControlNPriv | ControlSpsel)
}

func b2u(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
