/*
   CM0: Millisecond timer peripheral.

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

// Package timer is a memory mapped millisecond counter with a compare
// interrupt, the mtime/mtimecmp pair. The count advances on simulated
// time through the event queue, never on host time.
package timer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rcornwell/cortex-m0/emu/event"
	"github.com/rcornwell/cortex-m0/emu/nvic"
)

// Register window, base relative.
const (
	regTimeLow  = 0x00
	regTimeHigh = 0x04
	regCmpLow   = 0x08
	regCmpHigh  = 0x0c

	// Size is the length of the register window on the bus.
	Size = 0x10
)

var ErrRegister = errors.New("timer: no register at offset")

// Timer counts simulated milliseconds in mtime and pends an interrupt
// once mtime reaches mtimecmp. Writing either compare word rearms it.
type Timer struct {
	nv    *nvic.NVIC
	queue *event.Queue
	irq   int // Exception number to pend

	cyclesPerMs int
	mtime       uint64
	mtimecmp    uint64
	irqSent     bool
	running     bool
}

// New creates a timer pending exception irq. cyclesPerMs sets how many
// instruction quanta make one millisecond of simulated time.
func New(nv *nvic.NVIC, q *event.Queue, irq int, cyclesPerMs int) *Timer {
	if cyclesPerMs <= 0 {
		cyclesPerMs = 1000
	}
	return &Timer{
		nv:          nv,
		queue:       q,
		irq:         irq,
		cyclesPerMs: cyclesPerMs,
		mtimecmp:    0xffffffffffffffff,
	}
}

// Start arms the millisecond tick. Idempotent.
func (tm *Timer) Start() {
	if tm.running {
		return
	}
	tm.running = true
	tm.queue.Add(tm, tm.tick, tm.cyclesPerMs, 0)
}

// Stop cancels the tick.
func (tm *Timer) Stop() {
	if !tm.running {
		return
	}
	tm.running = false
	tm.queue.Cancel(tm, 0)
}

func (tm *Timer) tick(int) {
	tm.mtime++
	if tm.mtime >= tm.mtimecmp && !tm.irqSent {
		tm.irqSent = true
		tm.nv.SetPending(tm.irq)
	}
	if tm.running {
		tm.queue.Add(tm, tm.tick, tm.cyclesPerMs, 0)
	}
}

func (tm *Timer) reg(offset uint32) (*uint64, bool, error) {
	switch offset {
	case regTimeLow:
		return &tm.mtime, false, nil
	case regTimeHigh:
		return &tm.mtime, true, nil
	case regCmpLow:
		return &tm.mtimecmp, false, nil
	case regCmpHigh:
		return &tm.mtimecmp, true, nil
	}
	return nil, false, fmt.Errorf("%w: %02x", ErrRegister, offset)
}

func (tm *Timer) Read(offset uint32, length int) ([]byte, error) {
	if length != 4 || offset&3 != 0 {
		return nil, fmt.Errorf("%w: %02x len %d", ErrRegister, offset, length)
	}
	reg, high, err := tm.reg(offset)
	if err != nil {
		return nil, err
	}
	v := uint32(*reg)
	if high {
		v = uint32(*reg >> 32)
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out, nil
}

func (tm *Timer) Write(offset uint32, data []byte) error {
	if len(data) != 4 || offset&3 != 0 {
		return fmt.Errorf("%w: %02x len %d", ErrRegister, offset, len(data))
	}
	reg, high, err := tm.reg(offset)
	if err != nil {
		return err
	}
	v := uint64(binary.LittleEndian.Uint32(data))
	if high {
		*reg = *reg&0x00000000ffffffff | v<<32
	} else {
		*reg = *reg&0xffffffff00000000 | v
	}
	if offset == regCmpLow || offset == regCmpHigh {
		// Writing the compare rearms the interrupt.
		tm.irqSent = false
	}
	return nil
}

func (tm *Timer) DebugRead(offset uint32, length int) ([]byte, error) {
	return tm.Read(offset, length)
}

func (tm *Timer) DebugWrite(offset uint32, data []byte) error {
	reg, high, err := tm.reg(offset)
	if err != nil || len(data) != 4 {
		return fmt.Errorf("%w: debug write %02x", ErrRegister, offset)
	}
	v := uint64(binary.LittleEndian.Uint32(data))
	if high {
		*reg = *reg&0x00000000ffffffff | v<<32
	} else {
		*reg = *reg&0xffffffff00000000 | v
	}
	return nil
}

// Time returns the current millisecond count.
func (tm *Timer) Time() uint64 {
	return tm.mtime
}
