/*
   CM0: NVIC exception controller and SysTick register window.

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

package nvic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Architectural exception numbers.
const (
	Reset     = 1
	NMI       = 2
	HardFault = 3
	SVCall    = 11
	PendSV    = 14
	SysTick   = 15
	IRQ0      = 16

	NumExceptions = 48

	// ThreadPriority is the execution priority of thread mode with no
	// active exception. Any real priority beats it.
	ThreadPriority = 0x100
)

// Register window, absolute ARM addresses. The NVIC is mapped without
// translation so these arrive unchanged.
const (
	regStkCtrl  = 0xe000e010
	regStkLoad  = 0xe000e014
	regStkVal   = 0xe000e018
	regStkCalib = 0xe000e01c
	regIser     = 0xe000e100
	regIcer     = 0xe000e180
	regIspr     = 0xe000e200
	regIcpr     = 0xe000e280
	regIpr0     = 0xe000e400
	regIpr7     = 0xe000e41c
	regShpr2    = 0xe000ed1c
	regShpr3    = 0xe000ed20
	regShcsr    = 0xe000ed24
)

// SysTick CTRL bits.
const (
	stEnable    = 1 << 0
	stTickInt   = 1 << 1
	stClkSource = 1 << 2
	stCountFlag = 1 << 16
)

var ErrRegister = errors.New("nvic: no register at address")

// NVIC tracks enable/pending/active state for exceptions 1..47 and owns
// the SysTick counter. SetPending may be called from peripheral
// goroutines; everything else belongs to the CPU loop.
type NVIC struct {
	mu sync.Mutex

	enabled uint32 // External IRQ enables (bit i = IRQ i)
	pending uint64 // Bit per exception number
	active  uint64

	ipr   [32]uint8 // Per IRQ priority, high nibble implemented
	shpr2 uint32
	shpr3 uint32
	shcsr uint32

	stCtrl uint32
	stLoad uint32
	stVal  uint32
}

func New() *NVIC {
	return &NVIC{}
}

func (n *NVIC) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = 0
	n.pending = 0
	n.active = 0
	for i := range n.ipr {
		n.ipr[i] = 0
	}
	n.shpr2 = 0
	n.shpr3 = 0
	n.shcsr = 0
	n.stCtrl = 0
	n.stLoad = 0
	n.stVal = 0
}

// SetPending marks exception num pending. This is the entry point for
// peripherals and is safe to call from other goroutines.
func (n *NVIC) SetPending(num int) {
	if num <= 0 || num >= NumExceptions {
		return
	}
	n.mu.Lock()
	n.pending |= 1 << uint(num)
	n.mu.Unlock()
}

// ClearPending drops a pending exception that has not been entered.
func (n *NVIC) ClearPending(num int) {
	if num <= 0 || num >= NumExceptions {
		return
	}
	n.mu.Lock()
	n.pending &^= 1 << uint(num)
	n.mu.Unlock()
}

// Pending reports whether num is currently pending.
func (n *NVIC) Pending(num int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending&(1<<uint(num)) != 0
}

// Active reports whether num is currently being handled.
func (n *NVIC) Active(num int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active&(1<<uint(num)) != 0
}

// Priority returns the effective priority of exception num. Reset, NMI
// and HardFault are fixed below zero; configurable priorities are the
// four implemented bits of their SHPR/IPR lanes.
func (n *NVIC) Priority(num int) int {
	switch num {
	case Reset:
		return -3
	case NMI:
		return -2
	case HardFault:
		return -1
	case SVCall:
		return int(n.shpr2 >> 28) // [31:24], 4 implemented bits
	case PendSV:
		return int(n.shpr3 >> 20 & 0xf)
	case SysTick:
		return int(n.shpr3 >> 28)
	}
	if num >= IRQ0 && num < NumExceptions {
		return int(n.ipr[num-IRQ0] >> 4)
	}
	return 0
}

// Next selects the exception to take: among exceptions that are pending,
// enabled, and not masked, the numerically lowest priority wins, ties to
// the lowest number. It is taken only when it beats curPrio. PRIMASK
// masks everything except NMI and HardFault.
func (n *NVIC) Next(curPrio int, primask bool) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	best := -1
	bestPrio := 0
	for num := NMI; num < NumExceptions; num++ {
		if n.pending&(1<<uint(num)) == 0 {
			continue
		}
		if num >= IRQ0 && n.enabled&(1<<uint(num-IRQ0)) == 0 {
			continue
		}
		if primask && num != NMI && num != HardFault {
			continue
		}
		prio := n.Priority(num)
		if best < 0 || prio < bestPrio {
			best = num
			bestPrio = prio
		}
	}
	if best < 0 || bestPrio >= curPrio {
		return 0, false
	}
	return best, true
}

// Acknowledge moves num from pending to active at exception entry.
func (n *NVIC) Acknowledge(num int) {
	n.mu.Lock()
	n.pending &^= 1 << uint(num)
	n.active |= 1 << uint(num)
	n.mu.Unlock()
}

// Deactivate clears the active bit at exception return.
func (n *NVIC) Deactivate(num int) {
	n.mu.Lock()
	n.active &^= 1 << uint(num)
	n.mu.Unlock()
}

// CurrentPriority returns the execution priority implied by the active
// set: the priority of the highest priority active exception, or
// ThreadPriority when none is active.
func (n *NVIC) CurrentPriority() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	cur := ThreadPriority
	for num := NMI; num < NumExceptions; num++ {
		if n.active&(1<<uint(num)) == 0 {
			continue
		}
		if p := n.Priority(num); p < cur {
			cur = p
		}
	}
	return cur
}

// TickSysTick advances the SysTick counter by cycles elapsed quanta.
// Wrapping reloads from LOAD, latches COUNTFLAG, and pends the SysTick
// exception when TICKINT is set.
func (n *NVIC) TickSysTick(cycles uint32) {
	if n.stCtrl&stEnable == 0 || cycles == 0 {
		return
	}
	for ; cycles > 0; cycles-- {
		if n.stVal == 0 {
			n.stVal = n.stLoad & 0xffffff
			continue
		}
		n.stVal--
		if n.stVal == 0 {
			n.stCtrl |= stCountFlag
			if n.stCtrl&stTickInt != 0 {
				n.SetPending(SysTick)
			}
		}
	}
}

// Bus target. The window only accepts word accesses, as real hardware
// effectively does for these registers.

func (n *NVIC) Read(addr uint32, length int) ([]byte, error) {
	if length != 4 || addr&3 != 0 {
		return nil, fmt.Errorf("%w: %08x len %d", ErrRegister, addr, length)
	}
	v, err := n.readReg(addr, false)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out, nil
}

func (n *NVIC) Write(addr uint32, data []byte) error {
	if len(data) != 4 || addr&3 != 0 {
		return fmt.Errorf("%w: %08x len %d", ErrRegister, addr, len(data))
	}
	return n.writeReg(addr, binary.LittleEndian.Uint32(data))
}

func (n *NVIC) DebugRead(addr uint32, length int) ([]byte, error) {
	if length != 4 || addr&3 != 0 {
		return nil, fmt.Errorf("%w: %08x len %d", ErrRegister, addr, length)
	}
	v, err := n.readReg(addr, true)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out, nil
}

func (n *NVIC) DebugWrite(addr uint32, data []byte) error {
	return n.Write(addr, data)
}

func (n *NVIC) readReg(addr uint32, debug bool) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch addr {
	case regStkCtrl:
		v := n.stCtrl
		if !debug {
			n.stCtrl &^= stCountFlag // Cleared on read
		}
		return v, nil
	case regStkLoad:
		return n.stLoad & 0xffffff, nil
	case regStkVal:
		return n.stVal & 0xffffff, nil
	case regStkCalib:
		return 0, nil
	case regIser, regIcer:
		return n.enabled, nil
	case regIspr, regIcpr:
		return uint32(n.pending >> IRQ0), nil
	case regShpr2:
		return n.shpr2, nil
	case regShpr3:
		return n.shpr3, nil
	case regShcsr:
		return n.shcsr, nil
	}
	if addr >= regIpr0 && addr <= regIpr7 {
		i := (addr - regIpr0) / 4 * 4
		return uint32(n.ipr[i]) | uint32(n.ipr[i+1])<<8 |
			uint32(n.ipr[i+2])<<16 | uint32(n.ipr[i+3])<<24, nil
	}
	return 0, fmt.Errorf("%w: read %08x", ErrRegister, addr)
}

func (n *NVIC) writeReg(addr, value uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch addr {
	case regStkCtrl:
		n.stCtrl = (n.stCtrl & stCountFlag) | (value & (stEnable | stTickInt | stClkSource))
		return nil
	case regStkLoad:
		n.stLoad = value & 0xffffff
		return nil
	case regStkVal:
		// Any write clears the counter and COUNTFLAG.
		n.stVal = 0
		n.stCtrl &^= stCountFlag
		return nil
	case regStkCalib:
		return nil
	case regIser:
		n.enabled |= value
		return nil
	case regIcer:
		n.enabled &^= value
		return nil
	case regIspr:
		n.pending |= uint64(value) << IRQ0
		return nil
	case regIcpr:
		// Pending of an active exception cannot be cleared here.
		clear := uint64(value) << IRQ0
		n.pending &^= clear &^ n.active
		return nil
	case regShpr2:
		n.shpr2 = value & 0xf0000000
		return nil
	case regShpr3:
		n.shpr3 = value & 0xf0f00000
		return nil
	case regShcsr:
		n.shcsr = value
		return nil
	}
	if addr >= regIpr0 && addr <= regIpr7 {
		i := (addr - regIpr0) / 4 * 4
		n.ipr[i] = uint8(value) & 0xf0
		n.ipr[i+1] = uint8(value>>8) & 0xf0
		n.ipr[i+2] = uint8(value>>16) & 0xf0
		n.ipr[i+3] = uint8(value>>24) & 0xf0
		return nil
	}
	return fmt.Errorf("%w: write %08x", ErrRegister, addr)
}
