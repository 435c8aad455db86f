/*
   CM0: Trace console and interactive UART peripherals.

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

package uart

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/rcornwell/cortex-m0/emu/nvic"
)

var ErrRegister = errors.New("uart: no register at offset")

// Trace is the one register console device: every byte written to
// offset 0 emits one character; reads return zero.
type Trace struct {
	Out io.Writer
}

// TraceSize is the bus window of the trace device.
const TraceSize = 4

func NewTrace(out io.Writer) *Trace {
	if out == nil {
		out = os.Stdout
	}
	return &Trace{Out: out}
}

func (tr *Trace) Read(_ uint32, length int) ([]byte, error) {
	return make([]byte, length), nil
}

func (tr *Trace) Write(_ uint32, data []byte) error {
	for _, b := range data {
		fmt.Fprintf(tr.Out, "%c", b)
	}
	return nil
}

func (tr *Trace) DebugRead(_ uint32, length int) ([]byte, error) {
	return make([]byte, length), nil
}

func (tr *Trace) DebugWrite(_ uint32, _ []byte) error {
	return nil
}

// Interactive UART register window, base relative. The layout follows
// the AC7805x map the firmware expects.
const (
	regCR1 = 0x00
	regISR = 0x1c
	regICR = 0x20
	regRDR = 0x24
	regTDR = 0x28

	// Size is the length of the register window on the bus.
	Size = 0x40
)

// CR1 bits.
const (
	cr1UE     = 1 << 0
	cr1RE     = 1 << 2
	cr1TE     = 1 << 3
	cr1RXNEIE = 1 << 5
)

// ISR bits.
const (
	isrRXNE = 1 << 5
	isrTC   = 1 << 6
	isrTXE  = 1 << 7
)

// UART is a bidirectional console device. Transmit goes straight to the
// output writer; receive is fed from a reader goroutine into a small
// queue behind RDR, pending an interrupt when enabled.
type UART struct {
	mu   sync.Mutex
	cr1  uint32
	rx   []byte
	out  io.Writer
	nv   *nvic.NVIC
	irq  int
	raw  *term.State // Non-nil while stdin is in raw mode
	done chan struct{}
}

// New creates a UART pending exception irq on receive.
func New(out io.Writer, nv *nvic.NVIC, irq int) *UART {
	if out == nil {
		out = os.Stdout
	}
	return &UART{out: out, nv: nv, irq: irq, done: make(chan struct{})}
}

// Attach starts feeding input from in. When in is the process stdin and
// it is a terminal, it switches to raw mode so firmware sees each
// keystroke; Detach restores it.
func (u *UART) Attach(in *os.File) error {
	if in == nil {
		return nil
	}
	if term.IsTerminal(int(in.Fd())) {
		state, err := term.MakeRaw(int(in.Fd()))
		if err != nil {
			return fmt.Errorf("uart: raw mode: %w", err)
		}
		u.raw = state
		slog.Info("uart: console in raw mode")
	}
	go u.reader(in)
	return nil
}

// Detach stops input and restores the terminal.
func (u *UART) Detach(in *os.File) {
	close(u.done)
	if u.raw != nil && in != nil {
		_ = term.Restore(int(in.Fd()), u.raw)
		u.raw = nil
	}
}

func (u *UART) reader(in *os.File) {
	buf := make([]byte, 1)
	for {
		select {
		case <-u.done:
			return
		default:
		}
		n, err := in.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			u.Feed(buf[0])
		}
	}
}

// Feed queues one received byte. Exported so tests and embedders can
// inject input without a file.
func (u *UART) Feed(b byte) {
	u.mu.Lock()
	enabled := u.cr1&cr1UE != 0 && u.cr1&cr1RE != 0
	wantIrq := u.cr1&cr1RXNEIE != 0
	if enabled {
		u.rx = append(u.rx, b)
	}
	u.mu.Unlock()
	if enabled && wantIrq && u.nv != nil {
		u.nv.SetPending(u.irq)
	}
}

func (u *UART) Read(offset uint32, length int) ([]byte, error) {
	if length != 4 || offset&3 != 0 {
		return nil, fmt.Errorf("%w: %02x len %d", ErrRegister, offset, length)
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	var v uint32
	switch offset {
	case regCR1:
		v = u.cr1
	case regISR:
		v = isrTXE | isrTC // Transmit never blocks
		if len(u.rx) > 0 {
			v |= isrRXNE
		}
	case regRDR:
		if len(u.rx) > 0 {
			v = uint32(u.rx[0])
			u.rx = u.rx[1:]
		}
	default:
		if offset >= Size {
			return nil, fmt.Errorf("%w: %02x", ErrRegister, offset)
		}
	}
	return leWord(v), nil
}

func (u *UART) Write(offset uint32, data []byte) error {
	if len(data) != 4 && len(data) != 1 {
		return fmt.Errorf("%w: %02x len %d", ErrRegister, offset, len(data))
	}
	v := uint32(data[0])
	if len(data) == 4 {
		v |= uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	switch offset {
	case regCR1:
		u.cr1 = v
	case regICR:
		// Flags are derived, nothing latched to clear.
	case regTDR:
		if u.cr1&cr1UE != 0 && u.cr1&cr1TE != 0 {
			fmt.Fprintf(u.out, "%c", byte(v))
		}
	default:
		if offset >= Size {
			return fmt.Errorf("%w: %02x", ErrRegister, offset)
		}
	}
	return nil
}

// Debug accesses do not consume receive data.
func (u *UART) DebugRead(offset uint32, length int) ([]byte, error) {
	if offset == regRDR {
		u.mu.Lock()
		defer u.mu.Unlock()
		var v uint32
		if len(u.rx) > 0 {
			v = uint32(u.rx[0])
		}
		return leWord(v), nil
	}
	return u.Read(offset, length)
}

func (u *UART) DebugWrite(offset uint32, data []byte) error {
	if offset == regTDR {
		return nil
	}
	return u.Write(offset, data)
}

func leWord(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
