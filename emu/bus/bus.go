/*
   CM0: Bus fabric, routes CPU accesses to memory mapped devices.

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

package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	ErrAddress = errors.New("unmapped address")
	ErrOverlap = errors.New("device range overlaps existing device")
)

// Target is implemented by every memory mapped device. The address passed
// in is base relative when the device was added with translation, otherwise
// it is the full ARM address. The debug variants are used by the monitor
// and the GDB server and must not advance simulated time or trigger side
// effects beyond the register access itself.
type Target interface {
	Read(addr uint32, length int) ([]byte, error)
	Write(addr uint32, data []byte) error
	DebugRead(addr uint32, length int) ([]byte, error)
	DebugWrite(addr uint32, data []byte) error
}

// DirectMemory is implemented only by the RAM target. It grants the CPU a
// direct byte slice for the fetch fast path; peripherals never implement it.
type DirectMemory interface {
	Direct() []byte
}

type device struct {
	name      string
	base      uint32
	size      uint32
	translate bool
	target    Target
}

// Bus routes reads and writes by address range. Devices are fixed after
// construction; lookup is a linear scan over a handful of sorted entries.
type Bus struct {
	devices []device
}

func New() *Bus {
	return &Bus{}
}

// AddDevice maps target at [base, base+size). When translate is set the
// device sees base relative addresses. Overlapping ranges are rejected.
func (b *Bus) AddDevice(name string, base, size uint32, translate bool, target Target) error {
	if size == 0 {
		return fmt.Errorf("device %s: zero size", name)
	}
	end := base + size - 1
	for i := range b.devices {
		d := &b.devices[i]
		dEnd := d.base + d.size - 1
		if base <= dEnd && end >= d.base {
			return fmt.Errorf("%w: %s at %08x overlaps %s at %08x", ErrOverlap, name, base, d.name, d.base)
		}
	}
	b.devices = append(b.devices, device{name: name, base: base, size: size, translate: translate, target: target})
	sort.Slice(b.devices, func(i, j int) bool {
		return b.devices[i].base < b.devices[j].base
	})
	slog.Debug(fmt.Sprintf("bus: mapped %s at %08x-%08x", name, base, end))
	return nil
}

func (b *Bus) decode(addr uint32) *device {
	for i := range b.devices {
		d := &b.devices[i]
		if addr >= d.base && addr-d.base < d.size {
			return d
		}
	}
	return nil
}

// Read returns length bytes starting at addr.
func (b *Bus) Read(addr uint32, length int) ([]byte, error) {
	d := b.decode(addr)
	if d == nil {
		return nil, fmt.Errorf("%w: read %08x", ErrAddress, addr)
	}
	return d.target.Read(d.forward(addr), length)
}

// Write stores data starting at addr.
func (b *Bus) Write(addr uint32, data []byte) error {
	d := b.decode(addr)
	if d == nil {
		return fmt.Errorf("%w: write %08x", ErrAddress, addr)
	}
	return d.target.Write(d.forward(addr), data)
}

// DebugRead reads without simulated time or device side effects.
func (b *Bus) DebugRead(addr uint32, length int) ([]byte, error) {
	d := b.decode(addr)
	if d == nil {
		return nil, fmt.Errorf("%w: debug read %08x", ErrAddress, addr)
	}
	return d.target.DebugRead(d.forward(addr), length)
}

// DebugWrite writes without simulated time or device side effects.
func (b *Bus) DebugWrite(addr uint32, data []byte) error {
	d := b.decode(addr)
	if d == nil {
		return fmt.Errorf("%w: debug write %08x", ErrAddress, addr)
	}
	return d.target.DebugWrite(d.forward(addr), data)
}

// Direct returns a byte slice backing addr and the device relative offset,
// when the decoded device grants direct access. Only the RAM target does.
func (b *Bus) Direct(addr uint32) ([]byte, uint32, bool) {
	d := b.decode(addr)
	if d == nil {
		return nil, 0, false
	}
	dm, ok := d.target.(DirectMemory)
	if !ok {
		return nil, 0, false
	}
	return dm.Direct(), d.forward(addr), true
}

func (d *device) forward(addr uint32) uint32 {
	if d.translate {
		return addr - d.base
	}
	return addr
}
