package memory

/*
 * CM0  - RAM target
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrRange = errors.New("access outside memory")

// Memory is a flat little endian byte array. It satisfies reads and writes
// of any length at any in range offset; alignment is the CPU's business.
type Memory struct {
	data []byte
}

func New(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

func (m *Memory) check(addr uint32, length int) error {
	if uint64(addr)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("%w: %08x+%d", ErrRange, addr, length)
	}
	return nil
}

func (m *Memory) Read(addr uint32, length int) ([]byte, error) {
	if err := m.check(addr, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[addr:])
	return out, nil
}

func (m *Memory) Write(addr uint32, data []byte) error {
	if err := m.check(addr, len(data)); err != nil {
		return err
	}
	copy(m.data[addr:], data)
	return nil
}

// Debug accesses are identical for plain RAM.
func (m *Memory) DebugRead(addr uint32, length int) ([]byte, error) {
	return m.Read(addr, length)
}

func (m *Memory) DebugWrite(addr uint32, data []byte) error {
	return m.Write(addr, data)
}

// Direct grants the CPU fetch fast path a handle on the backing array.
func (m *Memory) Direct() []byte {
	return m.data
}

// GetWord returns the word at addr, or an error when out of range. Used at
// startup to check the reset vector after a program is loaded.
func (m *Memory) GetWord(addr uint32) (uint32, error) {
	if err := m.check(addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[addr:]), nil
}

// PutWord stores a word at addr.
func (m *Memory) PutWord(addr, data uint32) error {
	if err := m.check(addr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[addr:], data)
	return nil
}
