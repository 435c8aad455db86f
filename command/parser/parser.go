/*
 * CM0 - Monitor command parser
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

// Package parser interprets monitor commands against a running machine.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcornwell/cortex-m0/emu/core"
	"github.com/rcornwell/cortex-m0/emu/disassemble"
	"github.com/rcornwell/cortex-m0/emu/inst"
	"github.com/rcornwell/cortex-m0/emu/master"
)

var ErrCommand = errors.New("unknown command")

var commands = []string{
	"step", "go", "stop", "reset", "registers", "examine", "deposit", "list", "quit", "help",
}

// CompleteCmd offers completions for a partial command line.
func CompleteCmd(line string) []string {
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}

var regNames = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
}

// ProcessCommand runs one monitor command. The bool result asks the
// caller to exit.
func ProcessCommand(line string, c *core.Core, masterChan chan master.Packet) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch {
	case cmd == "quit" || cmd == "exit":
		masterChan <- master.Packet{Msg: master.Shutdown}
		return true, nil

	case cmd == "go" || cmd == "run" || cmd == "continue":
		masterChan <- master.Packet{Msg: master.Start}

	case cmd == "stop":
		masterChan <- master.Packet{Msg: master.Stop}

	case cmd == "reset":
		masterChan <- master.Packet{Msg: master.Reset}

	case strings.HasPrefix("step", cmd):
		count := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return false, fmt.Errorf("bad step count %q", args[0])
			}
			count = n
		}
		masterChan <- master.Packet{Msg: master.Step, Count: count}

	case strings.HasPrefix("registers", cmd):
		return false, showRegisters(c, args)

	case strings.HasPrefix("examine", cmd):
		return false, examine(c, args)

	case strings.HasPrefix("deposit", cmd):
		return false, deposit(c, args)

	case strings.HasPrefix("list", cmd):
		return false, list(c, args)

	case cmd == "help" || cmd == "?":
		fmt.Println("step [n]          run n instructions")
		fmt.Println("go                resume execution")
		fmt.Println("stop              pause execution")
		fmt.Println("reset             reset from the vector table")
		fmt.Println("registers [r [v]] show or set registers")
		fmt.Println("examine addr [n]  dump n words of memory")
		fmt.Println("deposit addr v    write one word of memory")
		fmt.Println("list [addr [n]]   disassemble n instructions")
		fmt.Println("quit              leave the simulator")

	default:
		return false, fmt.Errorf("%w: %q", ErrCommand, cmd)
	}
	return false, nil
}

func regIndex(name string) (int, bool) {
	name = strings.ToLower(name)
	for i, n := range regNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

func showRegisters(c *core.Core, args []string) error {
	r := c.CPU.Reg
	if len(args) == 0 {
		for i := 0; i < 16; i++ {
			v, _ := r.Read(uint8(i))
			fmt.Printf("%-3s %08x ", strings.ToUpper(regNames[i]), v)
			if i%4 == 3 {
				fmt.Println()
			}
		}
		fmt.Printf("PSR %08x PRIMASK %d CONTROL %d\n", r.PSR(), r.Primask(), r.Control())
		return nil
	}

	i, ok := regIndex(args[0])
	if !ok {
		return fmt.Errorf("no register %q", args[0])
	}
	if len(args) == 1 {
		v, _ := r.Read(uint8(i))
		fmt.Printf("%s %08x\n", strings.ToUpper(args[0]), v)
		return nil
	}
	v, err := parseNumber(args[1])
	if err != nil {
		return err
	}
	return r.Write(uint8(i), v)
}

func examine(c *core.Core, args []string) error {
	if len(args) == 0 {
		return errors.New("examine needs an address")
	}
	addr, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	count := uint32(4)
	if len(args) > 1 {
		count, err = parseNumber(args[1])
		if err != nil {
			return err
		}
	}
	for i := uint32(0); i < count; i++ {
		b, err := c.CPU.Bus.DebugRead(addr+i*4, 4)
		if err != nil {
			return err
		}
		if i%4 == 0 {
			if i != 0 {
				fmt.Println()
			}
			fmt.Printf("%08x:", addr+i*4)
		}
		fmt.Printf(" %02x%02x%02x%02x", b[3], b[2], b[1], b[0])
	}
	fmt.Println()
	return nil
}

func deposit(c *core.Core, args []string) error {
	if len(args) < 2 {
		return errors.New("deposit needs an address and a value")
	}
	addr, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	v, err := parseNumber(args[1])
	if err != nil {
		return err
	}
	data := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return c.CPU.Bus.DebugWrite(addr, data)
}

// list disassembles instructions at an address, defaulting to PC.
func list(c *core.Core, args []string) error {
	addr := c.CPU.Reg.PC()
	count := uint32(8)
	var err error
	if len(args) > 0 {
		addr, err = parseNumber(args[0])
		if err != nil {
			return err
		}
	}
	if len(args) > 1 {
		count, err = parseNumber(args[1])
		if err != nil {
			return err
		}
	}
	addr &^= 1
	for i := uint32(0); i < count; i++ {
		b, err := c.CPU.Bus.DebugRead(addr, 2)
		if err != nil {
			return err
		}
		h1 := uint16(b[0]) | uint16(b[1])<<8
		var fields inst.Fields
		size := uint32(2)
		if inst.Is32Prefix(h1) {
			b2, err := c.CPU.Bus.DebugRead(addr+2, 2)
			if err != nil {
				return err
			}
			fields = inst.Decode32(h1, uint16(b2[0])|uint16(b2[1])<<8)
			size = 4
		} else {
			fields = inst.Decode16(h1)
		}
		fmt.Printf("%08x: %s\n", addr, disassemble.Disassemble(addr, fields))
		addr += size
	}
	return nil
}

// parseNumber accepts 0x hex or decimal.
func parseNumber(s string) (uint32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(v), nil
}
