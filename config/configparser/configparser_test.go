/*
 * CM0 - Board configuration parser test set.
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

package configparser

import "testing"

const sample = `
# test board
MEMORY 64K
TRACE 0x40000000
UART 0x40010000 irq=1 console
TIMER 0x40020000 irq=0   # trailing comment
GDB 3333
LOGFILE sim.log
`

func TestParse(t *testing.T) {
	cfg, err := ParseString(sample)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Devices) != 6 {
		t.Fatalf("got %d devices expected 6", len(cfg.Devices))
	}

	mem, ok := cfg.Find("MEMORY")
	if !ok {
		t.Fatal("MEMORY line missing")
	}
	size, err := ParseSize(mem.Value)
	if err != nil || size != 64*1024 {
		t.Errorf("size got %d err %v", size, err)
	}

	u, ok := cfg.Find("UART")
	if !ok || !u.HasAddr || u.Addr != 0x40010000 {
		t.Fatalf("UART got %+v", u)
	}
	irq, err := u.IrqOption(0)
	if err != nil || irq != 1 {
		t.Errorf("irq got %d err %v", irq, err)
	}
	if _, ok := u.Option("console"); !ok {
		t.Error("console flag missing")
	}

	g, _ := cfg.Find("GDB")
	if g.Value != "3333" {
		t.Errorf("GDB port got %q", g.Value)
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		out  uint32
		fail bool
	}{
		{"1024", 1024, false},
		{"64K", 64 * 1024, false},
		{"1M", 1024 * 1024, false},
		{"2m", 2 * 1024 * 1024, false},
		{"", 0, true},
		{"12Q", 0, true},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		if c.fail {
			if err == nil {
				t.Errorf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.out {
			t.Errorf("%q got %d err %v", c.in, got, err)
		}
	}
}

func TestBadAddress(t *testing.T) {
	if _, err := ParseString("UART 0xzz\n"); err == nil {
		t.Error("bad address accepted")
	}
}

func TestFindAll(t *testing.T) {
	cfg, err := ParseString("UART 0x40000000 irq=1\nUART 0x40010000 irq=2\n")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(cfg.FindAll("UART")); got != 2 {
		t.Errorf("FindAll got %d expected 2", got)
	}
}
