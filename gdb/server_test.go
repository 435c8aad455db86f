package gdb

import (
	"testing"

	"github.com/rcornwell/cortex-m0/emu/bus"
	"github.com/rcornwell/cortex-m0/emu/core"
	"github.com/rcornwell/cortex-m0/emu/cpu"
	"github.com/rcornwell/cortex-m0/emu/event"
	"github.com/rcornwell/cortex-m0/emu/master"
	"github.com/rcornwell/cortex-m0/emu/memory"
	"github.com/rcornwell/cortex-m0/emu/nvic"
	"github.com/rcornwell/cortex-m0/emu/registers"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	b := bus.New()
	mem := memory.New(0x1000)
	nv := nvic.New()
	if err := b.AddDevice("ram", 0, 0x1000, true, mem); err != nil {
		t.Fatal(err)
	}
	c := cpu.New(registers.NewFile(0x800), b, nv)
	co := core.New(c, event.NewQueue(), make(chan master.Packet, 1))
	return &Server{
		core:   co,
		breaks: make(map[uint32]uint16),
		halted: make(chan struct{}, 1),
	}
}

func TestExtractPacket(t *testing.T) {
	body, rest, ok := extractPacket([]byte("+$g#67"))
	if !ok || body != "g" || len(rest) != 0 {
		t.Errorf("got body=%q rest=%q ok=%v", body, rest, ok)
	}
	// Bad checksum drops the frame.
	_, _, ok = extractPacket([]byte("$g#00"))
	if ok {
		t.Error("bad checksum accepted")
	}
	// Partial frame waits for more input.
	_, rest, ok = extractPacket([]byte("$m0,4"))
	if ok || string(rest) != "$m0,4" {
		t.Errorf("partial frame got rest=%q ok=%v", rest, ok)
	}
}

func TestSwap32(t *testing.T) {
	if swap32(0x12345678) != 0x78563412 {
		t.Errorf("swap got %08x", swap32(0x12345678))
	}
	if swap32(swap32(0xdeadbeef)) != 0xdeadbeef {
		t.Error("swap not an involution")
	}
}

func TestReadWriteMemory(t *testing.T) {
	s := testServer(t)
	if got := s.writeMemory("100,4:deadbeef"); got != "OK" {
		t.Fatalf("write got %q", got)
	}
	if got := s.readMemory("100,4"); got != "deadbeef" {
		t.Errorf("read got %q", got)
	}
	if got := s.readMemory("100000,4"); got != "E03" {
		t.Errorf("unmapped read got %q", got)
	}
}

func TestRegisterPacket(t *testing.T) {
	s := testServer(t)
	_ = s.core.CPU.Reg.Write(0, 0x12345678)
	g := s.readRegisters()
	if len(g) != numRegs*8 {
		t.Fatalf("g packet length %d expected %d", len(g), numRegs*8)
	}
	if g[:8] != "78563412" {
		t.Errorf("R0 image got %q expected 78563412", g[:8])
	}
	if got := s.writeRegister("2=efbeadde"); got != "OK" {
		t.Fatalf("P got %q", got)
	}
	if v, _ := s.core.CPU.Reg.Read(2); v != 0xdeadbeef {
		t.Errorf("R2 got %08x expected deadbeef", v)
	}
	if got := s.readRegister("2"); got != "efbeadde" {
		t.Errorf("p got %q", got)
	}
}

func TestBreakpointPlant(t *testing.T) {
	s := testServer(t)
	if err := s.core.CPU.Bus.DebugWrite(0x100, []byte{0x05, 0x20}); err != nil {
		t.Fatal(err)
	}
	if got := s.breakpoint("Z0,100,2"); got != "OK" {
		t.Fatalf("Z0 got %q", got)
	}
	b, _ := s.core.CPU.Bus.DebugRead(0x100, 2)
	if uint16(b[0])|uint16(b[1])<<8 != bkptOpcode {
		t.Errorf("BKPT not planted, got %02x%02x", b[1], b[0])
	}
	if got := s.breakpoint("z0,100,2"); got != "OK" {
		t.Fatalf("z0 got %q", got)
	}
	b, _ = s.core.CPU.Bus.DebugRead(0x100, 2)
	if b[0] != 0x05 || b[1] != 0x20 {
		t.Errorf("original opcode not restored, got %02x %02x", b[0], b[1])
	}
}

func TestQuery(t *testing.T) {
	s := testServer(t)
	if got := s.query("qSupported:multiprocess+"); got == "" {
		t.Error("qSupported must answer")
	}
	if got := s.query("qAttached"); got != "1" {
		t.Errorf("qAttached got %q", got)
	}
	if got := s.query("qUnknownThing"); got != "" {
		t.Errorf("unknown query got %q expected empty", got)
	}
}
