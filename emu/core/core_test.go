package core

import (
	"testing"
	"time"

	"github.com/rcornwell/cortex-m0/emu/bus"
	"github.com/rcornwell/cortex-m0/emu/cpu"
	"github.com/rcornwell/cortex-m0/emu/event"
	"github.com/rcornwell/cortex-m0/emu/master"
	"github.com/rcornwell/cortex-m0/emu/memory"
	"github.com/rcornwell/cortex-m0/emu/nvic"
	"github.com/rcornwell/cortex-m0/emu/registers"
)

func testCore(t *testing.T) (*Core, chan master.Packet, *memory.Memory) {
	t.Helper()
	b := bus.New()
	mem := memory.New(0x1000)
	nv := nvic.New()
	if err := b.AddDevice("ram", 0, 0x1000, true, mem); err != nil {
		t.Fatal(err)
	}
	c := cpu.New(registers.NewFile(0x800), b, nv)
	masterChan := make(chan master.Packet, 4)
	return New(c, event.NewQueue(), masterChan), masterChan, mem
}

func TestStepBudget(t *testing.T) {
	co, masterChan, mem := testCore(t)
	_ = mem.PutWord(0, 0x800)
	_ = mem.PutWord(4, 0x101)
	// Three NOPs then spin.
	_ = mem.Write(0x100, []byte{0x00, 0xbf, 0x00, 0xbf, 0x00, 0xbf, 0xfe, 0xe7})

	halted := make(chan struct{}, 1)
	co.OnHalt = func() { halted <- struct{}{} }

	go co.Start()
	defer co.Stop()

	masterChan <- master.Packet{Msg: master.Step, Count: 3}
	select {
	case <-halted:
	case <-time.After(2 * time.Second):
		t.Fatal("step budget never completed")
	}
	if co.Running() {
		t.Error("core still running after step budget")
	}
	if pc := co.CPU.Reg.PC(); pc != 0x106 {
		t.Errorf("PC got %08x expected 106", pc)
	}
}

func TestStartStop(t *testing.T) {
	co, masterChan, mem := testCore(t)
	_ = mem.PutWord(0, 0x800)
	_ = mem.PutWord(4, 0x101)
	_ = mem.Write(0x100, []byte{0xfe, 0xe7}) // B .

	go co.Start()
	masterChan <- master.Packet{Msg: master.Start}
	time.Sleep(20 * time.Millisecond)
	if !co.Running() {
		t.Error("core not running after Start")
	}
	masterChan <- master.Packet{Msg: master.Stop}
	time.Sleep(20 * time.Millisecond)
	if co.Running() {
		t.Error("core running after Stop")
	}
	co.Stop()
	if pc := co.CPU.Reg.PC(); pc != 0x100 {
		t.Errorf("spin loop PC got %08x expected 100", pc)
	}
}
