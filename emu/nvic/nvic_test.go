package nvic

import (
	"encoding/binary"
	"testing"
)

func word(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func rd(t *testing.T, n *NVIC, addr uint32) uint32 {
	t.Helper()
	b, err := n.Read(addr, 4)
	if err != nil {
		t.Fatal(err)
	}
	return binary.LittleEndian.Uint32(b)
}

func TestEnablePending(t *testing.T) {
	n := New()
	// Pending but disabled external IRQ is not deliverable.
	n.SetPending(IRQ0 + 3)
	if _, ok := n.Next(ThreadPriority, false); ok {
		t.Fatal("disabled IRQ delivered")
	}
	if err := n.Write(regIser, word(1<<3)); err != nil {
		t.Fatal(err)
	}
	num, ok := n.Next(ThreadPriority, false)
	if !ok || num != IRQ0+3 {
		t.Fatalf("got %d ok=%v expected IRQ3", num, ok)
	}
	// ICER disables again.
	if err := n.Write(regIcer, word(1<<3)); err != nil {
		t.Fatal(err)
	}
	if _, ok := n.Next(ThreadPriority, false); ok {
		t.Fatal("disabled IRQ still delivered")
	}
}

func TestSystemAlwaysEnabled(t *testing.T) {
	n := New()
	n.SetPending(SysTick)
	num, ok := n.Next(ThreadPriority, false)
	if !ok || num != SysTick {
		t.Fatalf("got %d ok=%v expected SysTick", num, ok)
	}
}

func TestPrimaskMasking(t *testing.T) {
	n := New()
	n.SetPending(SysTick)
	if _, ok := n.Next(ThreadPriority, true); ok {
		t.Fatal("PRIMASK did not mask SysTick")
	}
	// NMI and HardFault ignore PRIMASK.
	n.SetPending(NMI)
	num, ok := n.Next(ThreadPriority, true)
	if !ok || num != NMI {
		t.Fatalf("got %d ok=%v expected NMI", num, ok)
	}
	n.ClearPending(NMI)
	n.SetPending(HardFault)
	num, ok = n.Next(ThreadPriority, true)
	if !ok || num != HardFault {
		t.Fatalf("got %d ok=%v expected HardFault", num, ok)
	}
}

func TestPriorityOrdering(t *testing.T) {
	n := New()
	_ = n.Write(regIser, word(0x3))
	// IRQ0 priority 4, IRQ1 priority 2.
	_ = n.Write(regIpr0, word(0x2040))
	n.SetPending(IRQ0)
	n.SetPending(IRQ0 + 1)
	num, ok := n.Next(ThreadPriority, false)
	if !ok || num != IRQ0+1 {
		t.Fatalf("got %d expected IRQ1", num)
	}

	// Ties break to the lowest exception number.
	n2 := New()
	_ = n2.Write(regIser, word(0xc))
	n2.SetPending(IRQ0 + 2)
	n2.SetPending(IRQ0 + 3)
	num, ok = n2.Next(ThreadPriority, false)
	if !ok || num != IRQ0+2 {
		t.Fatalf("got %d expected IRQ2", num)
	}
}

func TestPriorityMaskedToHighNibble(t *testing.T) {
	n := New()
	// Software writes all eight bits; only the top nibble is
	// implemented, so 0x4f and 0x40 must compare equal.
	_ = n.Write(regIpr0, word(0x4f))
	if got := n.Priority(IRQ0); got != 4 {
		t.Errorf("priority got %d expected 4", got)
	}
	if got := rd(t, n, regIpr0); got != 0x40 {
		t.Errorf("IPR0 reads %08x expected 40", got)
	}
}

func TestCurrentPriorityBlocks(t *testing.T) {
	n := New()
	_ = n.Write(regIser, word(0x3))
	_ = n.Write(regIpr0, word(0x2040)) // IRQ0=4, IRQ1=2
	n.SetPending(IRQ0 + 1)
	n.Acknowledge(IRQ0 + 1)
	// While IRQ1 (prio 2) is active, IRQ0 (prio 4) must wait.
	n.SetPending(IRQ0)
	if _, ok := n.Next(n.CurrentPriority(), false); ok {
		t.Fatal("lower priority IRQ preempted")
	}
	// NMI still gets through.
	n.SetPending(NMI)
	num, ok := n.Next(n.CurrentPriority(), false)
	if !ok || num != NMI {
		t.Fatalf("got %d ok=%v expected NMI", num, ok)
	}
}

func TestSHPR(t *testing.T) {
	n := New()
	_ = n.Write(regShpr3, word(0xc0400000)) // SysTick=12, PendSV=4
	if got := n.Priority(SysTick); got != 12 {
		t.Errorf("SysTick priority got %d expected 12", got)
	}
	if got := n.Priority(PendSV); got != 4 {
		t.Errorf("PendSV priority got %d expected 4", got)
	}
	_ = n.Write(regShpr2, word(0x80000000)) // SVCall=8
	if got := n.Priority(SVCall); got != 8 {
		t.Errorf("SVCall priority got %d expected 8", got)
	}
}

func TestIsprIcpr(t *testing.T) {
	n := New()
	_ = n.Write(regIspr, word(0x10))
	if !n.Pending(IRQ0 + 4) {
		t.Fatal("ISPR write did not pend")
	}
	if got := rd(t, n, regIspr); got != 0x10 {
		t.Errorf("ISPR reads %08x expected 10", got)
	}
	_ = n.Write(regIcpr, word(0x10))
	if n.Pending(IRQ0 + 4) {
		t.Fatal("ICPR write did not clear")
	}

	// Pending of an active exception survives ICPR.
	n.SetPending(IRQ0 + 4)
	n.Acknowledge(IRQ0 + 4) // Clears pending, sets active
	n.SetPending(IRQ0 + 4)  // Pend again while active
	_ = n.Write(regIcpr, word(0x10))
	if !n.Pending(IRQ0 + 4) {
		t.Fatal("ICPR cleared pending of an active exception")
	}
}

func TestActiveLifecycle(t *testing.T) {
	n := New()
	n.SetPending(SysTick)
	n.Acknowledge(SysTick)
	if n.Pending(SysTick) || !n.Active(SysTick) {
		t.Fatalf("after ack pending=%v active=%v", n.Pending(SysTick), n.Active(SysTick))
	}
	if n.CurrentPriority() != 0 {
		t.Errorf("current priority got %d expected 0", n.CurrentPriority())
	}
	n.Deactivate(SysTick)
	if n.Active(SysTick) {
		t.Fatal("still active after deactivate")
	}
	if n.CurrentPriority() != ThreadPriority {
		t.Errorf("current priority got %d expected thread", n.CurrentPriority())
	}
}

func TestSysTickCountdown(t *testing.T) {
	n := New()
	_ = n.Write(regStkLoad, word(10))
	_ = n.Write(regStkVal, word(0))
	_ = n.Write(regStkCtrl, word(stEnable|stTickInt))

	// First tick reloads, then counts 10 down to zero.
	n.TickSysTick(10)
	if n.Pending(SysTick) {
		t.Fatal("SysTick fired early")
	}
	n.TickSysTick(1)
	if !n.Pending(SysTick) {
		t.Fatal("SysTick did not fire on wrap")
	}
	if rd(t, n, regStkCtrl)&stCountFlag == 0 {
		t.Fatal("COUNTFLAG not set")
	}
	// COUNTFLAG clears on read.
	if rd(t, n, regStkCtrl)&stCountFlag != 0 {
		t.Fatal("COUNTFLAG did not clear on read")
	}
}

func TestSysTickDisabled(t *testing.T) {
	n := New()
	_ = n.Write(regStkLoad, word(5))
	n.TickSysTick(100)
	if n.Pending(SysTick) {
		t.Fatal("disabled SysTick fired")
	}
}

func TestBadAccess(t *testing.T) {
	n := New()
	if _, err := n.Read(0xe000e102, 4); err == nil {
		t.Error("unaligned register read accepted")
	}
	if _, err := n.Read(regIser, 2); err == nil {
		t.Error("halfword register read accepted")
	}
	if err := n.Write(0xe000ef00, word(0)); err == nil {
		t.Error("write to a hole accepted")
	}
}
