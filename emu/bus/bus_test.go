package bus

import (
	"errors"
	"testing"
)

// recordTarget remembers the last address it was handed.
type recordTarget struct {
	lastAddr  uint32
	lastDebug bool
}

func (r *recordTarget) Read(addr uint32, length int) ([]byte, error) {
	r.lastAddr = addr
	r.lastDebug = false
	return make([]byte, length), nil
}

func (r *recordTarget) Write(addr uint32, data []byte) error {
	r.lastAddr = addr
	r.lastDebug = false
	return nil
}

func (r *recordTarget) DebugRead(addr uint32, length int) ([]byte, error) {
	r.lastAddr = addr
	r.lastDebug = true
	return make([]byte, length), nil
}

func (r *recordTarget) DebugWrite(addr uint32, data []byte) error {
	r.lastAddr = addr
	r.lastDebug = true
	return nil
}

func TestOverlapRejected(t *testing.T) {
	b := New()
	if err := b.AddDevice("ram", 0, 0x1000, true, &recordTarget{}); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		base, size uint32
	}{
		{0, 0x10},        // Same base
		{0xfff, 2},       // Tail overlap
		{0x800, 0x10000}, // Covers existing
	}
	for _, c := range cases {
		if err := b.AddDevice("dup", c.base, c.size, true, &recordTarget{}); !errors.Is(err, ErrOverlap) {
			t.Errorf("base %08x size %x: expected overlap error, got %v", c.base, c.size, err)
		}
	}
	// Adjacent range is fine.
	if err := b.AddDevice("next", 0x1000, 0x100, true, &recordTarget{}); err != nil {
		t.Errorf("adjacent device rejected: %v", err)
	}
}

func TestTranslation(t *testing.T) {
	b := New()
	tr := &recordTarget{}
	abs := &recordTarget{}
	_ = b.AddDevice("uart", 0x40000000, 0x100, true, tr)
	_ = b.AddDevice("nvic", 0xe000e000, 0x1000, false, abs)

	if _, err := b.Read(0x40000004, 4); err != nil {
		t.Fatal(err)
	}
	if tr.lastAddr != 4 {
		t.Errorf("translated device saw %08x expected 4", tr.lastAddr)
	}

	if err := b.Write(0xe000e100, []byte{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if abs.lastAddr != 0xe000e100 {
		t.Errorf("absolute device saw %08x expected e000e100", abs.lastAddr)
	}
}

func TestUnmapped(t *testing.T) {
	b := New()
	_ = b.AddDevice("ram", 0, 0x1000, true, &recordTarget{})
	if _, err := b.Read(0x2000, 4); !errors.Is(err, ErrAddress) {
		t.Errorf("expected address error, got %v", err)
	}
	if err := b.Write(0xffffffff, []byte{0}); !errors.Is(err, ErrAddress) {
		t.Errorf("expected address error, got %v", err)
	}
}

func TestDebugPath(t *testing.T) {
	b := New()
	tr := &recordTarget{}
	_ = b.AddDevice("uart", 0x40000000, 0x100, true, tr)
	if _, err := b.DebugRead(0x40000008, 1); err != nil {
		t.Fatal(err)
	}
	if !tr.lastDebug || tr.lastAddr != 8 {
		t.Errorf("debug read saw addr=%08x debug=%v", tr.lastAddr, tr.lastDebug)
	}
}

func TestDirectOnlyForMemory(t *testing.T) {
	b := New()
	_ = b.AddDevice("uart", 0x40000000, 0x100, true, &recordTarget{})
	if _, _, ok := b.Direct(0x40000000); ok {
		t.Error("peripheral must not grant direct access")
	}
}
