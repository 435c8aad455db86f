package registers

import "testing"

func TestReadWriteLow(t *testing.T) {
	f := NewFile(0x20001000)
	for reg := uint8(0); reg < 13; reg++ {
		v := uint32(0x1000) + uint32(reg)
		if err := f.Write(reg, v); err != nil {
			t.Fatalf("write R%d: %v", reg, err)
		}
		got, err := f.Read(reg)
		if err != nil {
			t.Fatalf("read R%d: %v", reg, err)
		}
		if got != v {
			t.Errorf("R%d got %08x expected %08x", reg, got, v)
		}
	}
}

func TestInvalidRegister(t *testing.T) {
	f := NewFile(0x20001000)
	if _, err := f.Read(16); err == nil {
		t.Error("read of register 16 should fail")
	}
	if err := f.Write(20, 1); err == nil {
		t.Error("write of register 20 should fail")
	}
}

func TestStackSelect(t *testing.T) {
	f := NewFile(0x20001000)
	if v, _ := f.Read(SP); v != 0x20001000 {
		t.Errorf("reset MSP got %08x expected 20001000", v)
	}

	// Writes to R13 land on the selected pointer and drop the low bits.
	_ = f.Write(SP, 0x20000ffe)
	if f.MSP() != 0x20000ffc {
		t.Errorf("MSP got %08x expected 20000ffc", f.MSP())
	}
	if f.PSP() != 0 {
		t.Errorf("PSP should be untouched, got %08x", f.PSP())
	}

	f.SetSpsel(true)
	_ = f.Write(SP, 0x20002004)
	if f.PSP() != 0x20002004 {
		t.Errorf("PSP got %08x expected 20002004", f.PSP())
	}
	if v, _ := f.Read(SP); v != 0x20002004 {
		t.Errorf("selected SP got %08x expected 20002004", v)
	}
	if f.MSP() != 0x20000ffc {
		t.Errorf("MSP changed to %08x", f.MSP())
	}
}

func TestPCBitZero(t *testing.T) {
	f := NewFile(0x20001000)
	_ = f.Write(PC, 0x00000009)
	if v, _ := f.Read(PC); v != 0x00000008 {
		t.Errorf("PC got %08x expected 00000008", v)
	}
	f.SetPC(0x101)
	if f.PC() != 0x100 {
		t.Errorf("SetPC got %08x expected 00000100", f.PC())
	}
}

func TestThumbBitSticky(t *testing.T) {
	f := NewFile(0x20001000)
	if f.PSR() != FlagT {
		t.Errorf("reset xPSR got %08x expected %08x", f.PSR(), uint32(FlagT))
	}
	f.SetPSR(0)
	if f.PSR()&FlagT == 0 {
		t.Error("T bit must not clear")
	}
}

func TestFlags(t *testing.T) {
	f := NewFile(0x20001000)
	f.SetN(true)
	f.SetC(true)
	if !f.N() || f.Z() || !f.C() || f.V() {
		t.Errorf("flags got N=%v Z=%v C=%v V=%v", f.N(), f.Z(), f.C(), f.V())
	}
	f.NZ(0)
	if !f.Z() || f.N() {
		t.Errorf("NZ(0) got N=%v Z=%v", f.N(), f.Z())
	}
	if !f.C() {
		t.Error("NZ must not touch carry")
	}
}

func TestISRNumber(t *testing.T) {
	f := NewFile(0x20001000)
	f.SetISRNumber(15)
	if f.ISRNumber() != 15 {
		t.Errorf("ISR number got %d expected 15", f.ISRNumber())
	}
	if f.PSR()&FlagT == 0 {
		t.Error("ISR number write must keep T")
	}
	f.SetISRNumber(0)
	if f.ISRNumber() != 0 {
		t.Errorf("ISR number got %d expected 0", f.ISRNumber())
	}
}
