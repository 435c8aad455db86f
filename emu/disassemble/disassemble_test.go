package disassemble

import (
	"testing"

	"github.com/rcornwell/cortex-m0/emu/inst"
)

func TestDisassemble16(t *testing.T) {
	cases := []struct {
		op   uint16
		addr uint32
		want string
	}{
		{0x2005, 0, "MOVS R0, #5"},
		{0x1842, 0, "ADDS R2, R0, R1"},
		{0x4288, 0, "CMP R0, R1"},
		{0x4770, 0, "BX LR"},
		{0xb513, 0, "PUSH {R0,R1,R4,LR}"},
		{0xbd13, 0, "POP {R0,R1,R4,PC}"},
		{0x9803, 0, "LDR R0, [SP, #12]"},
		{0x0048, 0, "LSLS R0, R1, #1"},
		{0x0008, 0, "MOVS R0, R1"},
		{0x0808, 0, "LSRS R0, R1, #32"},
		{0xd001, 0x100, "BEQ 0x00000106"},
		{0xe7fe, 0x100, "B 0x00000100"},
		{0xdf20, 0, "SVC #32"},
		{0xbf30, 0, "WFI"},
		{0xb662, 0, "CPSIE i"},
		{0xc105, 0, "STMIA R1!, {R0,R2}"},
		{0xa802, 0, "ADD R0, SP, #8"},
	}
	for _, c := range cases {
		got := Disassemble(c.addr, inst.Decode16(c.op))
		if got != c.want {
			t.Errorf("%04x: got %q expected %q", c.op, got, c.want)
		}
	}
}

func TestDisassembleBL(t *testing.T) {
	f := inst.Decode32(0xf000, 0xf802)
	if got := Disassemble(0x100, f); got != "BL 0x00000108" {
		t.Errorf("BL got %q", got)
	}
}

func TestDisassembleUnknown(t *testing.T) {
	f := inst.Decode16(0xde00)
	if got := Disassemble(0, f); got != ".short 0xde00" {
		t.Errorf("undefined got %q", got)
	}
}
