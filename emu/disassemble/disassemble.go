/*
   CM0: Thumb disassembler, used by the monitor.

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

package disassemble

import (
	"fmt"

	"github.com/rcornwell/cortex-m0/emu/inst"
)

var condNames = [16]string{
	"EQ", "NE", "CS", "CC", "MI", "PL", "VS", "VC",
	"HI", "LS", "GE", "LT", "GT", "LE", "", "",
}

var hintNames = map[uint32]string{
	inst.HintNop:   "NOP",
	inst.HintYield: "YIELD",
	inst.HintWfe:   "WFE",
	inst.HintWfi:   "WFI",
	inst.HintSev:   "SEV",
}

func reg(r uint8) string {
	switch r {
	case 13:
		return "SP"
	case 14:
		return "LR"
	case 15:
		return "PC"
	}
	return fmt.Sprintf("R%d", r)
}

// regList formats a {R0,R1,...} mask.
func regList(list uint16) string {
	out := "{"
	first := true
	for i := uint8(0); i < 16; i++ {
		if list&(1<<i) == 0 {
			continue
		}
		if !first {
			out += ","
		}
		out += reg(i)
		first = false
	}
	return out + "}"
}

// Disassemble renders one decoded instruction at addr. The address is
// needed to resolve branch targets.
func Disassemble(addr uint32, f inst.Fields) string {
	switch f.Type {
	case inst.LslImm, inst.LsrImm, inst.AsrImm:
		name := map[inst.Type]string{inst.LslImm: "LSLS", inst.LsrImm: "LSRS", inst.AsrImm: "ASRS"}[f.Type]
		amount := uint32(f.ShiftAmount)
		if amount == 0 && f.Type != inst.LslImm {
			amount = 32
		}
		if f.Type == inst.LslImm && amount == 0 {
			return fmt.Sprintf("MOVS %s, %s", reg(f.Rd), reg(f.Rm))
		}
		return fmt.Sprintf("%s %s, %s, #%d", name, reg(f.Rd), reg(f.Rm), amount)

	case inst.AddReg:
		return fmt.Sprintf("ADDS %s, %s, %s", reg(f.Rd), reg(f.Rn), reg(f.Rm))
	case inst.SubReg:
		return fmt.Sprintf("SUBS %s, %s, %s", reg(f.Rd), reg(f.Rn), reg(f.Rm))
	case inst.AddImm3:
		return fmt.Sprintf("ADDS %s, %s, #%d", reg(f.Rd), reg(f.Rn), f.Imm)
	case inst.SubImm3:
		return fmt.Sprintf("SUBS %s, %s, #%d", reg(f.Rd), reg(f.Rn), f.Imm)

	case inst.MovImm:
		return fmt.Sprintf("MOVS %s, #%d", reg(f.Rd), f.Imm)
	case inst.CmpImm:
		return fmt.Sprintf("CMP %s, #%d", reg(f.Rn), f.Imm)
	case inst.AddImm8:
		return fmt.Sprintf("ADDS %s, #%d", reg(f.Rd), f.Imm)
	case inst.SubImm8:
		return fmt.Sprintf("SUBS %s, #%d", reg(f.Rd), f.Imm)

	case inst.And, inst.Eor, inst.Adc, inst.Sbc, inst.Ror, inst.Tst, inst.Neg,
		inst.CmpReg, inst.Cmn, inst.Orr, inst.Mul, inst.Bic, inst.Mvn,
		inst.LslReg, inst.LsrReg, inst.AsrReg:
		names := map[inst.Type]string{
			inst.And: "ANDS", inst.Eor: "EORS", inst.Adc: "ADCS", inst.Sbc: "SBCS",
			inst.Ror: "RORS", inst.Tst: "TST", inst.Neg: "NEGS", inst.CmpReg: "CMP",
			inst.Cmn: "CMN", inst.Orr: "ORRS", inst.Mul: "MULS", inst.Bic: "BICS",
			inst.Mvn: "MVNS", inst.LslReg: "LSLS", inst.LsrReg: "LSRS", inst.AsrReg: "ASRS",
		}
		return fmt.Sprintf("%s %s, %s", names[f.Type], reg(f.Rd), reg(f.Rm))

	case inst.AddHi:
		return fmt.Sprintf("ADD %s, %s", reg(f.Rd), reg(f.Rm))
	case inst.CmpHi:
		return fmt.Sprintf("CMP %s, %s", reg(f.Rd), reg(f.Rm))
	case inst.MovHi:
		return fmt.Sprintf("MOV %s, %s", reg(f.Rd), reg(f.Rm))
	case inst.Bx:
		return fmt.Sprintf("BX %s", reg(f.Rm))

	case inst.LdrPC:
		return fmt.Sprintf("LDR %s, [PC, #%d]", reg(f.Rd), f.Imm)

	case inst.StrReg, inst.StrhReg, inst.StrbReg, inst.LdrsbReg,
		inst.LdrReg, inst.LdrhReg, inst.LdrbReg, inst.LdrshReg:
		names := map[inst.Type]string{
			inst.StrReg: "STR", inst.StrhReg: "STRH", inst.StrbReg: "STRB",
			inst.LdrsbReg: "LDRSB", inst.LdrReg: "LDR", inst.LdrhReg: "LDRH",
			inst.LdrbReg: "LDRB", inst.LdrshReg: "LDRSH",
		}
		return fmt.Sprintf("%s %s, [%s, %s]", names[f.Type], reg(f.Rd), reg(f.Rn), reg(f.Rm))

	case inst.StrImm, inst.LdrImm, inst.StrbImm, inst.LdrbImm,
		inst.StrhImm, inst.LdrhImm, inst.StrSP, inst.LdrSP:
		names := map[inst.Type]string{
			inst.StrImm: "STR", inst.LdrImm: "LDR", inst.StrbImm: "STRB",
			inst.LdrbImm: "LDRB", inst.StrhImm: "STRH", inst.LdrhImm: "LDRH",
			inst.StrSP: "STR", inst.LdrSP: "LDR",
		}
		return fmt.Sprintf("%s %s, [%s, #%d]", names[f.Type], reg(f.Rd), reg(f.Rn), f.Imm)

	case inst.AddPC:
		return fmt.Sprintf("ADD %s, PC, #%d", reg(f.Rd), f.Imm)
	case inst.AddSP:
		return fmt.Sprintf("ADD %s, SP, #%d", reg(f.Rd), f.Imm)
	case inst.AddSPImm7:
		return fmt.Sprintf("ADD SP, #%d", f.Imm)
	case inst.SubSPImm7:
		return fmt.Sprintf("SUB SP, #%d", f.Imm)

	case inst.Sxth, inst.Sxtb, inst.Uxth, inst.Uxtb, inst.Rev, inst.Rev16, inst.Revsh:
		names := map[inst.Type]string{
			inst.Sxth: "SXTH", inst.Sxtb: "SXTB", inst.Uxth: "UXTH",
			inst.Uxtb: "UXTB", inst.Rev: "REV", inst.Rev16: "REV16", inst.Revsh: "REVSH",
		}
		return fmt.Sprintf("%s %s, %s", names[f.Type], reg(f.Rd), reg(f.Rm))

	case inst.Cps:
		if f.AluOp != 0 {
			return "CPSID i"
		}
		return "CPSIE i"

	case inst.Push:
		return "PUSH " + regList(f.RegList)
	case inst.Pop:
		return "POP " + regList(f.RegList)
	case inst.Stmia:
		return fmt.Sprintf("STMIA %s!, %s", reg(f.Rn), regList(f.RegList))
	case inst.Ldmia:
		return fmt.Sprintf("LDMIA %s!, %s", reg(f.Rn), regList(f.RegList))

	case inst.BCond:
		return fmt.Sprintf("B%s 0x%08x", condNames[f.Cond], addr+4+f.Imm*2)
	case inst.B:
		return fmt.Sprintf("B 0x%08x", addr+4+f.Imm*2)
	case inst.BL:
		return fmt.Sprintf("BL 0x%08x", addr+4+f.Imm*2)
	case inst.Svc:
		return fmt.Sprintf("SVC #%d", f.Imm)
	case inst.Bkpt:
		return fmt.Sprintf("BKPT #%d", f.Imm)
	case inst.Hint:
		if n, ok := hintNames[f.Imm]; ok {
			return n
		}
		return "HINT"
	}
	return fmt.Sprintf(".short 0x%04x", f.Opcode&0xffff)
}
