/*
   CPU: instruction execution.

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

package cpu

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/rcornwell/cortex-m0/emu/inst"
	"github.com/rcornwell/cortex-m0/emu/nvic"
)

// execute interprets one decoded record against registers and the bus.
// The bool result reports whether PC was set explicitly; a non-nil error
// escalates to HardFault. Reads of R15 see the fetch pipeline value,
// PC of the instruction plus 4.
func (c *CPU) execute(f *inst.Fields) (bool, error) {
	r := c.Reg

	switch f.Type {
	case inst.LslImm:
		v := c.rdReg(f.Rm)
		res, carry := lslImm(v, f.ShiftAmount, r.C())
		_ = r.Write(f.Rd, res)
		r.NZ(res)
		r.SetC(carry)

	case inst.LsrImm:
		v := c.rdReg(f.Rm)
		res, carry := lsrImm(v, f.ShiftAmount)
		_ = r.Write(f.Rd, res)
		r.NZ(res)
		r.SetC(carry)

	case inst.AsrImm:
		v := c.rdReg(f.Rm)
		res, carry := asrImm(v, f.ShiftAmount)
		_ = r.Write(f.Rd, res)
		r.NZ(res)
		r.SetC(carry)

	case inst.AddReg:
		c.addFlags(f.Rd, c.rdReg(f.Rn), c.rdReg(f.Rm), false)
	case inst.AddImm3, inst.AddImm8:
		c.addFlags(f.Rd, c.rdReg(f.Rn), f.Imm, false)
	case inst.SubReg:
		c.addFlags(f.Rd, c.rdReg(f.Rn), ^c.rdReg(f.Rm), true)
	case inst.SubImm3, inst.SubImm8:
		c.addFlags(f.Rd, c.rdReg(f.Rn), ^f.Imm, true)

	case inst.MovImm:
		_ = r.Write(f.Rd, f.Imm)
		r.NZ(f.Imm)

	case inst.CmpImm:
		c.cmp(c.rdReg(f.Rn), f.Imm)

	case inst.And:
		c.logical(f.Rd, c.rdReg(f.Rd)&c.rdReg(f.Rm))
	case inst.Eor:
		c.logical(f.Rd, c.rdReg(f.Rd)^c.rdReg(f.Rm))
	case inst.Orr:
		c.logical(f.Rd, c.rdReg(f.Rd)|c.rdReg(f.Rm))
	case inst.Bic:
		c.logical(f.Rd, c.rdReg(f.Rd)&^c.rdReg(f.Rm))
	case inst.Mvn:
		c.logical(f.Rd, ^c.rdReg(f.Rm))
	case inst.Tst:
		res := c.rdReg(f.Rd) & c.rdReg(f.Rm)
		r.NZ(res)

	case inst.LslReg, inst.LsrReg, inst.AsrReg, inst.Ror:
		v := c.rdReg(f.Rd)
		amt := c.rdReg(f.Rm) & 0xff
		res, carry := shiftReg(f.Type, v, amt, r.C())
		_ = r.Write(f.Rd, res)
		r.NZ(res)
		r.SetC(carry)

	case inst.Adc:
		c.addFlags(f.Rd, c.rdReg(f.Rd), c.rdReg(f.Rm), r.C())
	case inst.Sbc:
		c.addFlags(f.Rd, c.rdReg(f.Rd), ^c.rdReg(f.Rm), r.C())
	case inst.Neg:
		c.addFlags(f.Rd, 0, ^c.rdReg(f.Rm), true)

	case inst.CmpReg, inst.CmpHi:
		c.cmp(c.rdReg(f.Rd), c.rdReg(f.Rm))
	case inst.Cmn:
		res, carry, overflow := addWithCarry(c.rdReg(f.Rd), c.rdReg(f.Rm), false)
		r.NZ(res)
		r.SetC(carry)
		r.SetV(overflow)

	case inst.Mul:
		// MUL leaves C and V alone on ARMv6-M.
		res := c.rdReg(f.Rd) * c.rdReg(f.Rm)
		_ = r.Write(f.Rd, res)
		r.NZ(res)

	case inst.AddHi:
		res := c.rdReg(f.Rd) + c.rdReg(f.Rm)
		if f.Rd == 15 {
			r.SetPC(res &^ 1)
			return true, nil
		}
		_ = r.Write(f.Rd, res)
	case inst.MovHi:
		res := c.rdReg(f.Rm)
		if f.Rd == 15 {
			r.SetPC(res &^ 1)
			return true, nil
		}
		_ = r.Write(f.Rd, res)

	case inst.Bx:
		target := c.rdReg(f.Rm)
		if isExcReturn(target) {
			return true, c.exceptionReturn(target)
		}
		if target&1 == 0 {
			// ARM state does not exist on this core.
			return true, fmt.Errorf("%w: BX to ARM state %08x", errFault, target)
		}
		r.SetPC(target &^ 1)
		return true, nil

	case inst.LdrPC:
		base := (r.PC() + 4) &^ 3
		return false, c.load(f, base+f.Imm)

	case inst.StrReg, inst.StrhReg, inst.StrbReg,
		inst.LdrReg, inst.LdrhReg, inst.LdrbReg,
		inst.LdrsbReg, inst.LdrshReg:
		addr := c.rdReg(f.Rn) + c.rdReg(f.Rm)
		if f.Load {
			return false, c.load(f, addr)
		}
		return false, c.store(f, addr)

	case inst.StrImm, inst.StrbImm, inst.StrhImm, inst.StrSP:
		return false, c.store(f, c.rdReg(f.Rn)+f.Imm)
	case inst.LdrImm, inst.LdrbImm, inst.LdrhImm, inst.LdrSP:
		return false, c.load(f, c.rdReg(f.Rn)+f.Imm)

	case inst.AddPC:
		_ = r.Write(f.Rd, ((r.PC()+4)&^3)+f.Imm)
	case inst.AddSP:
		_ = r.Write(f.Rd, r.SP()+f.Imm)
	case inst.AddSPImm7:
		r.SetSP(r.SP() + f.Imm)
	case inst.SubSPImm7:
		r.SetSP(r.SP() - f.Imm)

	case inst.Sxth:
		_ = r.Write(f.Rd, uint32(int32(int16(c.rdReg(f.Rm)))))
	case inst.Sxtb:
		_ = r.Write(f.Rd, uint32(int32(int8(c.rdReg(f.Rm)))))
	case inst.Uxth:
		_ = r.Write(f.Rd, c.rdReg(f.Rm)&0xffff)
	case inst.Uxtb:
		_ = r.Write(f.Rd, c.rdReg(f.Rm)&0xff)
	case inst.Rev:
		_ = r.Write(f.Rd, bits.ReverseBytes32(c.rdReg(f.Rm)))
	case inst.Rev16:
		v := c.rdReg(f.Rm)
		_ = r.Write(f.Rd, v>>8&0x00ff00ff|v<<8&0xff00ff00)
	case inst.Revsh:
		v := c.rdReg(f.Rm)
		_ = r.Write(f.Rd, uint32(int32(int16(v<<8|v>>8&0xff))))

	case inst.Cps:
		r.SetPrimask(f.AluOp != 0)

	case inst.Push:
		return false, c.push(f.RegList)
	case inst.Pop:
		return c.pop(f.RegList)
	case inst.Stmia:
		return false, c.stmia(f.Rn, f.RegList)
	case inst.Ldmia:
		return false, c.ldmia(f.Rn, f.RegList)

	case inst.BCond:
		if !c.condPassed(f.Cond) {
			return false, nil
		}
		r.SetPC(r.PC() + 4 + f.Imm*2)
		return true, nil

	case inst.B:
		r.SetPC(r.PC() + 4 + f.Imm*2)
		return true, nil

	case inst.BL:
		pc := r.PC()
		r.SetLR((pc + 4) | 1)
		r.SetPC(pc + 4 + f.Imm*2)
		return true, nil

	case inst.Svc:
		// Taken by the exception check before the next fetch.
		c.Nvic.SetPending(nvic.SVCall)

	case inst.Bkpt:
		if c.onBreak != nil {
			c.halted = true
			c.onBreak(r.PC())
			return true, nil // PC stays on the BKPT
		}
		return false, fmt.Errorf("%w: BKPT with no debugger", errFault)

	case inst.Hint:
		if f.Imm == inst.HintWfi {
			c.sleep = true
		}
		// NOP, YIELD, SEV and WFE retire with no effect.

	default:
		return false, fmt.Errorf("%w: undefined opcode %04x", errFault, f.Opcode)
	}
	return false, nil
}

// rdReg reads a register as an operand; R15 reads as PC+4.
func (c *CPU) rdReg(reg uint8) uint32 {
	if reg == 15 {
		return c.Reg.PC() + 4
	}
	v, _ := c.Reg.Read(reg)
	return v
}

// addFlags performs rd = a + b + carry and sets all four flags.
// Subtraction callers pass the complemented operand with carry set.
func (c *CPU) addFlags(rd uint8, a, b uint32, carry bool) {
	res, cOut, vOut := addWithCarry(a, b, carry)
	_ = c.Reg.Write(rd, res)
	c.Reg.NZ(res)
	c.Reg.SetC(cOut)
	c.Reg.SetV(vOut)
}

// cmp sets flags for a - b without a destination.
func (c *CPU) cmp(a, b uint32) {
	res, cOut, vOut := addWithCarry(a, ^b, true)
	c.Reg.NZ(res)
	c.Reg.SetC(cOut)
	c.Reg.SetV(vOut)
}

// logical writes a bitwise result and updates N and Z; C and V are
// untouched by the register-form logical operations.
func (c *CPU) logical(rd uint8, res uint32) {
	_ = c.Reg.Write(rd, res)
	c.Reg.NZ(res)
}

// addWithCarry is the ARM pseudocode AddWithCarry: carry out is the
// unsigned overflow, overflow the signed one.
func addWithCarry(a, b uint32, carry bool) (uint32, bool, bool) {
	var cin uint64
	if carry {
		cin = 1
	}
	sum := uint64(a) + uint64(b) + cin
	res := uint32(sum)
	cOut := sum > 0xffffffff
	vOut := (^(a^b)&(a^res))&0x80000000 != 0
	return res, cOut, vOut
}

// lslImm shifts left by an immediate; amount 0 is a plain move and
// leaves carry alone.
func lslImm(v uint32, amount uint8, carry bool) (uint32, bool) {
	if amount == 0 {
		return v, carry
	}
	return v << amount, v&(1<<(32-uint32(amount))) != 0
}

// lsrImm: the zero encoding means shift by 32.
func lsrImm(v uint32, amount uint8) (uint32, bool) {
	if amount == 0 {
		return 0, v&0x80000000 != 0
	}
	return v >> amount, v&(1<<(uint32(amount)-1)) != 0
}

// asrImm: the zero encoding means shift by 32.
func asrImm(v uint32, amount uint8) (uint32, bool) {
	if amount == 0 {
		if v&0x80000000 != 0 {
			return 0xffffffff, true
		}
		return 0, false
	}
	return uint32(int32(v) >> amount), v&(1<<(uint32(amount)-1)) != 0
}

// shiftReg implements the register-amount shifts. Amount 0 leaves both
// the value and carry alone; carry is the last bit shifted out.
func shiftReg(ty inst.Type, v, amount uint32, carry bool) (uint32, bool) {
	if amount == 0 {
		return v, carry
	}
	switch ty {
	case inst.LslReg:
		switch {
		case amount < 32:
			return v << amount, v&(1<<(32-amount)) != 0
		case amount == 32:
			return 0, v&1 != 0
		}
		return 0, false
	case inst.LsrReg:
		switch {
		case amount < 32:
			return v >> amount, v&(1<<(amount-1)) != 0
		case amount == 32:
			return 0, v&0x80000000 != 0
		}
		return 0, false
	case inst.AsrReg:
		if amount >= 32 {
			if v&0x80000000 != 0 {
				return 0xffffffff, true
			}
			return 0, false
		}
		return uint32(int32(v) >> amount), v&(1<<(amount-1)) != 0
	default: // Ror
		rot := amount & 31
		if rot == 0 {
			return v, v&0x80000000 != 0
		}
		res := bits.RotateLeft32(v, -int(rot))
		return res, res&0x80000000 != 0
	}
}

// condPassed evaluates a branch condition against the flags.
func (c *CPU) condPassed(cond uint8) bool {
	r := c.Reg
	var v bool
	switch cond >> 1 {
	case 0: // EQ / NE
		v = r.Z()
	case 1: // CS / CC
		v = r.C()
	case 2: // MI / PL
		v = r.N()
	case 3: // VS / VC
		v = r.V()
	case 4: // HI / LS
		v = r.C() && !r.Z()
	case 5: // GE / LT
		v = r.N() == r.V()
	case 6: // GT / LE
		v = !r.Z() && r.N() == r.V()
	default: // AL
		return true
	}
	if cond&1 != 0 {
		return !v
	}
	return v
}

// load performs a bus load into Rd with alignment checks and optional
// sign extension.
func (c *CPU) load(f *inst.Fields, addr uint32) error {
	var size int
	switch f.Width {
	case inst.Word:
		if addr&3 != 0 {
			return fmt.Errorf("%w: unaligned word load %08x", errFault, addr)
		}
		size = 4
	case inst.Half:
		if addr&1 != 0 {
			return fmt.Errorf("%w: unaligned halfword load %08x", errFault, addr)
		}
		size = 2
	default:
		size = 1
	}
	b, err := c.Bus.Read(addr, size)
	if err != nil {
		return fmt.Errorf("%w: %v", errFault, err)
	}
	var v uint32
	switch size {
	case 4:
		v = binary.LittleEndian.Uint32(b)
	case 2:
		v = uint32(binary.LittleEndian.Uint16(b))
		if f.Type == inst.LdrshReg {
			v = uint32(int32(int16(v)))
		}
	default:
		v = uint32(b[0])
		if f.Type == inst.LdrsbReg {
			v = uint32(int32(int8(v)))
		}
	}
	return c.Reg.Write(f.Rd, v)
}

// store performs a bus store of Rd with alignment checks.
func (c *CPU) store(f *inst.Fields, addr uint32) error {
	v := c.rdReg(f.Rd)
	var b [4]byte
	var data []byte
	switch f.Width {
	case inst.Word:
		if addr&3 != 0 {
			return fmt.Errorf("%w: unaligned word store %08x", errFault, addr)
		}
		binary.LittleEndian.PutUint32(b[:], v)
		data = b[:4]
	case inst.Half:
		if addr&1 != 0 {
			return fmt.Errorf("%w: unaligned halfword store %08x", errFault, addr)
		}
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		data = b[:2]
	default:
		b[0] = byte(v)
		data = b[:1]
	}
	if err := c.Bus.Write(addr, data); err != nil {
		return fmt.Errorf("%w: %v", errFault, err)
	}
	return nil
}

// push stores the register list below the selected SP, lowest numbered
// register at the lowest address.
func (c *CPU) push(list uint16) error {
	count := uint32(bits.OnesCount16(list))
	if count == 0 {
		return nil
	}
	sp := c.Reg.SP() - 4*count
	addr := sp
	for reg := uint8(0); reg < 16; reg++ {
		if list&(1<<reg) == 0 {
			continue
		}
		if err := c.writeWord(addr, c.mustRead(reg)); err != nil {
			return fmt.Errorf("%w: push at %08x", errFault, addr)
		}
		addr += 4
	}
	c.Reg.SetSP(sp)
	return nil
}

// pop loads the register list upward from SP. Popping PC branches; an
// EXC_RETURN value performs exception return instead.
func (c *CPU) pop(list uint16) (bool, error) {
	count := uint32(bits.OnesCount16(list))
	if count == 0 {
		return false, nil
	}
	addr := c.Reg.SP()
	var newPC uint32
	loadPC := false
	for reg := uint8(0); reg < 16; reg++ {
		if list&(1<<reg) == 0 {
			continue
		}
		v, err := c.readWord(addr)
		if err != nil {
			return false, fmt.Errorf("%w: pop at %08x", errFault, addr)
		}
		addr += 4
		if reg == 15 {
			newPC = v
			loadPC = true
			continue
		}
		_ = c.Reg.Write(reg, v)
	}
	c.Reg.SetSP(addr)
	if !loadPC {
		return false, nil
	}
	if isExcReturn(newPC) {
		return true, c.exceptionReturn(newPC)
	}
	c.Reg.SetPC(newPC &^ 1)
	return true, nil
}

// stmia stores ascending registers with base writeback.
func (c *CPU) stmia(rn uint8, list uint16) error {
	addr := c.rdReg(rn)
	for reg := uint8(0); reg < 8; reg++ {
		if list&(1<<reg) == 0 {
			continue
		}
		if err := c.writeWord(addr, c.mustRead(reg)); err != nil {
			return fmt.Errorf("%w: stmia at %08x", errFault, addr)
		}
		addr += 4
	}
	return c.Reg.Write(rn, addr)
}

// ldmia loads ascending registers; writeback is suppressed when the
// base register is in the list.
func (c *CPU) ldmia(rn uint8, list uint16) error {
	addr := c.rdReg(rn)
	for reg := uint8(0); reg < 8; reg++ {
		if list&(1<<reg) == 0 {
			continue
		}
		v, err := c.readWord(addr)
		if err != nil {
			return fmt.Errorf("%w: ldmia at %08x", errFault, addr)
		}
		_ = c.Reg.Write(reg, v)
		addr += 4
	}
	if list&(1<<rn) == 0 {
		return c.Reg.Write(rn, addr)
	}
	return nil
}

func (c *CPU) mustRead(reg uint8) uint32 {
	v, _ := c.Reg.Read(reg)
	return v
}
