/*
   CM0: Thumb instruction decoder.

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

// Package inst decodes ARMv6-M Thumb encodings into a tagged instruction
// record. The decoder is pure: it holds no state and touches no bus. The
// only 32-bit encoding on this architecture is BL.
package inst

// Type tags a decoded instruction. One tag per architectural operation so
// the execute switch stays exhaustive.
type Type int

const (
	Unknown Type = iota
	Undefined

	// Shift (immediate).
	LslImm
	LsrImm
	AsrImm

	// Add/subtract register or 3-bit immediate.
	AddReg
	SubReg
	AddImm3
	SubImm3

	// Move/compare/add/subtract 8-bit immediate.
	MovImm
	CmpImm
	AddImm8
	SubImm8

	// Data processing register.
	And
	Eor
	LslReg
	LsrReg
	AsrReg
	Adc
	Sbc
	Ror
	Tst
	Neg
	CmpReg
	Cmn
	Orr
	Mul
	Bic
	Mvn

	// Hi register operations and branch exchange.
	AddHi
	CmpHi
	MovHi
	Bx

	// PC relative load.
	LdrPC

	// Load/store register offset.
	StrReg
	StrhReg
	StrbReg
	LdrsbReg
	LdrReg
	LdrhReg
	LdrbReg
	LdrshReg

	// Load/store immediate offset.
	StrImm
	LdrImm
	StrbImm
	LdrbImm
	StrhImm
	LdrhImm

	// SP relative load/store.
	StrSP
	LdrSP

	// Address generation.
	AddPC
	AddSP

	// SP adjust.
	AddSPImm7
	SubSPImm7

	// Sign/zero extend and byte reverse.
	Sxth
	Sxtb
	Uxth
	Uxtb
	Rev
	Rev16
	Revsh

	// Interrupt mask change.
	Cps

	// Push/pop and multiple transfer.
	Push
	Pop
	Stmia
	Ldmia

	// Branches and system.
	BCond
	Svc
	B
	Bkpt
	Hint
	BL
)

// NoReg marks an unused register field.
const NoReg uint8 = 0xff

// Width values for load/store records.
const (
	Word uint8 = 0
	Byte uint8 = 1
	Half uint8 = 2
)

// Hint immediates (bits [7:4] of the HINT encoding).
const (
	HintNop   = 0
	HintYield = 1
	HintWfe   = 2
	HintWfi   = 3
	HintSev   = 4
)

// Fields is the decoded instruction record. It is built by Decode16 or
// Decode32, consumed by the execute engine in the same step, and dropped.
// Branch immediates are stored in halfwords; load/store immediates are
// already scaled to bytes.
type Fields struct {
	Type        Type
	Opcode      uint32 // Raw bits, kept for logging
	Rd          uint8
	Rn          uint8
	Rm          uint8
	Rs          uint8
	Imm         uint32
	Cond        uint8
	SBit        bool
	ShiftType   uint8
	ShiftAmount uint8
	AluOp       uint8
	RegList     uint16
	Load        bool
	Width       uint8
	Is32        bool
}

// Is32Prefix reports whether halfword h is the first half of a 32-bit
// encoding. On ARMv6-M that is the BL prefix pattern alone.
func Is32Prefix(h uint16) bool {
	return h&0xf800 == 0xf000
}

func blank(opcode uint32) Fields {
	return Fields{
		Opcode: opcode,
		Rd:     NoReg,
		Rn:     NoReg,
		Rm:     NoReg,
		Rs:     NoReg,
		Cond:   0xe,
	}
}

var aluTable = [16]Type{
	And, Eor, LslReg, LsrReg, AsrReg, Adc, Sbc, Ror,
	Tst, Neg, CmpReg, Cmn, Orr, Mul, Bic, Mvn,
}

var loadStoreRegTable = [8]Type{
	StrReg, StrhReg, StrbReg, LdrsbReg, LdrReg, LdrhReg, LdrbReg, LdrshReg,
}

// Decode16 decodes one 16-bit Thumb halfword. Format dispatch follows
// bits [15:10]; the miscellaneous 1011 block is resolved on bits [11:8].
func Decode16(op uint16) Fields {
	f := blank(uint32(op))
	format := (op >> 10) & 0x3f

	switch {
	// Shift by immediate: 000xxx, excluding the 00011x add/subtract hole.
	case format&0x38 == 0x00 && format&0x06 != 0x06:
		f.Rd = uint8(op & 7)
		f.Rm = uint8((op >> 3) & 7)
		f.ShiftAmount = uint8((op >> 6) & 0x1f)
		f.ShiftType = uint8((op >> 11) & 3)
		f.SBit = true
		switch f.ShiftType {
		case 0:
			f.Type = LslImm
		case 1:
			f.Type = LsrImm
		default:
			f.Type = AsrImm
		}

	// Add/subtract three registers or 3-bit immediate: 00011x.
	case format&0x3e == 0x06:
		f.Rd = uint8(op & 7)
		f.Rn = uint8((op >> 3) & 7)
		f.SBit = true
		imm := op&0x0400 != 0
		sub := op&0x0200 != 0
		if imm {
			f.Imm = uint32((op >> 6) & 7)
		} else {
			f.Rm = uint8((op >> 6) & 7)
		}
		switch {
		case sub && imm:
			f.Type = SubImm3
		case sub:
			f.Type = SubReg
		case imm:
			f.Type = AddImm3
		default:
			f.Type = AddReg
		}

	// Move/compare/add/subtract 8-bit immediate: 001xxx.
	case format&0x38 == 0x08:
		f.Rd = uint8((op >> 8) & 7)
		f.Rn = f.Rd
		f.Imm = uint32(op & 0xff)
		f.AluOp = uint8((op >> 11) & 3)
		f.SBit = true
		switch f.AluOp {
		case 0:
			f.Type = MovImm
		case 1:
			f.Type = CmpImm
		case 2:
			f.Type = AddImm8
		default:
			f.Type = SubImm8
		}

	// Data processing register: 010000.
	case format == 0x10:
		f.Rd = uint8(op & 7)
		f.Rn = f.Rd
		f.Rm = uint8((op >> 3) & 7)
		f.AluOp = uint8((op >> 6) & 0xf)
		f.SBit = true
		f.Type = aluTable[f.AluOp]

	// Hi register operations and BX: 010001.
	case format == 0x11:
		f.Rd = uint8(op & 7)
		f.Rm = uint8((op >> 3) & 7)
		if op&0x0080 != 0 {
			f.Rd += 8
		}
		if op&0x0040 != 0 {
			f.Rm += 8
		}
		f.AluOp = uint8((op >> 8) & 3)
		switch f.AluOp {
		case 0:
			f.Type = AddHi
		case 1:
			f.Type = CmpHi
		case 2:
			f.Type = MovHi
		default:
			// BLX register does not exist on M0; H1 set is undefined.
			if op&0x0080 != 0 {
				f.Type = Undefined
			} else {
				f.Type = Bx
			}
		}

	// PC relative load: 01001x.
	case format&0x3e == 0x12:
		f.Rd = uint8((op >> 8) & 7)
		f.Rn = 15
		f.Imm = uint32(op&0xff) * 4
		f.Load = true
		f.Width = Word
		f.Type = LdrPC

	// Load/store register offset: 0101xx.
	case format&0x3c == 0x14:
		f.Rd = uint8(op & 7)
		f.Rn = uint8((op >> 3) & 7)
		f.Rm = uint8((op >> 6) & 7)
		sub := (op >> 9) & 7
		f.Type = loadStoreRegTable[sub]
		switch f.Type {
		case StrReg, LdrReg:
			f.Width = Word
		case StrbReg, LdrbReg, LdrsbReg:
			f.Width = Byte
		default:
			f.Width = Half
		}
		f.Load = sub >= 3 // LDRSB and everything above it loads

	// Load/store word or byte, immediate offset: 011xxx.
	case format&0x38 == 0x18:
		f.Rd = uint8(op & 7)
		f.Rn = uint8((op >> 3) & 7)
		f.Imm = uint32((op >> 6) & 0x1f)
		f.Load = op&0x0800 != 0
		if op&0x1000 != 0 {
			f.Width = Byte
		} else {
			f.Width = Word
			f.Imm *= 4
		}
		switch {
		case f.Width == Word && !f.Load:
			f.Type = StrImm
		case f.Width == Word:
			f.Type = LdrImm
		case !f.Load:
			f.Type = StrbImm
		default:
			f.Type = LdrbImm
		}

	// Load/store halfword, immediate offset: 1000xx.
	case format&0x3c == 0x20:
		f.Rd = uint8(op & 7)
		f.Rn = uint8((op >> 3) & 7)
		f.Imm = uint32((op>>6)&0x1f) * 2
		f.Load = op&0x0800 != 0
		f.Width = Half
		if f.Load {
			f.Type = LdrhImm
		} else {
			f.Type = StrhImm
		}

	// SP relative load/store: 1001xx.
	case format&0x3c == 0x24:
		f.Rd = uint8((op >> 8) & 7)
		f.Rn = 13
		f.Imm = uint32(op&0xff) * 4
		f.Load = op&0x0800 != 0
		f.Width = Word
		if f.Load {
			f.Type = LdrSP
		} else {
			f.Type = StrSP
		}

	// ADD Rd, PC/SP, #imm8*4: 1010xx.
	case format&0x3c == 0x28:
		f.Rd = uint8((op >> 8) & 7)
		f.Imm = uint32(op&0xff) * 4
		if op&0x0800 != 0 {
			f.Rn = 13
			f.Type = AddSP
		} else {
			f.Rn = 15
			f.Type = AddPC
		}

	// Miscellaneous: 1011xx.
	case format&0x3c == 0x2c:
		decodeMisc(op, &f)

	// Multiple load/store: 1100xx.
	case format&0x3c == 0x30:
		f.Rn = uint8((op >> 8) & 7)
		f.RegList = op & 0xff
		f.Load = op&0x0800 != 0
		if f.Load {
			f.Type = Ldmia
		} else {
			f.Type = Stmia
		}

	// Conditional branch and SVC: 1101xx.
	case format&0x3c == 0x34:
		f.Cond = uint8((op >> 8) & 0xf)
		switch f.Cond {
		case 0xf:
			f.Type = Svc
			f.Cond = 0xe
			f.Imm = uint32(op & 0xff)
		case 0xe:
			f.Type = Undefined
		default:
			f.Type = BCond
			// Offset in halfwords, sign extended from 8 bits.
			f.Imm = uint32(int32(int8(uint8(op))))
		}

	// Unconditional branch: 11100x.
	case format&0x3e == 0x38:
		f.Type = B
		// Offset in halfwords, sign extended from 11 bits.
		f.Imm = uint32(int32(op&0x7ff) << 21 >> 21)

	// 32-bit prefix: decoded for real once the second halfword arrives.
	case format&0x3c == 0x3c:
		f.Type = BL
		f.Is32 = true

	default:
		f.Type = Unknown
	}
	return f
}

// decodeMisc resolves the 1011 block: SP adjust, extend, CPS, reverse,
// push/pop, BKPT and hints.
func decodeMisc(op uint16, f *Fields) {
	switch {
	// ADD/SUB SP, #imm7*4: 10110000 xxxxxxxx.
	case op&0xff00 == 0xb000:
		f.Rd = 13
		f.Rn = 13
		f.Imm = uint32(op&0x7f) * 4
		if op&0x80 != 0 {
			f.Type = SubSPImm7
		} else {
			f.Type = AddSPImm7
		}

	// SXTH/SXTB/UXTH/UXTB: 10110010 xxxxxxxx.
	case op&0xff00 == 0xb200:
		f.Rd = uint8(op & 7)
		f.Rm = uint8((op >> 3) & 7)
		switch (op >> 6) & 3 {
		case 0:
			f.Type = Sxth
		case 1:
			f.Type = Sxtb
		case 2:
			f.Type = Uxth
		default:
			f.Type = Uxtb
		}

	// CPSIE/CPSID: 10110110 011x0010.
	case op&0xffe8 == 0xb660:
		f.Type = Cps
		f.Imm = uint32(op & 7) // PRIMASK bit in [0]
		if op&0x0010 != 0 {
			f.AluOp = 1 // Disable (CPSID)
		}

	// REV/REV16/REVSH: 10111010 xxxxxxxx.
	case op&0xff00 == 0xba00:
		f.Rd = uint8(op & 7)
		f.Rm = uint8((op >> 3) & 7)
		switch (op >> 6) & 3 {
		case 0:
			f.Type = Rev
		case 1:
			f.Type = Rev16
		case 3:
			f.Type = Revsh
		default:
			f.Type = Undefined
		}

	// PUSH/POP: 1011x10x xxxxxxxx.
	case op&0xf600 == 0xb400:
		f.Rn = 13
		f.RegList = op & 0xff
		f.Load = op&0x0800 != 0
		if op&0x0100 != 0 {
			if f.Load {
				f.RegList |= 1 << 15 // PC joins POP
			} else {
				f.RegList |= 1 << 14 // LR joins PUSH
			}
		}
		if f.Load {
			f.Type = Pop
		} else {
			f.Type = Push
		}

	// BKPT: 10111110 xxxxxxxx.
	case op&0xff00 == 0xbe00:
		f.Type = Bkpt
		f.Imm = uint32(op & 0xff)

	// Hints: 10111111 xxxx0000. Non-zero low nibbles would be IT on
	// ARMv7-M and are undefined here.
	case op&0xff00 == 0xbf00:
		if op&0x000f != 0 {
			f.Type = Undefined
		} else {
			f.Type = Hint
			f.Imm = uint32((op >> 4) & 0xf)
		}

	default:
		f.Type = Unknown
	}
}

// Decode32 decodes the 32-bit encoding h1:h2. ARMv6-M has exactly one:
// BL, recognized by (h1 & F800) == F000 and (h2 & D000) == D000. The
// 25-bit byte offset S:I1:I2:imm10:imm11:0 is stored halved, like every
// other branch offset.
func Decode32(h1, h2 uint16) Fields {
	f := blank(uint32(h1)<<16 | uint32(h2))
	f.Is32 = true

	if h1&0xf800 != 0xf000 || h2&0xd000 != 0xd000 {
		f.Type = Undefined
		return f
	}

	s := uint32(h1>>10) & 1
	imm10 := uint32(h1) & 0x3ff
	j1 := uint32(h2>>13) & 1
	j2 := uint32(h2>>11) & 1
	imm11 := uint32(h2) & 0x7ff

	i1 := ^(j1 ^ s) & 1
	i2 := ^(j2 ^ s) & 1

	imm25 := s<<24 | i1<<23 | i2<<22 | imm10<<12 | imm11<<1
	off := int32(imm25<<7) >> 7 // Sign extend 25 bits

	f.Type = BL
	f.Imm = uint32(off >> 1)
	return f
}
