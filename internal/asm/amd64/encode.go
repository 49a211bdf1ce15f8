package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tinyrange/jitbridge/internal/asm"
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

func needsByteREX(id asm.Variable) bool {
	switch id {
	case RSP, RBP, RSI, RDI:
		return true
	}
	return id >= R8 && id <= R15
}

func operandPrefix(size operandSize) (byte, bool) {
	if size == size16 {
		return 0x66, true
	}
	return 0x00, false
}

func regEncoding(reg Reg) (registerCode, error) {
	switch reg.size {
	case size8, size16, size32, size64:
	default:
		return registerCode{}, fmt.Errorf("unsupported register width %d", reg.size)
	}
	return regInfo(reg.id)
}

type memEncoding struct {
	modrm byte
	sib   []byte
	disp  []byte
	rex   rexState
}

func encodeMemoryOperand(mem Memory) (memEncoding, error) {
	if err := mem.validate(); err != nil {
		return memEncoding{}, err
	}

	baseInfo, err := regEncoding(mem.base)
	if err != nil {
		return memEncoding{}, err
	}

	var indexInfo registerCode
	if mem.hasIndex {
		indexInfo, err = regEncoding(mem.index)
		if err != nil {
			return memEncoding{}, err
		}
		if mem.index.id == RSP {
			return memEncoding{}, fmt.Errorf("rsp cannot be used as index register")
		}
	}

	enc := memEncoding{
		rex: rexState{
			b: baseInfo.high,
			x: mem.hasIndex && indexInfo.high,
		},
	}

	rm := baseInfo.code

	switch disp := mem.disp; {
	case disp == 0 && rm != 5:
		enc.modrm = 0x00
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		enc.modrm = 0x40
		enc.disp = []byte{byte(disp)}
	default:
		enc.modrm = 0x80
		enc.disp = binary.LittleEndian.AppendUint32(nil, uint32(disp))
	}

	// rsp/r12 as base and any indexed form go through a SIB byte.
	if mem.hasIndex || rm == 4 {
		indexCode := byte(4)
		if mem.hasIndex {
			indexCode = indexInfo.code
		}

		var scaleBits byte
		switch mem.scale {
		case 1:
			scaleBits = 0
		case 2:
			scaleBits = 1
		case 4:
			scaleBits = 2
		case 8:
			scaleBits = 3
		default:
			return memEncoding{}, fmt.Errorf("invalid scale %d", mem.scale)
		}

		enc.sib = []byte{scaleBits<<6 | indexCode<<3 | baseInfo.code}
		rm = 4
	}

	enc.modrm |= rm
	return enc, nil
}

func assemble(prefix byte, hasPrefix bool, rex rexState, body ...[]byte) []byte {
	out := make([]byte, 0, 16)
	if hasPrefix {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	for _, part := range body {
		out = append(out, part...)
	}
	return out
}

func encodeMovRegImm(reg Reg, value int64) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}

	prefix, hasPrefix := operandPrefix(reg.size)
	rex := rexState{
		w:     reg.size == size64,
		b:     info.high,
		force: info.needsRex && reg.size == size8,
	}

	var opcode byte
	var imm []byte
	switch reg.size {
	case size64:
		opcode = 0xB8 + info.code
		imm = binary.LittleEndian.AppendUint64(nil, uint64(value))
	case size32:
		opcode = 0xB8 + info.code
		imm = binary.LittleEndian.AppendUint32(nil, uint32(value))
	case size16:
		opcode = 0xB8 + info.code
		imm = binary.LittleEndian.AppendUint16(nil, uint16(value))
	case size8:
		opcode = 0xB0 + info.code
		imm = []byte{byte(value)}
	}

	return assemble(prefix, hasPrefix, rex, []byte{opcode}, imm), nil
}

// encodeMovRegImm64 encodes movabs and reports where the immediate starts so
// callers can turn it into an absolute reference.
func encodeMovRegImm64(reg Reg, value uint64) ([]byte, int, error) {
	if reg.size != size64 {
		return nil, 0, fmt.Errorf("movabs requires a 64-bit register, got %s", reg)
	}
	out, err := encodeMovRegImm(reg, int64(value))
	if err != nil {
		return nil, 0, err
	}
	return out, len(out) - 8, nil
}

func encodeMovRegReg(dst, src Reg) ([]byte, error) {
	return encodeALURegReg(chooseOpcode(dst.size, 0x89, 0x88), dst, src)
}

func encodeCallReg(target Reg) ([]byte, error) {
	if target.size != size64 {
		return nil, fmt.Errorf("call target must be a 64-bit register, got %s", target)
	}

	info, err := regEncoding(target)
	if err != nil {
		return nil, err
	}

	rex := rexState{b: info.high}
	return assemble(0, false, rex, []byte{0xFF, 0xD0 | info.code}), nil
}

func encodeMemAccess(opcode byte, reg Reg, mem Memory) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}

	memEnc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}

	prefix, hasPrefix := operandPrefix(reg.size)
	rex := memEnc.rex
	rex.r = info.high
	rex.w = reg.size == size64
	rex.force = reg.size == size8 && needsByteREX(reg.id)

	if reg.size == size8 {
		opcode--
	}

	modrm := memEnc.modrm | (info.code << 3)
	return assemble(prefix, hasPrefix, rex, []byte{opcode, modrm}, memEnc.sib, memEnc.disp), nil
}

func encodeMovMemReg(mem Memory, src Reg) ([]byte, error) {
	return encodeMemAccess(0x89, src, mem)
}

func encodeMovRegMem(dst Reg, mem Memory) ([]byte, error) {
	return encodeMemAccess(0x8B, dst, mem)
}

// encodeLeaRIP encodes lea dst, [rip+0] and returns the position of the
// displacement within the encoding.
func encodeLeaRIP(dst Reg) ([]byte, int, error) {
	if dst.size != size64 {
		return nil, 0, fmt.Errorf("lea requires a 64-bit destination, got %s", dst)
	}
	info, err := regEncoding(dst)
	if err != nil {
		return nil, 0, err
	}
	rex := rexState{w: true, r: info.high}
	out := assemble(0, false, rex, []byte{0x8D, 0x05 | info.code<<3})
	return out, len(out), nil
}

func encodeALURegImm(op byte, reg Reg, value int32) ([]byte, error) {
	info, err := regEncoding(reg)
	if err != nil {
		return nil, err
	}

	prefix, hasPrefix := operandPrefix(reg.size)
	rex := rexState{
		w:     reg.size == size64,
		b:     info.high,
		force: info.needsRex && reg.size == size8,
	}

	var opcode byte
	var imm []byte
	switch {
	case reg.size == size8:
		if value < math.MinInt8 || value > math.MaxUint8 {
			return nil, fmt.Errorf("immediate %d does not fit %s", value, reg)
		}
		opcode = 0x80
		imm = []byte{byte(value)}
	case value >= math.MinInt8 && value <= math.MaxInt8:
		opcode = 0x83
		imm = []byte{byte(value)}
	case reg.size == size16:
		opcode = 0x81
		imm = binary.LittleEndian.AppendUint16(nil, uint16(value))
	default:
		opcode = 0x81
		imm = binary.LittleEndian.AppendUint32(nil, uint32(value))
	}

	modrm := byte(0xC0 | (op << 3) | info.code)
	return assemble(prefix, hasPrefix, rex, []byte{opcode, modrm}, imm), nil
}

func encodeALURegReg(opcode byte, dst, src Reg) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("mismatched register widths: %s vs %s", dst, src)
	}

	dstInfo, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	srcInfo, err := regEncoding(src)
	if err != nil {
		return nil, err
	}

	prefix, hasPrefix := operandPrefix(dst.size)
	rex := rexState{
		w:     dst.size == size64,
		r:     srcInfo.high,
		b:     dstInfo.high,
		force: dst.size == size8 && (needsByteREX(dst.id) || needsByteREX(src.id)),
	}

	modrm := byte(0xC0 | (srcInfo.code << 3) | dstInfo.code)
	return assemble(prefix, hasPrefix, rex, []byte{opcode, modrm}), nil
}

func chooseOpcode(size operandSize, wide, narrow byte) byte {
	if size == size8 {
		return narrow
	}
	return wide
}

func encodeImulRegImm(dst, src Reg, value int32) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("imul requires matching operand widths")
	}
	if dst.size == size8 {
		return nil, fmt.Errorf("imul unsupported width %d", dst.size*8)
	}

	dstInfo, err := regEncoding(dst)
	if err != nil {
		return nil, err
	}
	srcInfo, err := regEncoding(src)
	if err != nil {
		return nil, err
	}

	prefix, hasPrefix := operandPrefix(dst.size)
	rex := rexState{
		w: dst.size == size64,
		r: dstInfo.high,
		b: srcInfo.high,
	}

	var opcode byte
	var imm []byte
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		opcode = 0x6B
		imm = []byte{byte(value)}
	} else {
		opcode = 0x69
		imm = binary.LittleEndian.AppendUint32(nil, uint32(value))
	}

	modrm := byte(0xC0 | (dstInfo.code << 3) | srcInfo.code)
	return assemble(prefix, hasPrefix, rex, []byte{opcode, modrm}, imm), nil
}

func encodeAddRegImm(reg Reg, value int32) ([]byte, error) {
	return encodeALURegImm(0x00, reg, value)
}

func encodeAndRegImm(reg Reg, value int32) ([]byte, error) {
	return encodeALURegImm(0x04, reg, value)
}

func encodeSubRegImm(reg Reg, value int32) ([]byte, error) {
	return encodeALURegImm(0x05, reg, value)
}

func encodeCmpRegImm(reg Reg, value int32) ([]byte, error) {
	return encodeALURegImm(0x07, reg, value)
}

func encodeAddRegReg(dst, src Reg) ([]byte, error) {
	return encodeALURegReg(chooseOpcode(dst.size, 0x01, 0x00), dst, src)
}

func encodeSubRegReg(dst, src Reg) ([]byte, error) {
	return encodeALURegReg(chooseOpcode(dst.size, 0x29, 0x28), dst, src)
}

func encodeXorRegReg(dst, src Reg) ([]byte, error) {
	return encodeALURegReg(chooseOpcode(dst.size, 0x31, 0x30), dst, src)
}

func encodeCmpRegReg(dst, src Reg) ([]byte, error) {
	return encodeALURegReg(chooseOpcode(dst.size, 0x39, 0x38), dst, src)
}

type jumpKind int

const (
	jumpAlways jumpKind = iota
	jumpEqual
	jumpNotEqual
	jumpLess
	jumpGreater
)

func (k jumpKind) String() string {
	switch k {
	case jumpAlways:
		return "jmp"
	case jumpEqual:
		return "je"
	case jumpNotEqual:
		return "jne"
	case jumpLess:
		return "jl"
	case jumpGreater:
		return "jg"
	}
	return fmt.Sprintf("j?%d", int(k))
}

func jumpOpcode(kind jumpKind) ([]byte, error) {
	switch kind {
	case jumpAlways:
		return []byte{0xE9}, nil
	case jumpEqual:
		return []byte{0x0F, 0x84}, nil
	case jumpNotEqual:
		return []byte{0x0F, 0x85}, nil
	case jumpLess:
		return []byte{0x0F, 0x8C}, nil
	case jumpGreater:
		return []byte{0x0F, 0x8F}, nil
	default:
		return nil, fmt.Errorf("unsupported jump kind %d", kind)
	}
}

func encodeRet() []byte {
	return []byte{0xC3}
}
