package amd64

import (
	"fmt"
	"strings"

	"github.com/tinyrange/jitbridge/internal/asm"
)

// instruction is a single encodable operation. It prints in Intel operand
// order so encode failures can name the offending instruction.
type instruction struct {
	mnemonic string
	operands []any
	emit     func(ctx *Context) error
}

var (
	_ asm.Fragment = (*instruction)(nil)
	_ fmt.Stringer = (*instruction)(nil)
)

func (i *instruction) Emit(_ctx asm.Context) error {
	ctx, ok := _ctx.(*Context)
	if !ok {
		return fmt.Errorf("amd64 %s: unsupported context %T", i.mnemonic, _ctx)
	}
	return i.emit(ctx)
}

func (i *instruction) String() string {
	if len(i.operands) == 0 {
		return i.mnemonic
	}
	parts := make([]string, len(i.operands))
	for idx, op := range i.operands {
		switch v := op.(type) {
		case asm.Label:
			parts[idx] = "<" + string(v) + ">"
		case int64:
			parts[idx] = fmt.Sprintf("%#x", v)
		case int32:
			parts[idx] = fmt.Sprintf("%#x", v)
		default:
			parts[idx] = fmt.Sprint(v)
		}
	}
	return i.mnemonic + " " + strings.Join(parts, ", ")
}

// encoded wraps a pure encoder into an instruction fragment.
func encoded(mnemonic string, encode func() ([]byte, error), operands ...any) asm.Fragment {
	return &instruction{
		mnemonic: mnemonic,
		operands: operands,
		emit: func(ctx *Context) error {
			bytes, err := encode()
			if err != nil {
				return err
			}
			ctx.EmitBytes(bytes)
			return nil
		},
	}
}

func MovImmediate(dst Reg, value int64) asm.Fragment {
	return encoded("mov", func() ([]byte, error) {
		return encodeMovRegImm(dst, value)
	}, dst, value)
}

func MovReg(dst, src Reg) asm.Fragment {
	return encoded("mov", func() ([]byte, error) {
		return encodeMovRegReg(dst, src)
	}, dst, src)
}

func MovToMemory(mem Memory, src Reg) asm.Fragment {
	return encoded("mov", func() ([]byte, error) {
		return encodeMovMemReg(mem, src)
	}, mem, src)
}

func MovFromMemory(dst Reg, mem Memory) asm.Fragment {
	return encoded("mov", func() ([]byte, error) {
		return encodeMovRegMem(dst, mem)
	}, dst, mem)
}

func CallReg(target Reg) asm.Fragment {
	return encoded("call", func() ([]byte, error) {
		return encodeCallReg(target)
	}, target)
}

func AddRegImm(reg Reg, value int32) asm.Fragment {
	return encoded("add", func() ([]byte, error) {
		return encodeAddRegImm(reg, value)
	}, reg, value)
}

func SubRegImm(reg Reg, value int32) asm.Fragment {
	return encoded("sub", func() ([]byte, error) {
		return encodeSubRegImm(reg, value)
	}, reg, value)
}

func AndRegImm(reg Reg, value int32) asm.Fragment {
	return encoded("and", func() ([]byte, error) {
		return encodeAndRegImm(reg, value)
	}, reg, value)
}

func CmpRegImm(reg Reg, value int32) asm.Fragment {
	return encoded("cmp", func() ([]byte, error) {
		return encodeCmpRegImm(reg, value)
	}, reg, value)
}

func AddRegReg(dst, src Reg) asm.Fragment {
	return encoded("add", func() ([]byte, error) {
		return encodeAddRegReg(dst, src)
	}, dst, src)
}

func SubRegReg(dst, src Reg) asm.Fragment {
	return encoded("sub", func() ([]byte, error) {
		return encodeSubRegReg(dst, src)
	}, dst, src)
}

func XorRegReg(dst, src Reg) asm.Fragment {
	return encoded("xor", func() ([]byte, error) {
		return encodeXorRegReg(dst, src)
	}, dst, src)
}

func CmpRegReg(dst, src Reg) asm.Fragment {
	return encoded("cmp", func() ([]byte, error) {
		return encodeCmpRegReg(dst, src)
	}, dst, src)
}

func ImulRegImm(dst, src Reg, value int32) asm.Fragment {
	return encoded("imul", func() ([]byte, error) {
		return encodeImulRegImm(dst, src, value)
	}, dst, src, value)
}

func Ret() asm.Fragment {
	return encoded("ret", func() ([]byte, error) {
		return encodeRet(), nil
	})
}

func jumpTo(kind jumpKind, label asm.Label) asm.Fragment {
	return &instruction{
		mnemonic: kind.String(),
		operands: []any{label},
		emit: func(ctx *Context) error {
			opcode, err := jumpOpcode(kind)
			if err != nil {
				return err
			}
			return ctx.referenceRel32(opcode, label)
		},
	}
}

func Jump(label asm.Label) asm.Fragment { return jumpTo(jumpAlways, label) }

func JumpIfEqual(label asm.Label) asm.Fragment { return jumpTo(jumpEqual, label) }

func JumpIfNotEqual(label asm.Label) asm.Fragment { return jumpTo(jumpNotEqual, label) }

func JumpIfLess(label asm.Label) asm.Fragment { return jumpTo(jumpLess, label) }

func JumpIfGreater(label asm.Label) asm.Fragment { return jumpTo(jumpGreater, label) }

// Call emits a near call to a label in the same program.
func Call(label asm.Label) asm.Fragment {
	return &instruction{
		mnemonic: "call",
		operands: []any{label},
		emit: func(ctx *Context) error {
			return ctx.referenceRel32([]byte{0xE8}, label)
		},
	}
}

// LeaLabel loads the address of label into dst using a rip-relative
// displacement, so the result needs no relocation at load time.
func LeaLabel(dst Reg, label asm.Label) asm.Fragment {
	return &instruction{
		mnemonic: "lea",
		operands: []any{dst, label},
		emit: func(ctx *Context) error {
			prefix, _, err := encodeLeaRIP(dst)
			if err != nil {
				return err
			}
			return ctx.referenceRel32(prefix, label)
		},
	}
}

// MovLabelAddress loads the absolute address of label into dst. The
// immediate is recorded as a relocation and rebased when the program is
// mapped.
func MovLabelAddress(dst Reg, label asm.Label) asm.Fragment {
	return &instruction{
		mnemonic: "movabs",
		operands: []any{dst, label},
		emit: func(ctx *Context) error {
			bytes, immIdx, err := encodeMovRegImm64(dst, 0)
			if err != nil {
				return err
			}
			pos := ctx.Offset() + immIdx
			ctx.EmitBytes(bytes)
			ctx.referenceAbs64(pos, label)
			return nil
		},
	}
}
