package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrRelocationRange is returned when a relocation slot does not fit in the
// code.
var ErrRelocationRange = errors.New("relocation out of range")

// Variable names a machine register. Architecture packages define the
// concrete numbering.
type Variable int

// Context is the sink a Fragment encodes itself into. Architecture packages
// provide the concrete implementation; fragments that need more than raw
// bytes type-assert to it.
type Context interface {
	EmitBytes(data []byte)
	Offset() int

	GetLabel(label Label) (int, bool)
	SetLabel(label Label)
}

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if l.label == "" {
		return fmt.Errorf("empty label name")
	}
	if _, exists := ctx.GetLabel(l.label); exists {
		return fmt.Errorf("label %q already defined", l.label)
	}
	ctx.SetLabel(l.label)
	return nil
}

func (l *labelDef) String() string {
	return string(l.label) + ":"
}

type rawData struct {
	data     []byte
	zeroTerm bool
}

// Data appends opaque bytes without interpretation.
func Data(data []byte) Fragment {
	return &rawData{data: append([]byte(nil), data...)}
}

// CString appends s followed by a terminating NUL.
func CString(s string) Fragment {
	return &rawData{data: []byte(s), zeroTerm: true}
}

func (d *rawData) Emit(ctx Context) error {
	ctx.EmitBytes(d.data)
	if d.zeroTerm {
		ctx.EmitBytes([]byte{0})
	}
	return nil
}

func (d *rawData) String() string {
	if d.zeroTerm {
		return fmt.Sprintf(".asciz %q", d.data)
	}
	return fmt.Sprintf(".bytes %d", len(d.data))
}

// Program is a fully label-resolved code image. Each relocation is the
// offset of an 8-byte little-endian slot holding an image-relative address
// that must be rebased once the image has a load address.
type Program struct {
	code        []byte
	relocations []int
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int {
	return len(p.code)
}

func (p Program) Relocations() []int {
	return append([]int(nil), p.relocations...)
}

// RelocatedCopy returns the code as it must appear when loaded at base.
func (p Program) RelocatedCopy(base uintptr) ([]byte, error) {
	out := append([]byte(nil), p.code...)
	for _, off := range p.relocations {
		if off < 0 || off+8 > len(out) {
			return nil, fmt.Errorf("%w: offset %d (code len %d)", ErrRelocationRange, off, len(out))
		}
		val := binary.LittleEndian.Uint64(out[off:])
		binary.LittleEndian.PutUint64(out[off:], val+uint64(base))
	}
	return out, nil
}

func NewProgram(code []byte, relocations []int) Program {
	return Program{
		code:        append([]byte(nil), code...),
		relocations: append([]int(nil), relocations...),
	}
}
