package amd64

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/tinyrange/jitbridge/internal/asm"
)

const (
	RAX asm.Variable = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RSP
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// ErrUndefinedLabel is returned by Resolve when a label was referenced but
// never bound.
var ErrUndefinedLabel = errors.New("undefined label")

type fixupKind int

const (
	// fixupRel32 is a signed 32-bit displacement relative to the end of
	// the displacement field (jmp, jcc, call, rip-relative lea).
	fixupRel32 fixupKind = iota
	// fixupAbs64 is an 8-byte image-relative address that becomes a
	// relocation in the resolved program.
	fixupAbs64
)

type fixup struct {
	label asm.Label
	pos   int
	kind  fixupKind
}

// Context accumulates encoded instructions for a single program. It is not
// safe for concurrent use.
type Context struct {
	text     []byte
	labels   map[asm.Label]int
	pending  []fixup
	absolute []fixup
	err      error
}

var (
	_ asm.Context = (*Context)(nil)
)

func NewContext() *Context {
	return &Context{
		labels: make(map[asm.Label]int),
	}
}

func (c *Context) EmitBytes(code []byte) {
	c.text = append(c.text, code...)
}

func (c *Context) Offset() int {
	return len(c.text)
}

// Bytes returns a copy of the code emitted so far. Unresolved forward
// references still hold zero displacements.
func (c *Context) Bytes() []byte {
	return append([]byte(nil), c.text...)
}

func (c *Context) GetLabel(label asm.Label) (int, bool) {
	pos, ok := c.labels[label]
	return pos, ok
}

// SetLabel binds label to the current offset and patches every pending
// relative reference to it.
func (c *Context) SetLabel(label asm.Label) {
	target := len(c.text)
	c.labels[label] = target

	remaining := c.pending[:0]
	for _, f := range c.pending {
		if f.label != label {
			remaining = append(remaining, f)
			continue
		}
		if err := c.patchRel32(f.pos, target); err != nil && c.err == nil {
			c.err = err
		}
	}
	c.pending = remaining
}

// Unresolved lists labels that are referenced but not yet defined, in
// first-reference order.
func (c *Context) Unresolved() []asm.Label {
	var out []asm.Label
	for _, f := range c.pending {
		if !slices.Contains(out, f.label) {
			out = append(out, f.label)
		}
	}
	for _, f := range c.absolute {
		if _, ok := c.labels[f.label]; !ok && !slices.Contains(out, f.label) {
			out = append(out, f.label)
		}
	}
	return out
}

// referenceRel32 emits the instruction prefix followed by a 4-byte
// displacement to label. Backward references are patched immediately.
func (c *Context) referenceRel32(prefix []byte, label asm.Label) error {
	c.text = append(c.text, prefix...)
	pos := len(c.text)
	c.text = append(c.text, 0, 0, 0, 0)
	if target, ok := c.labels[label]; ok {
		return c.patchRel32(pos, target)
	}
	c.pending = append(c.pending, fixup{label: label, pos: pos, kind: fixupRel32})
	return nil
}

// referenceAbs64 records that the 8 bytes at pos must hold the address of
// label once the program is loaded.
func (c *Context) referenceAbs64(pos int, label asm.Label) {
	c.absolute = append(c.absolute, fixup{label: label, pos: pos, kind: fixupAbs64})
}

func (c *Context) patchRel32(pos, target int) error {
	rel := target - (pos + 4)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return fmt.Errorf("relative reference at %#x out of range", pos)
	}
	binary.LittleEndian.PutUint32(c.text[pos:pos+4], uint32(int32(rel)))
	return nil
}

// Resolve checks that every referenced label is bound and produces the
// program image together with its absolute relocations.
func (c *Context) Resolve() (asm.Program, error) {
	if c.err != nil {
		return asm.Program{}, c.err
	}
	if len(c.pending) > 0 {
		return asm.Program{}, fmt.Errorf("%w %q", ErrUndefinedLabel, c.pending[0].label)
	}

	code := append([]byte(nil), c.text...)
	relocations := make([]int, 0, len(c.absolute))
	for _, f := range c.absolute {
		target, ok := c.labels[f.label]
		if !ok {
			return asm.Program{}, fmt.Errorf("%w %q", ErrUndefinedLabel, f.label)
		}
		if f.pos < 0 || f.pos+8 > len(code) {
			return asm.Program{}, fmt.Errorf("absolute reference at %#x out of range", f.pos)
		}
		binary.LittleEndian.PutUint64(code[f.pos:f.pos+8], uint64(target))
		relocations = append(relocations, f.pos)
	}

	return asm.NewProgram(code, relocations), nil
}

// EmitProgram encodes fragment into a fresh context and resolves it.
func EmitProgram(fragment asm.Fragment) (asm.Program, error) {
	ctx := NewContext()
	if err := fragment.Emit(ctx); err != nil {
		return asm.Program{}, err
	}
	return ctx.Resolve()
}

func EmitBytes(fragment asm.Fragment) ([]byte, error) {
	prog, err := EmitProgram(fragment)
	if err != nil {
		return nil, err
	}
	return prog.Bytes(), nil
}

type registerCode struct {
	code     byte
	high     bool
	needsRex bool
}

func regInfo(v asm.Variable) (registerCode, error) {
	switch v {
	case RAX:
		return registerCode{code: 0, high: false}, nil
	case RBX:
		return registerCode{code: 3, high: false}, nil
	case RCX:
		return registerCode{code: 1, high: false}, nil
	case RDX:
		return registerCode{code: 2, high: false}, nil
	case RSI:
		return registerCode{code: 6, high: false, needsRex: true}, nil
	case RDI:
		return registerCode{code: 7, high: false, needsRex: true}, nil
	case RSP:
		return registerCode{code: 4, high: false, needsRex: true}, nil
	case RBP:
		return registerCode{code: 5, high: false, needsRex: true}, nil
	case R8:
		return registerCode{code: 0, high: true, needsRex: true}, nil
	case R9:
		return registerCode{code: 1, high: true, needsRex: true}, nil
	case R10:
		return registerCode{code: 2, high: true, needsRex: true}, nil
	case R11:
		return registerCode{code: 3, high: true, needsRex: true}, nil
	case R12:
		return registerCode{code: 4, high: true, needsRex: true}, nil
	case R13:
		return registerCode{code: 5, high: true, needsRex: true}, nil
	case R14:
		return registerCode{code: 6, high: true, needsRex: true}, nil
	case R15:
		return registerCode{code: 7, high: true, needsRex: true}, nil
	default:
		return registerCode{}, fmt.Errorf("unsupported register %d", v)
	}
}
