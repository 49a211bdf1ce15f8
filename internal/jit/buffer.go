package jit

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyrange/jitbridge/internal/asm"
	"github.com/tinyrange/jitbridge/internal/asm/amd64"
)

var bufferIDs atomic.Uint64

// Offset is a byte position inside the buffer that produced it.
type Offset struct {
	buf uint64
	pos int
}

// Pos returns the byte index for diagnostics.
func (o Offset) Pos() int { return o.pos }

func (o Offset) String() string { return fmt.Sprintf("+%#x", o.pos) }

// Buffer accumulates the code of a single program. A Buffer is owned by one
// builder and must not be used from several goroutines at once.
type Buffer struct {
	id  uint64
	ctx *amd64.Context

	entryFrame bool
	sealed     bool
	consumed   bool
	err        error
}

func NewBuffer() *Buffer {
	return &Buffer{
		id:  bufferIDs.Add(1),
		ctx: amd64.NewContext(),
	}
}

func (b *Buffer) check() error {
	if b.consumed {
		return ErrConsumed
	}
	return b.err
}

// Emit encodes each fragment in order. An encode failure poisons the buffer
// and is returned again by every later call.
func (b *Buffer) Emit(frags ...asm.Fragment) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.sealed {
		return ErrSealed
	}
	for _, frag := range frags {
		if group, ok := frag.(asm.Group); ok {
			if err := b.Emit(group...); err != nil {
				return err
			}
			continue
		}
		start := b.ctx.Offset()
		if err := frag.Emit(b.ctx); err != nil {
			b.err = &EncodeError{Instruction: describe(frag), Offset: start, Err: err}
			return b.err
		}
	}
	return nil
}

// EmitBytes appends raw data. Data may follow the exit epilogue.
func (b *Buffer) EmitBytes(raw []byte) error {
	if err := b.check(); err != nil {
		return err
	}
	b.ctx.EmitBytes(append([]byte(nil), raw...))
	return nil
}

// EmitString appends s and a terminating NUL.
func (b *Buffer) EmitString(s string) error {
	if err := b.check(); err != nil {
		return err
	}
	return asm.CString(s).Emit(b.ctx)
}

// DefineLabel binds name to the current offset and patches earlier forward
// references to it.
func (b *Buffer) DefineLabel(name string) error {
	if err := b.check(); err != nil {
		return err
	}
	frag := asm.MarkLabel(asm.Label(name))
	if err := frag.Emit(b.ctx); err != nil {
		b.err = &EncodeError{Instruction: describe(frag), Offset: b.ctx.Offset(), Err: err}
		return b.err
	}
	return nil
}

// LabelOffset returns the offset bound to name, if any.
func (b *Buffer) LabelOffset(name string) (Offset, bool) {
	pos, ok := b.ctx.GetLabel(asm.Label(name))
	if !ok {
		return Offset{}, false
	}
	return Offset{buf: b.id, pos: pos}, true
}

func (b *Buffer) CurrentOffset() Offset {
	return Offset{buf: b.id, pos: b.ctx.Offset()}
}

// Bytes returns the code emitted so far. Forward references that are not yet
// bound read as zero and absolute label addresses are image relative.
func (b *Buffer) Bytes() []byte { return b.ctx.Bytes() }

func (b *Buffer) Len() int { return b.ctx.Offset() }

// Sealed reports whether the exit epilogue has been emitted.
func (b *Buffer) Sealed() bool { return b.sealed }

// Unresolved lists labels referenced but never defined.
func (b *Buffer) Unresolved() []string {
	var out []string
	for _, l := range b.ctx.Unresolved() {
		out = append(out, string(l))
	}
	return out
}

// consume validates entry and resolves every label, leaving the buffer
// unusable whatever the outcome.
func (b *Buffer) consume(entry Offset) (asm.Program, error) {
	if b.consumed {
		return asm.Program{}, &FinalizeError{Op: "consume", Err: ErrConsumed}
	}
	b.consumed = true

	if b.err != nil {
		return asm.Program{}, &FinalizeError{Op: "consume", Err: b.err}
	}
	if entry.buf != b.id {
		return asm.Program{}, &FinalizeError{Op: "entry", Err: ErrForeignOffset}
	}
	if entry.pos < 0 || entry.pos >= b.ctx.Offset() {
		return asm.Program{}, &FinalizeError{
			Op:  "entry",
			Err: fmt.Errorf("%w: %s of %d bytes", ErrOffsetOutOfRange, entry, b.ctx.Offset()),
		}
	}
	if !b.sealed {
		slog.Debug("finalizing buffer without exit epilogue", "size", b.ctx.Offset())
	}

	prog, err := b.ctx.Resolve()
	if err != nil {
		return asm.Program{}, &FinalizeError{Op: "resolve", Err: err}
	}
	return prog, nil
}

func describe(frag asm.Fragment) string {
	if s, ok := frag.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", frag)
}
