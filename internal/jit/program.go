package jit

import (
	"fmt"
	"log/slog"
	"sync"
)

// Invokable is the only calling contract of a finalized program.
type Invokable func(a0, a1, a2, a3 uint64) uint64

// codeMapping is the executable memory behind a program.
type codeMapping interface {
	Bytes() ([]byte, error)
	Release() error
}

// Program is a finalized buffer placed in executable memory. Its memory is
// released by Close once no invocation is running.
type Program struct {
	mapping codeMapping
	entry   uintptr
	size    int
	call    Invokable

	mu     sync.Mutex
	active int
	closed bool
}

// Finalize resolves every label in b, maps the code executable and binds
// entry to a callable. It consumes b whether or not it succeeds.
func Finalize(b *Buffer, entry Offset) (*Program, error) {
	prog, err := b.consume(entry)
	if err != nil {
		return nil, err
	}

	p, err := mapProgram(prog, entry.pos)
	if err != nil {
		return nil, &FinalizeError{Op: "map", Err: err}
	}

	slog.Debug("finalized program",
		"entry", fmt.Sprintf("%#x", p.entry),
		"size", p.size,
		"relocations", len(prog.Relocations()),
	)
	return p, nil
}

// Entry returns the absolute address of the entry point.
func (p *Program) Entry() uintptr { return p.entry }

func (p *Program) Size() int { return p.size }

// Code returns the mapped code with relocations applied.
func (p *Program) Code() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed && p.active == 0 {
		return nil, ErrClosed
	}
	return p.mapping.Bytes()
}

// Invoke runs the program with the four arguments and returns its result.
// It blocks until the generated code returns. Invoking a closed program
// panics.
func (p *Program) Invoke(a0, a1, a2, a3 uint64) uint64 {
	p.acquire()
	defer p.release()
	return p.call(a0, a1, a2, a3)
}

// Func returns the program as a plain function value.
func (p *Program) Func() Invokable { return p.Invoke }

func (p *Program) acquire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		panic(fmt.Errorf("jit: invoke: %w", ErrClosed))
	}
	p.active++
}

func (p *Program) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	if p.closed && p.active == 0 {
		if err := p.mapping.Release(); err != nil {
			slog.Warn("release program memory", "entry", fmt.Sprintf("%#x", p.entry), "error", err)
		}
	}
}

// Close marks the program closed. The memory is unmapped immediately when
// idle, otherwise when the last running invocation returns. Closing twice is
// a no-op.
func (p *Program) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.active > 0 {
		slog.Debug("deferring program release", "entry", fmt.Sprintf("%#x", p.entry), "active", p.active)
		return nil
	}
	return p.mapping.Release()
}
