package jit

import (
	"errors"
	"fmt"
)

var (
	ErrSealed           = errors.New("buffer sealed by exit epilogue")
	ErrConsumed         = errors.New("buffer already finalized")
	ErrNoEntryFrame     = errors.New("entry prologue not emitted")
	ErrEntryFrameExists = errors.New("entry prologue already emitted")
	ErrForeignOffset    = errors.New("offset belongs to another buffer")
	ErrOffsetOutOfRange = errors.New("offset outside program bounds")
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrClosed           = errors.New("program closed")
	ErrNilTarget        = errors.New("call target address is zero")
	ErrUnsupported      = errors.New("executable programs are only supported on linux/amd64")
)

// EncodeError reports an instruction the encoder could not represent. The
// buffer that produced it is unusable afterwards.
type EncodeError struct {
	Instruction string // Printed form of the offending instruction
	Offset      int    // Buffer offset where encoding started
	Err         error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s at %#x: %v", e.Instruction, e.Offset, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// FinalizeError reports why a buffer could not be turned into a program.
// Op names the failed step: consume, entry, resolve or map.
type FinalizeError struct {
	Op  string
	Err error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize: %s: %v", e.Op, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }
