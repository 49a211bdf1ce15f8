package jit

import (
	"fmt"

	"github.com/tinyrange/jitbridge/internal/asm"
	"github.com/tinyrange/jitbridge/internal/asm/amd64"
)

const (
	// ArgCount is the number of integer arguments a program receives.
	ArgCount = 4
	// SlotSize is the width of one argument slot.
	SlotSize = 8
	// EntryFrameSize is the stack reserved by the entry prologue.
	EntryFrameSize = ArgCount * SlotSize
)

var argRegs = [ArgCount]asm.Variable{amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX}

// ReturnReg carries the program result and the result of every bridged call.
var ReturnReg = amd64.Reg64(amd64.RAX)

var stackPointer = amd64.Reg64(amd64.RSP)

// ArgReg returns the register holding argument i.
func ArgReg(i int) amd64.Reg {
	if i < 0 || i >= ArgCount {
		panic(fmt.Sprintf("jit: argument index %d out of range", i))
	}
	return amd64.Reg64(argRegs[i])
}

// EntrySlot addresses the saved copy of argument i while no call frame is
// active.
func EntrySlot(i int) amd64.Memory {
	if i < 0 || i >= ArgCount {
		panic(fmt.Sprintf("jit: argument slot %d out of range", i))
	}
	return amd64.Mem(stackPointer).WithDisp(int32(i * SlotSize))
}

// EntryPrologue reserves the entry frame, stores the four argument registers
// into their slots and clears the return register. The returned offset is
// the program entry point.
func EntryPrologue(b *Buffer) (Offset, error) {
	if err := b.check(); err != nil {
		return Offset{}, err
	}
	if b.entryFrame {
		return Offset{}, ErrEntryFrameExists
	}
	if b.sealed {
		return Offset{}, ErrSealed
	}

	entry := b.CurrentOffset()

	frags := asm.Group{amd64.SubRegImm(stackPointer, EntryFrameSize)}
	for i := range ArgCount {
		frags = append(frags, amd64.MovToMemory(EntrySlot(i), ArgReg(i)))
	}
	frags = append(frags, amd64.XorRegReg(amd64.Reg32(amd64.RAX), amd64.Reg32(amd64.RAX)))

	if err := b.Emit(frags); err != nil {
		return Offset{}, err
	}
	b.entryFrame = true
	return entry, nil
}

// ReturnSource selects what the exit epilogue leaves in ReturnReg.
type ReturnSource interface {
	load() []asm.Fragment
}

type returnFragments []asm.Fragment

func (r returnFragments) load() []asm.Fragment { return r }

// ReturnCurrent returns whatever ReturnReg holds when the epilogue runs.
func ReturnCurrent() ReturnSource { return returnFragments(nil) }

func ReturnImmediate(v uint64) ReturnSource {
	return returnFragments{amd64.MovImmediate(ReturnReg, int64(v))}
}

// ReturnRegister copies r into ReturnReg. r must be a 64-bit register.
func ReturnRegister(r amd64.Reg) ReturnSource {
	if r.Is64() && r.ID() == amd64.RAX {
		return returnFragments(nil)
	}
	return returnFragments{amd64.MovReg(ReturnReg, r)}
}

// ReturnArgSlot returns the value stored in entry slot i by the prologue.
func ReturnArgSlot(i int) ReturnSource {
	return returnFragments{amd64.MovFromMemory(ReturnReg, EntrySlot(i))}
}

// ExitEpilogue loads the return value, releases the entry frame and returns.
// It seals the buffer: later instructions are rejected with ErrSealed while
// data and labels may still be appended.
func ExitEpilogue(b *Buffer, src ReturnSource) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.sealed {
		return ErrSealed
	}
	if !b.entryFrame {
		return ErrNoEntryFrame
	}
	if src == nil {
		src = ReturnCurrent()
	}

	frags := append(asm.Group{}, src.load()...)
	frags = append(frags,
		amd64.AddRegImm(stackPointer, EntryFrameSize),
		amd64.Ret(),
	)
	if err := b.Emit(frags); err != nil {
		return err
	}
	b.sealed = true
	return nil
}
