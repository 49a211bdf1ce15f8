package jit

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/jitbridge/internal/asm"
	"github.com/tinyrange/jitbridge/internal/asm/amd64"
)

const (
	stackAlign        = 16
	returnAddressSize = 8
	// shadowSize is the outgoing area left free for the callee at the
	// bottom of the call frame.
	shadowSize = 32
)

// CallFrame is the stack layout reserved around one bridged call.
//
// Depth is how far the stack pointer sits below the last 16-byte aligned
// address when the bridge begins: the return address pushed by the host
// plus the entry frame. Size is chosen so that Depth+Size is a multiple of
// 16, which puts the stack pointer on an aligned address at the call.
type CallFrame struct {
	Shadow int
	Saved  int
	Depth  int
	Size   int
}

// DeriveCallFrame computes the smallest frame holding the shadow area and
// the saved argument registers that realigns the stack from depth.
func DeriveCallFrame(depth int) (CallFrame, error) {
	if depth < 0 {
		return CallFrame{}, fmt.Errorf("negative stack depth %d", depth)
	}
	f := CallFrame{
		Shadow: shadowSize,
		Saved:  ArgCount * SlotSize,
		Depth:  depth,
	}
	f.Size = alignUp(f.Depth+f.Shadow+f.Saved, stackAlign) - f.Depth
	if err := f.Check(); err != nil {
		return CallFrame{}, err
	}
	return f, nil
}

// Check verifies the alignment and capacity requirements of the frame.
func (f CallFrame) Check() error {
	if (f.Depth+f.Size)%stackAlign != 0 {
		return fmt.Errorf("call frame %#x leaves stack misaligned at depth %d", f.Size, f.Depth)
	}
	if f.Size < f.Shadow+f.Saved {
		return fmt.Errorf("call frame %#x cannot hold %d shadow and %d saved bytes", f.Size, f.Shadow, f.Saved)
	}
	return nil
}

// SaveSlot addresses the spill slot of argument register i.
func (f CallFrame) SaveSlot(i int) amd64.Memory {
	if i < 0 || i >= ArgCount {
		panic(fmt.Sprintf("jit: save slot %d out of range", i))
	}
	return amd64.Mem(stackPointer).WithDisp(int32(f.Shadow + i*SlotSize))
}

// EntrySlot addresses entry slot i from inside the call frame, for setup
// code that needs the original program arguments.
func (f CallFrame) EntrySlot(i int) amd64.Memory {
	if i < 0 || i >= ArgCount {
		panic(fmt.Sprintf("jit: argument slot %d out of range", i))
	}
	return amd64.Mem(stackPointer).WithDisp(int32(f.Size + i*SlotSize))
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

var callFrame = mustDeriveCallFrame()

func mustDeriveCallFrame() CallFrame {
	f, err := DeriveCallFrame(returnAddressSize + EntryFrameSize)
	if err != nil {
		panic(err)
	}
	return f
}

// BridgeFrame returns the frame EmitCall reserves.
func BridgeFrame() CallFrame { return callFrame }

// EmitCall emits a call to the host function at target. The argument
// registers are spilled before setup runs and reloaded after the call, so
// they hold their previous values afterwards. ReturnReg holds the callee
// result. Calls must not be nested inside setup.
func EmitCall(b *Buffer, target uintptr, setup ...asm.Fragment) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.sealed {
		return ErrSealed
	}
	if !b.entryFrame {
		return ErrNoEntryFrame
	}
	if target == 0 {
		return ErrNilTarget
	}

	f := callFrame
	frags := asm.Group{amd64.SubRegImm(stackPointer, int32(f.Size))}
	for i := range ArgCount {
		frags = append(frags, amd64.MovToMemory(f.SaveSlot(i), ArgReg(i)))
	}
	frags = append(frags, setup...)
	frags = append(frags,
		amd64.MovImmediate(ReturnReg, int64(target)),
		amd64.CallReg(ReturnReg),
	)
	for i := range ArgCount {
		frags = append(frags, amd64.MovFromMemory(ArgReg(i), f.SaveSlot(i)))
	}
	frags = append(frags, amd64.AddRegImm(stackPointer, int32(f.Size)))

	slog.Debug("emit bridged call", "target", fmt.Sprintf("%#x", target), "at", b.CurrentOffset())
	return b.Emit(frags)
}

// EmitCallSymbol is EmitCall with the target looked up in symbols.
func EmitCallSymbol(b *Buffer, symbols *SymbolTable, name string, setup ...asm.Fragment) error {
	target, err := symbols.Lookup(name)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	return EmitCall(b, target, setup...)
}
