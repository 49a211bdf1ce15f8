package jit

import (
	"errors"
	"testing"

	"github.com/tinyrange/jitbridge/internal/asm/amd64"
	"github.com/tinyrange/jitbridge/internal/asm/testutil"
)

const prologueHex = "4883ec20 48893c24 4889742408 4889542410 48894c2418 31c0"

func TestEntryPrologueBytes(t *testing.T) {
	b := NewBuffer()
	entry, err := EntryPrologue(b)
	if err != nil {
		t.Fatalf("EntryPrologue failed: %v", err)
	}
	if entry.Pos() != 0 {
		t.Fatalf("entry = %s, want +0x0", entry)
	}
	if err := ExitEpilogue(b, ReturnArgSlot(3)); err != nil {
		t.Fatalf("ExitEpilogue failed: %v", err)
	}
	testutil.EqualHex(t, "prologue+epilogue", b.Bytes(), prologueHex+" 488b442418 4883c420 c3")
}

func TestExitEpilogueSources(t *testing.T) {
	tests := []struct {
		name string
		src  ReturnSource
		want string
	}{
		{"current", ReturnCurrent(), ""},
		{"nil", nil, ""},
		{"immediate", ReturnImmediate(7), "48b80700000000000000"},
		{"return register", ReturnRegister(ReturnReg), ""},
		{"arg register", ReturnRegister(ArgReg(1)), "4889f0"},
		{"slot 0", ReturnArgSlot(0), "488b0424"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			if _, err := EntryPrologue(b); err != nil {
				t.Fatalf("EntryPrologue failed: %v", err)
			}
			if err := ExitEpilogue(b, tt.src); err != nil {
				t.Fatalf("ExitEpilogue failed: %v", err)
			}
			testutil.EqualHex(t, tt.name, b.Bytes(), prologueHex+tt.want+"4883c420c3")
		})
	}
}

func TestEmitCallBytes(t *testing.T) {
	b := NewBuffer()
	if _, err := EntryPrologue(b); err != nil {
		t.Fatalf("EntryPrologue failed: %v", err)
	}
	start := b.Len()
	if err := EmitCall(b, 0x1122334455667788, amd64.MovImmediate(amd64.Reg32(amd64.RDI), 12)); err != nil {
		t.Fatalf("EmitCall failed: %v", err)
	}

	want := "4883ec48" +
		"48897c2420 4889742428 4889542430 48894c2438" +
		"bf0c000000" +
		"48b88877665544332211 ffd0" +
		"488b7c2420 488b742428 488b542430 488b4c2438" +
		"4883c448"
	testutil.EqualHex(t, "bridged call", b.Bytes()[start:], want)
}

func TestCallFrameDerivation(t *testing.T) {
	f := BridgeFrame()
	if f.Size != 0x48 {
		t.Fatalf("frame size = %#x, want 0x48", f.Size)
	}
	if f.Depth != returnAddressSize+EntryFrameSize {
		t.Fatalf("frame depth = %d, want %d", f.Depth, returnAddressSize+EntryFrameSize)
	}
	if (f.Depth+f.Size)%16 != 0 {
		t.Fatalf("depth+size = %#x is not 16 byte aligned", f.Depth+f.Size)
	}
	if f.Size < f.Shadow+f.Saved {
		t.Fatalf("frame %#x smaller than shadow %d + saved %d", f.Size, f.Shadow, f.Saved)
	}
	if got := f.SaveSlot(0).Disp(); got != int32(f.Shadow) {
		t.Fatalf("save slot 0 at %#x, want %#x", got, f.Shadow)
	}
	if got := f.SaveSlot(3).Disp(); int(got)+SlotSize > f.Size {
		t.Fatalf("save slot 3 at %#x overruns frame %#x", got, f.Size)
	}
	if got := f.EntrySlot(0).Disp(); got != int32(f.Size) {
		t.Fatalf("entry slot 0 from call frame at %#x, want %#x", got, f.Size)
	}

	for depth := 0; depth < 64; depth += 8 {
		f, err := DeriveCallFrame(depth)
		if err != nil {
			t.Fatalf("DeriveCallFrame(%d) failed: %v", depth, err)
		}
		if err := f.Check(); err != nil {
			t.Fatalf("DeriveCallFrame(%d) check failed: %v", depth, err)
		}
	}
	if _, err := DeriveCallFrame(-8); err == nil {
		t.Fatalf("DeriveCallFrame(-8) succeeded, want error")
	}
	bad := CallFrame{Shadow: 32, Saved: 32, Depth: 40, Size: 0x40}
	if err := bad.Check(); err == nil {
		t.Fatalf("misaligned frame passed Check")
	}
}

func TestBufferOrdering(t *testing.T) {
	b := NewBuffer()
	if err := ExitEpilogue(b, ReturnCurrent()); !errors.Is(err, ErrNoEntryFrame) {
		t.Fatalf("epilogue before prologue error = %v, want ErrNoEntryFrame", err)
	}
	if err := EmitCall(b, 0x1000); !errors.Is(err, ErrNoEntryFrame) {
		t.Fatalf("call before prologue error = %v, want ErrNoEntryFrame", err)
	}
	if _, err := EntryPrologue(b); err != nil {
		t.Fatalf("EntryPrologue failed: %v", err)
	}
	if _, err := EntryPrologue(b); !errors.Is(err, ErrEntryFrameExists) {
		t.Fatalf("second prologue error = %v, want ErrEntryFrameExists", err)
	}
	if err := EmitCall(b, 0); !errors.Is(err, ErrNilTarget) {
		t.Fatalf("call to zero error = %v, want ErrNilTarget", err)
	}
	if err := ExitEpilogue(b, ReturnCurrent()); err != nil {
		t.Fatalf("ExitEpilogue failed: %v", err)
	}
	if !b.Sealed() {
		t.Fatalf("buffer not sealed after epilogue")
	}

	sealedLen := b.Len()
	if err := b.Emit(amd64.Ret()); !errors.Is(err, ErrSealed) {
		t.Fatalf("emit after epilogue error = %v, want ErrSealed", err)
	}
	if err := ExitEpilogue(b, ReturnCurrent()); !errors.Is(err, ErrSealed) {
		t.Fatalf("second epilogue error = %v, want ErrSealed", err)
	}
	if err := EmitCall(b, 0x1000); !errors.Is(err, ErrSealed) {
		t.Fatalf("call after epilogue error = %v, want ErrSealed", err)
	}
	if b.Len() != sealedLen {
		t.Fatalf("rejected emission changed length from %d to %d", sealedLen, b.Len())
	}

	if err := b.DefineLabel("data"); err != nil {
		t.Fatalf("DefineLabel after epilogue failed: %v", err)
	}
	if err := b.EmitString("tail"); err != nil {
		t.Fatalf("EmitString after epilogue failed: %v", err)
	}
	if off, ok := b.LabelOffset("data"); !ok || off.Pos() != sealedLen {
		t.Fatalf("LabelOffset(data) = %v, %v, want +%#x", off, ok, sealedLen)
	}
}

func TestEncodeErrorPoisonsBuffer(t *testing.T) {
	b := NewBuffer()
	if err := b.EmitBytes([]byte{0x90}); err != nil {
		t.Fatalf("EmitBytes failed: %v", err)
	}

	err := b.Emit(amd64.MovReg(amd64.Reg64(amd64.RAX), amd64.Reg32(amd64.RCX)))
	var encErr *EncodeError
	if !errors.As(err, &encErr) {
		t.Fatalf("Emit error = %v, want *EncodeError", err)
	}
	if encErr.Offset != 1 {
		t.Fatalf("EncodeError.Offset = %d, want 1", encErr.Offset)
	}
	if encErr.Instruction != "mov rax, ecx" {
		t.Fatalf("EncodeError.Instruction = %q, want %q", encErr.Instruction, "mov rax, ecx")
	}
	if b.Len() != 1 {
		t.Fatalf("failed instruction emitted bytes: len %d", b.Len())
	}

	if err := b.EmitBytes([]byte{0x90}); err != encErr {
		t.Fatalf("EmitBytes after poison = %v, want the original EncodeError", err)
	}
	if _, err := EntryPrologue(b); err != encErr {
		t.Fatalf("EntryPrologue after poison = %v, want the original EncodeError", err)
	}

	_, err = Finalize(b, Offset{buf: b.id})
	var finErr *FinalizeError
	if !errors.As(err, &finErr) || !errors.As(err, &encErr) {
		t.Fatalf("Finalize after poison = %v, want FinalizeError wrapping EncodeError", err)
	}
}

func TestEncodeErrorNamesGroupMember(t *testing.T) {
	b := NewBuffer()
	if _, err := EntryPrologue(b); err != nil {
		t.Fatalf("EntryPrologue failed: %v", err)
	}
	err := EmitCall(b, 0x1000, amd64.CallReg(amd64.Reg32(amd64.RAX)))
	var encErr *EncodeError
	if !errors.As(err, &encErr) {
		t.Fatalf("EmitCall error = %v, want *EncodeError", err)
	}
	if encErr.Instruction != "call eax" {
		t.Fatalf("EncodeError.Instruction = %q, want %q", encErr.Instruction, "call eax")
	}
}

func TestDuplicateLabel(t *testing.T) {
	b := NewBuffer()
	if err := b.DefineLabel("x"); err != nil {
		t.Fatalf("DefineLabel failed: %v", err)
	}
	var encErr *EncodeError
	if err := b.DefineLabel("x"); !errors.As(err, &encErr) {
		t.Fatalf("redefinition error = %v, want *EncodeError", err)
	}
}

func TestFinalizeValidation(t *testing.T) {
	t.Run("undefined label", func(t *testing.T) {
		b := NewBuffer()
		entry, err := EntryPrologue(b)
		if err != nil {
			t.Fatalf("EntryPrologue failed: %v", err)
		}
		if err := b.Emit(amd64.Jump("nowhere")); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
		if err := ExitEpilogue(b, ReturnCurrent()); err != nil {
			t.Fatalf("ExitEpilogue failed: %v", err)
		}
		if got := b.Unresolved(); len(got) != 1 || got[0] != "nowhere" {
			t.Fatalf("Unresolved() = %v, want [nowhere]", got)
		}

		_, err = Finalize(b, entry)
		var finErr *FinalizeError
		if !errors.As(err, &finErr) || finErr.Op != "resolve" {
			t.Fatalf("Finalize error = %v, want resolve FinalizeError", err)
		}
		if !errors.Is(err, amd64.ErrUndefinedLabel) {
			t.Fatalf("Finalize error = %v, want ErrUndefinedLabel", err)
		}
	})

	t.Run("foreign offset", func(t *testing.T) {
		a, b := NewBuffer(), NewBuffer()
		entry, err := EntryPrologue(a)
		if err != nil {
			t.Fatalf("EntryPrologue failed: %v", err)
		}
		if _, err := EntryPrologue(b); err != nil {
			t.Fatalf("EntryPrologue failed: %v", err)
		}
		if _, err := Finalize(b, entry); !errors.Is(err, ErrForeignOffset) {
			t.Fatalf("Finalize error = %v, want ErrForeignOffset", err)
		}
		if _, err := Finalize(NewBuffer(), Offset{}); !errors.Is(err, ErrForeignOffset) {
			t.Fatalf("Finalize with zero offset error = %v, want ErrForeignOffset", err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		b := NewBuffer()
		if _, err := EntryPrologue(b); err != nil {
			t.Fatalf("EntryPrologue failed: %v", err)
		}
		end := b.CurrentOffset()
		if _, err := Finalize(b, end); !errors.Is(err, ErrOffsetOutOfRange) {
			t.Fatalf("Finalize error = %v, want ErrOffsetOutOfRange", err)
		}
	})

	t.Run("single use", func(t *testing.T) {
		b := NewBuffer()
		if _, err := Finalize(b, Offset{}); err == nil {
			t.Fatalf("Finalize of foreign offset succeeded")
		}
		_, err := Finalize(b, b.CurrentOffset())
		var finErr *FinalizeError
		if !errors.As(err, &finErr) || !errors.Is(err, ErrConsumed) {
			t.Fatalf("second Finalize error = %v, want ErrConsumed", err)
		}
		if err := b.EmitBytes([]byte{0}); !errors.Is(err, ErrConsumed) {
			t.Fatalf("EmitBytes after finalize error = %v, want ErrConsumed", err)
		}
		if err := b.DefineLabel("late"); !errors.Is(err, ErrConsumed) {
			t.Fatalf("DefineLabel after finalize error = %v, want ErrConsumed", err)
		}
	})
}

func TestSymbolTable(t *testing.T) {
	s := NewSymbolTable()
	if err := s.Define("print_reg", 0x1000); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := s.Define("print_str", 0x2000); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := s.Define("print_reg", 0x1000); err != nil {
		t.Fatalf("idempotent Define failed: %v", err)
	}
	if err := s.Define("print_reg", 0x3000); err == nil {
		t.Fatalf("conflicting Define succeeded")
	}
	if err := s.Define("zero", 0); !errors.Is(err, ErrNilTarget) {
		t.Fatalf("Define(zero) error = %v, want ErrNilTarget", err)
	}

	if addr, err := s.Lookup("print_str"); err != nil || addr != 0x2000 {
		t.Fatalf("Lookup(print_str) = %#x, %v", addr, err)
	}
	if _, err := s.Lookup("missing"); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("Lookup(missing) error = %v, want ErrUnknownSymbol", err)
	}
	if names := s.Names(); len(names) != 2 || names[0] != "print_reg" || names[1] != "print_str" {
		t.Fatalf("Names() = %v", names)
	}

	b := NewBuffer()
	if _, err := EntryPrologue(b); err != nil {
		t.Fatalf("EntryPrologue failed: %v", err)
	}
	if err := EmitCallSymbol(b, s, "missing"); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("EmitCallSymbol(missing) error = %v, want ErrUnknownSymbol", err)
	}
	if err := EmitCallSymbol(b, s, "print_reg"); err != nil {
		t.Fatalf("EmitCallSymbol failed: %v", err)
	}
}
