// Package demo builds the sample programs shipped with jitbridge.
package demo

import (
	"fmt"
	"strings"

	"github.com/tinyrange/jitbridge/internal/asm"
	"github.com/tinyrange/jitbridge/internal/asm/amd64"
	"github.com/tinyrange/jitbridge/internal/host"
	"github.com/tinyrange/jitbridge/internal/jit"
)

const messageLabel = "message"

// printReg returns setup fragments that pass reg and its name to print_reg.
// reg is copied first because it may be the second argument register.
func printReg(reg amd64.Reg) ([]asm.Fragment, error) {
	name, err := host.PackName(reg.String())
	if err != nil {
		return nil, err
	}
	return []asm.Fragment{
		amd64.MovReg(jit.ArgReg(0), reg),
		amd64.MovImmediate(jit.ArgReg(1), int64(name)),
	}, nil
}

// BuildHello emits the greeting program: message is embedded ahead of the
// entry point, then the program prints its fourth argument register, the
// message and the result of message_length. It returns the fourth argument
// from its entry slot.
func BuildHello(message string, symbols *jit.SymbolTable) (*jit.Buffer, jit.Offset, error) {
	if strings.IndexByte(message, 0) >= 0 {
		return nil, jit.Offset{}, fmt.Errorf("message contains a NUL byte")
	}

	b := jit.NewBuffer()
	if err := b.DefineLabel(messageLabel); err != nil {
		return nil, jit.Offset{}, err
	}
	if err := b.EmitString(message); err != nil {
		return nil, jit.Offset{}, err
	}

	entry, err := jit.EntryPrologue(b)
	if err != nil {
		return nil, jit.Offset{}, err
	}

	arg3, err := printReg(jit.ArgReg(3))
	if err != nil {
		return nil, jit.Offset{}, err
	}
	result, err := printReg(jit.ReturnReg)
	if err != nil {
		return nil, jit.Offset{}, err
	}

	calls := []struct {
		symbol string
		setup  []asm.Fragment
	}{
		{host.SymbolPrintReg, arg3},
		{host.SymbolPrintStr, []asm.Fragment{amd64.LeaLabel(jit.ArgReg(0), messageLabel)}},
		{host.SymbolMessageLength, []asm.Fragment{amd64.MovImmediate(jit.ArgReg(0), int64(len(message)))}},
		{host.SymbolPrintReg, result},
	}
	for _, c := range calls {
		if err := jit.EmitCallSymbol(b, symbols, c.symbol, c.setup...); err != nil {
			return nil, jit.Offset{}, err
		}
	}

	if err := jit.ExitEpilogue(b, jit.ReturnArgSlot(3)); err != nil {
		return nil, jit.Offset{}, err
	}
	return b, entry, nil
}

// BuildFortune emits a program that runs the host command, prints its exit
// code and returns it.
func BuildFortune(symbols *jit.SymbolTable) (*jit.Buffer, jit.Offset, error) {
	b := jit.NewBuffer()
	entry, err := jit.EntryPrologue(b)
	if err != nil {
		return nil, jit.Offset{}, err
	}

	if err := jit.EmitCallSymbol(b, symbols, host.SymbolRunCommand); err != nil {
		return nil, jit.Offset{}, err
	}
	// The bridge keeps the first argument register intact across the next
	// call, so the exit code survives print_reg.
	if err := b.Emit(amd64.MovReg(jit.ArgReg(0), jit.ReturnReg)); err != nil {
		return nil, jit.Offset{}, err
	}
	name, err := host.PackName("status")
	if err != nil {
		return nil, jit.Offset{}, err
	}
	if err := jit.EmitCallSymbol(b, symbols, host.SymbolPrintReg,
		amd64.MovImmediate(jit.ArgReg(1), int64(name)),
	); err != nil {
		return nil, jit.Offset{}, err
	}

	if err := jit.ExitEpilogue(b, jit.ReturnRegister(jit.ArgReg(0))); err != nil {
		return nil, jit.Offset{}, err
	}
	return b, entry, nil
}
