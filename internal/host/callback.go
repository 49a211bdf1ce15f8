//go:build linux && amd64

package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ebitengine/purego"

	"github.com/tinyrange/jitbridge/internal/jit"
)

// maxCallbacks is the number of callback slots purego provides. Slots are
// never returned.
const maxCallbacks = 2000

var ErrCallbackLimit = errors.New("host callback slots exhausted")

var callbackSlots atomic.Int64

// NewCallback turns fn into a native function address following the
// program calling convention. fn must take integer or pointer arguments and
// return at most one integer.
func NewCallback(name string, fn any) (uintptr, error) {
	n := callbackSlots.Add(1)
	if n > maxCallbacks {
		callbackSlots.Add(-1)
		return 0, fmt.Errorf("callback %s: %w", name, ErrCallbackLimit)
	}
	addr := purego.NewCallback(fn)
	slog.Debug("created host callback", "name", name, "addr", fmt.Sprintf("%#x", addr), "slots", n)
	return addr, nil
}

// Register installs the formatter callbacks under print_reg, print_str and
// message_length.
func Register(symbols *jit.SymbolTable, f *Formatter) error {
	callbacks := []struct {
		name string
		fn   any
	}{
		{SymbolPrintReg, f.PrintReg},
		{SymbolPrintStr, f.PrintStr},
		{SymbolMessageLength, f.MessageLength},
	}
	for _, cb := range callbacks {
		addr, err := NewCallback(cb.name, cb.fn)
		if err != nil {
			return err
		}
		if err := symbols.Define(cb.name, addr); err != nil {
			return fmt.Errorf("register %s: %w", cb.name, err)
		}
	}
	return nil
}

// RegisterCommand installs cmd under run_command.
func RegisterCommand(symbols *jit.SymbolTable, cmd *Command) error {
	addr, err := NewCallback(SymbolRunCommand, cmd.Run)
	if err != nil {
		return err
	}
	if err := symbols.Define(SymbolRunCommand, addr); err != nil {
		return fmt.Errorf("register %s: %w", SymbolRunCommand, err)
	}
	return nil
}
