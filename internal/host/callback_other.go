//go:build !(linux && amd64)

package host

import (
	"errors"

	"github.com/tinyrange/jitbridge/internal/jit"
)

var ErrCallbackLimit = errors.New("host callback slots exhausted")

func NewCallback(name string, fn any) (uintptr, error) {
	return 0, jit.ErrUnsupported
}

func Register(symbols *jit.SymbolTable, f *Formatter) error {
	return jit.ErrUnsupported
}

func RegisterCommand(symbols *jit.SymbolTable, cmd *Command) error {
	return jit.ErrUnsupported
}
