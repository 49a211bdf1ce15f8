//go:build !(linux && amd64)

package jit

import "github.com/tinyrange/jitbridge/internal/asm"

func mapProgram(prog asm.Program, entry int) (*Program, error) {
	return nil, ErrUnsupported
}
