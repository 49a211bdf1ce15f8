package jit

import (
	"github.com/ebitengine/purego"

	"github.com/tinyrange/jitbridge/internal/asm"
	"github.com/tinyrange/jitbridge/internal/execmem"
)

func mapProgram(prog asm.Program, entry int) (*Program, error) {
	region, err := execmem.Map(prog)
	if err != nil {
		return nil, err
	}

	p := &Program{
		mapping: region,
		entry:   region.Base() + uintptr(entry),
		size:    region.Len(),
	}

	// The one place a raw address becomes a Go function value.
	var fn func(a0, a1, a2, a3 uint64) uint64
	purego.RegisterFunc(&fn, p.entry)
	p.call = fn

	return p, nil
}
