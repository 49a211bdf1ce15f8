package jit

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// SymbolTable maps host function names to their callable addresses.
type SymbolTable struct {
	mu    sync.RWMutex
	addrs map[string]uintptr
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{addrs: make(map[string]uintptr)}
}

// Define records addr under name. Redefining a name with the same address is
// allowed; a different address is an error.
func (s *SymbolTable) Define(name string, addr uintptr) error {
	if name == "" {
		return fmt.Errorf("define symbol: empty name")
	}
	if addr == 0 {
		return fmt.Errorf("define symbol %q: %w", name, ErrNilTarget)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.addrs[name]; ok && prev != addr {
		return fmt.Errorf("symbol %q already defined at %#x", name, prev)
	}
	s.addrs[name] = addr
	return nil
}

func (s *SymbolTable) Lookup(name string) (uintptr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.addrs[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownSymbol, name)
	}
	return addr, nil
}

// Names returns the defined symbols in sorted order.
func (s *SymbolTable) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.addrs))
}
