//go:build linux

package execmem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/jitbridge/internal/asm"
)

var (
	ErrEmptyCode       = errors.New("empty code")
	ErrRelocationRange = asm.ErrRelocationRange
	ErrRegionReleased  = errors.New("region released")
)

// Region is a read-execute mapping holding one program image.
type Region struct {
	mu   sync.Mutex
	mem  []byte
	base uintptr
	size int
}

// Map copies prog into fresh anonymous pages, rebases its relocations
// against the mapping and makes the pages executable.
func Map(prog asm.Program) (*Region, error) {
	size := prog.Len()
	if size == 0 {
		return nil, ErrEmptyCode
	}

	pageSize := unix.Getpagesize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap code region: %w", err)
	}
	release := true
	defer func() {
		if release {
			_ = unix.Munmap(mem)
		}
	}()

	base := uintptr(unsafe.Pointer(&mem[0]))
	code, err := prog.RelocatedCopy(base)
	if err != nil {
		return nil, err
	}
	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return nil, fmt.Errorf("mprotect code region: %w", err)
	}

	release = false

	slog.Debug("mapped code region",
		"base", fmt.Sprintf("%#x", base),
		"size", size,
		"pages", allocSize/pageSize,
		"relocations", len(prog.Relocations()),
	)

	return &Region{mem: mem, base: base, size: size}, nil
}

// Base returns the address of the first code byte, or 0 after Release.
func (r *Region) Base() uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return 0
	}
	return r.base
}

// Len returns the number of code bytes, excluding page padding.
func (r *Region) Len() int { return r.size }

// Bytes returns a copy of the mapped code as it will execute, with
// relocations applied.
func (r *Region) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil, ErrRegionReleased
	}
	return append([]byte(nil), r.mem[:r.size]...), nil
}

// Release unmaps the region. Releasing twice is a no-op.
func (r *Region) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	mem := r.mem
	r.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap code region: %w", err)
	}
	slog.Debug("released code region", "base", fmt.Sprintf("%#x", r.base), "size", r.size)
	return nil
}
