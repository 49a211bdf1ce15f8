// Package host holds the Go functions generated programs call back into.
package host

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unsafe"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// maxCString bounds the scan for a terminating NUL.
const maxCString = 1 << 20

var nameStyle = ansi.Style{}.Bold().ForegroundColor(ansi.Cyan)

// Formatter prints register values and strings handed over by generated
// code. It is safe for concurrent use.
type Formatter struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	result uint64
}

// NewFormatter writes to w, styling register names when color is set.
func NewFormatter(w io.Writer, color bool) *Formatter {
	return &Formatter{w: w, color: color, result: 42}
}

// DetectColor reports whether f is a terminal that should receive styled
// output.
func DetectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// SetOutput redirects later output to w.
func (f *Formatter) SetOutput(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.w = w
}

// SetLengthResult changes the value MessageLength returns.
func (f *Formatter) SetLengthResult(v uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = v
}

func (f *Formatter) printf(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = fmt.Fprintf(f.w, format, args...)
}

// PrintReg prints value in decimal, hex and binary next to the register
// name packed into name by PackName.
func (f *Formatter) PrintReg(value, name uint64) {
	label := UnpackName(name)
	if f.color {
		label = nameStyle.String() + label + ansi.ResetStyle
	}
	f.printf("%s:\t\t%018d\t\t0x%016X\t\t0b%062b\n", label, value, value, value)
}

// PrintStr prints the NUL-terminated string at p.
func (f *Formatter) PrintStr(p *byte) {
	f.printf("%s\n", CString(p))
}

// MessageLength prints n and returns the configured result.
func (f *Formatter) MessageLength(n uint64) uint64 {
	f.mu.Lock()
	result := f.result
	f.mu.Unlock()
	f.printf("message length: %d\n", n)
	return result
}

// PackName stores up to eight bytes of name big-endian in a register-sized
// value, so the first character is the most significant non-zero byte.
func PackName(name string) (uint64, error) {
	if len(name) == 0 || len(name) > 8 {
		return 0, fmt.Errorf("register name %q must be 1 to 8 bytes", name)
	}
	var buf [8]byte
	copy(buf[8-len(name):], name)
	return binary.BigEndian.Uint64(buf[:]), nil
}

// UnpackName reverses PackName, dropping NUL padding.
func UnpackName(v uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return strings.Trim(string(buf[:]), "\x00")
}

// CString reads the NUL-terminated string at p. Strings longer than
// maxCString are truncated.
func CString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for n < maxCString && *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
