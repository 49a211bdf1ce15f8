//go:build linux && amd64

package demo

import (
	"bytes"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/tinyrange/jitbridge/internal/host"
	"github.com/tinyrange/jitbridge/internal/jit"
)

// Callbacks cannot be freed, so every test shares one registered set.
var (
	runOnce    sync.Once
	runErr     error
	runNoShell error
	runOut     syncBuffer
	runSymbols = jit.NewSymbolTable()
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) take() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf.String()
	s.buf.Reset()
	return out
}

func liveSymbols(t *testing.T) *jit.SymbolTable {
	t.Helper()
	runOnce.Do(func() {
		if runErr = host.Register(runSymbols, host.NewFormatter(&runOut, false)); runErr != nil {
			return
		}
		sh, err := exec.LookPath("sh")
		if err != nil {
			runNoShell = err
			return
		}
		runErr = host.RegisterCommand(runSymbols, host.NewCommand(&runOut, sh, "-c", "echo a fortune; exit 5"))
	})
	if runErr != nil {
		t.Fatalf("register callbacks: %v", runErr)
	}
	runOut.take()
	return runSymbols
}

func TestRunHello(t *testing.T) {
	symbols := liveSymbols(t)

	b, entry, err := BuildHello("Hello World!", symbols)
	if err != nil {
		t.Fatalf("BuildHello failed: %v", err)
	}
	prog, err := jit.Finalize(b, entry)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	defer prog.Close()

	if got := prog.Invoke(1, 2, 3, 4); got != 4 {
		t.Fatalf("Invoke = %d, want 4", got)
	}

	lines := strings.Split(strings.TrimSuffix(runOut.take(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d output lines, want 4: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "rcx:\t\t000000000000000004\t\t0x0000000000000004") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if lines[1] != "Hello World!" {
		t.Fatalf("line 1 = %q", lines[1])
	}
	if lines[2] != "message length: 12" {
		t.Fatalf("line 2 = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "rax:\t\t000000000000000042\t\t0x000000000000002A") {
		t.Fatalf("line 3 = %q", lines[3])
	}
}

func TestRunFortune(t *testing.T) {
	symbols := liveSymbols(t)
	if runNoShell != nil {
		t.Skipf("sh not found: %v", runNoShell)
	}

	b, entry, err := BuildFortune(symbols)
	if err != nil {
		t.Fatalf("BuildFortune failed: %v", err)
	}
	prog, err := jit.Finalize(b, entry)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	defer prog.Close()

	if got := prog.Invoke(0, 0, 0, 0); got != 5 {
		t.Fatalf("Invoke = %d, want 5", got)
	}
	out := runOut.take()
	if !strings.Contains(out, "a fortune\n") || !strings.Contains(out, "status:\t\t000000000000000005") {
		t.Fatalf("unexpected output %q", out)
	}
}
