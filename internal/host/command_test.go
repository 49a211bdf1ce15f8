package host

import (
	"bytes"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestCommandRun(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not found: %v", err)
	}

	var out bytes.Buffer
	cmd := NewCommand(&out, sh, "-c", "echo fortune; exit 3")
	if got := cmd.Run(); got != 3 {
		t.Fatalf("Run = %d, want 3", got)
	}
	if strings.TrimSpace(out.String()) != "fortune" {
		t.Fatalf("output = %q, want fortune", out.String())
	}

}

func TestCommandTimeout(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not found: %v", err)
	}

	// The sleep is a grandchild of the killed shell and keeps stdout open.
	var out bytes.Buffer
	cmd := NewCommand(&out, sh, "-c", "sleep 5; echo late")
	cmd.Timeout = 50 * time.Millisecond

	start := time.Now()
	got := cmd.Run()
	elapsed := time.Since(start)

	if got != commandFailed {
		t.Fatalf("Run = %#x, want %#x", got, commandFailed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Run blocked %v with a %v timeout", elapsed, cmd.Timeout)
	}
}

func TestCommandMissing(t *testing.T) {
	cmd := NewCommand(&bytes.Buffer{}, "/nonexistent/jitbridge-command")
	if got := cmd.Run(); got != commandFailed {
		t.Fatalf("Run = %#x, want %#x", got, commandFailed)
	}
}
