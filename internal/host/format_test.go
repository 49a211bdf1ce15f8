package host

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func TestPackName(t *testing.T) {
	tests := []struct {
		name string
		want uint64
	}{
		{"rax", 0x726178},
		{"r9", 0x7239},
		{"abcdefgh", 0x6162636465666768},
	}
	for _, tt := range tests {
		got, err := PackName(tt.name)
		if err != nil {
			t.Fatalf("PackName(%q) failed: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("PackName(%q) = %#x, want %#x", tt.name, got, tt.want)
		}
		if back := UnpackName(got); back != tt.name {
			t.Fatalf("UnpackName(%#x) = %q, want %q", got, back, tt.name)
		}
	}

	for _, bad := range []string{"", "toolongname"} {
		if _, err := PackName(bad); err == nil {
			t.Fatalf("PackName(%q) succeeded, want error", bad)
		}
	}
}

func TestPrintReg(t *testing.T) {
	var out bytes.Buffer
	f := NewFormatter(&out, false)
	name, err := PackName("rcx")
	if err != nil {
		t.Fatalf("PackName failed: %v", err)
	}

	f.PrintReg(4, name)

	want := "rcx:\t\t000000000000000004\t\t0x0000000000000004\t\t0b" + strings.Repeat("0", 59) + "100\n"
	if out.String() != want {
		t.Fatalf("PrintReg wrote %q, want %q", out.String(), want)
	}
}

func TestPrintRegColor(t *testing.T) {
	var plain, styled bytes.Buffer
	name, _ := PackName("rax")

	NewFormatter(&plain, false).PrintReg(0xABCDEF, name)
	NewFormatter(&styled, true).PrintReg(0xABCDEF, name)

	if styled.String() == plain.String() {
		t.Fatalf("color output is identical to plain output")
	}
	if got := ansi.Strip(styled.String()); got != plain.String() {
		t.Fatalf("stripped color output = %q, want %q", got, plain.String())
	}
	if !strings.Contains(plain.String(), "0x0000000000ABCDEF") {
		t.Fatalf("hex column missing in %q", plain.String())
	}
}

func TestPrintStrAndLength(t *testing.T) {
	var out bytes.Buffer
	f := NewFormatter(&out, false)

	msg := []byte("Hello World!\x00")
	f.PrintStr(&msg[0])
	if got := f.MessageLength(12); got != 42 {
		t.Fatalf("MessageLength = %d, want 42", got)
	}
	f.SetLengthResult(7)
	if got := f.MessageLength(3); got != 7 {
		t.Fatalf("MessageLength after SetLengthResult = %d, want 7", got)
	}

	want := "Hello World!\nmessage length: 12\nmessage length: 3\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestCString(t *testing.T) {
	if got := CString(nil); got != "" {
		t.Fatalf("CString(nil) = %q", got)
	}
	buf := []byte{'o', 'k', 0, 'x'}
	if got := CString(&buf[0]); got != "ok" {
		t.Fatalf("CString = %q, want ok", got)
	}
	empty := []byte{0}
	if got := CString(&empty[0]); got != "" {
		t.Fatalf("CString(empty) = %q", got)
	}
}
