package testutil

import (
	"encoding/hex"
	"strings"
	"testing"
)

// Want is an instruction expected in a disassembly. Operands is matched as a
// substring of the AT&T operand text so jump targets can be left out.
type Want struct {
	Mnemonic string
	Operands string
}

func (w Want) String() string {
	if w.Operands == "" {
		return w.Mnemonic
	}
	return w.Mnemonic + " " + w.Operands
}

func (w Want) matches(in Instruction) bool {
	return in.Mnemonic == w.Mnemonic && strings.Contains(in.Operands, w.Operands)
}

// ExpectAt checks that the instruction starting at byte offset off, and the
// ones following it, match want in order.
func ExpectAt(t *testing.T, insns []Instruction, off int, want ...Want) {
	t.Helper()

	start := -1
	for i, in := range insns {
		if in.Offset == off {
			start = i
			break
		}
	}
	if start < 0 {
		t.Fatalf("no instruction starts at %#x", off)
	}
	if len(insns)-start < len(want) {
		t.Fatalf("%d instructions from %#x, want at least %d", len(insns)-start, off, len(want))
	}
	for i, w := range want {
		in := insns[start+i]
		if !w.matches(in) {
			t.Fatalf("instruction %d at %#x = %q, want %q", i, in.Offset, in, w)
		}
	}
}

// EqualHex fails the test when got does not match the hex encoding want.
// Spaces in want are ignored so expectations can be grouped per instruction.
func EqualHex(t *testing.T, name string, got []byte, want string) {
	t.Helper()
	want = strings.ReplaceAll(strings.ToLower(want), " ", "")
	if _, err := hex.DecodeString(want); err != nil {
		t.Fatalf("%s: invalid hex expectation %q: %v", name, want, err)
	}
	if g := hex.EncodeToString(got); g != want {
		t.Fatalf("%s = %s, want %s", name, g, want)
	}
}
