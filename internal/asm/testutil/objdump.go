package testutil

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Instruction is one decoded line of objdump output.
type Instruction struct {
	Offset   int
	Mnemonic string
	Operands string
}

func (in Instruction) String() string {
	if in.Operands == "" {
		return in.Mnemonic
	}
	return in.Mnemonic + " " + in.Operands
}

// Disassemble runs GNU objdump over x86-64 code in AT&T syntax and returns the
// decoded instructions with their offsets into code. The test is skipped when
// objdump is not installed.
func Disassemble(t *testing.T, code []byte) []Instruction {
	t.Helper()

	objdump, err := exec.LookPath("objdump")
	if err != nil {
		t.Skipf("objdump not found: %v", err)
	}

	path := filepath.Join(t.TempDir(), "code.elf")
	if err := os.WriteFile(path, wrapELF(code), 0o644); err != nil {
		t.Fatalf("write ELF: %v", err)
	}

	out, err := exec.Command(objdump, "-d", "--no-show-raw-insn", "-M", "att", path).CombinedOutput()
	if err != nil {
		t.Fatalf("objdump failed: %v\n\n%s", err, out)
	}
	if testing.Verbose() {
		t.Logf("objdump output:\n%s", out)
	}

	insns := parseDisassembly(out)
	if len(insns) == 0 {
		t.Fatalf("objdump decoded no instructions:\n%s", out)
	}
	return insns
}

// wrapELF places code in the .text section of an otherwise empty x86-64
// executable so objdump can decode it.
func wrapELF(code []byte) []byte {
	const headerSize = 64
	names := []byte("\x00.text\x00.shstrtab\x00")

	textOff := headerSize
	namesOff := textOff + len(code)
	sectionsOff := alignUp(namesOff+len(names), 8)

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     uint64(sectionsOff),
		Ehsize:    headerSize,
		Shentsize: uint16(binary.Size(elf.Section64{})),
		Shnum:     3,
		Shstrndx:  2,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	sections := []elf.Section64{
		{},
		{
			Name:      1,
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Off:       uint64(textOff),
			Size:      uint64(len(code)),
			Addralign: 16,
		},
		{
			Name:      uint32(len("\x00.text\x00")),
			Type:      uint32(elf.SHT_STRTAB),
			Off:       uint64(namesOff),
			Size:      uint64(len(names)),
			Addralign: 1,
		},
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, hdr)
	buf.Write(code)
	buf.Write(names)
	buf.Write(make([]byte, sectionsOff-buf.Len()))
	_ = binary.Write(&buf, binary.LittleEndian, sections)
	return buf.Bytes()
}

// parseDisassembly keeps only lines of the form "  offset:\tmnemonic operands".
func parseDisassembly(out []byte) []Instruction {
	var insns []Instruction
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		addr, text, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		off, err := strconv.ParseUint(strings.TrimSpace(addr), 16, 64)
		if err != nil {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		insns = append(insns, Instruction{
			Offset:   int(off),
			Mnemonic: mnemonic(fields[0]),
			Operands: strings.Join(fields[1:], " "),
		})
	}
	return insns
}

// mnemonic drops the q suffix older binutils print on branches.
func mnemonic(s string) string {
	s = strings.ToLower(s)
	switch s {
	case "callq", "retq", "jmpq":
		return strings.TrimSuffix(s, "q")
	}
	return s
}

func alignUp(v, boundary int) int {
	return (v + boundary - 1) &^ (boundary - 1)
}
