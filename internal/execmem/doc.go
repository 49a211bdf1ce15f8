// Package execmem places finished machine code into executable memory.
//
// A Region is mapped read-write, filled and rebased, then flipped to
// read-execute before it is handed out. Pages are never writable and
// executable at the same time.
package execmem
