// Package jit builds small native programs for linux/amd64 and runs them
// under a fixed calling convention.
//
// A program receives four integer arguments in RDI, RSI, RDX and RCX and
// returns one integer in RAX:
//
//	b := jit.NewBuffer()
//	entry, _ := jit.EntryPrologue(b)
//	_ = jit.EmitCall(b, hostFn, amd64.MovImmediate(jit.ArgReg(0), 12))
//	_ = jit.ExitEpilogue(b, jit.ReturnCurrent())
//	prog, _ := jit.Finalize(b, entry)
//	defer prog.Close()
//	result := prog.Invoke(1, 2, 3, 4)
//
// EntryPrologue stores the arguments at [rsp], [rsp+8], [rsp+0x10] and
// [rsp+0x18] and zeroes RAX, so a program without a body returns 0.
// EmitCall spills the argument registers into its own frame around a call
// to host code and reloads them afterwards. RAX is the only register a
// bridged call clobbers.
//
// Build errors are values: *EncodeError when an instruction cannot be
// encoded, *FinalizeError when labels do not resolve or memory cannot be
// mapped.
//
// Two failure classes are not detected at all.
//
// A convention violation happens when a host function reached through
// EmitCall does not take its arguments in RDI, RSI, RDX and RCX, does not
// return in RAX, leaves the stack unbalanced, or needs more stack alignment
// or shadow space than BridgeFrame provides. Nesting calls inside the setup
// fragments of EmitCall is a violation too. The result is silent register
// corruption, a wrong return value or a crash with no diagnostic.
//
// An invocation fault happens when generated code reads invalid memory or
// executes an invalid sequence. Control has left Go at that point; the
// process receives a signal and usually dies. Nothing in this package can
// recover from it.
package jit
