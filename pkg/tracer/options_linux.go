//go:build linux
// +build linux

package tracer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// traceOptions is installed on every new tracee (spec §4.4): tag
// system-call stops distinctly from signal stops, kill all tracees if
// the tracer dies, and follow every process-cloning call.
const traceOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_EXITKILL |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXEC

// syscallTrapSignal is the stop signal reported for a syscall-stop once
// PTRACE_O_TRACESYSGOOD is installed: SIGTRAP with its high bit set, so
// it's distinguishable from an ordinary SIGTRAP signal-delivery stop.
const syscallTrapSignal = unix.SIGTRAP | 0x80

func setTraceOptions(tid int32) error {
	return unix.PtraceSetOptions(int(tid), traceOptions)
}

// resumeSyscall continues tid until its next syscall-stop, optionally
// re-delivering sig (0 suppresses signal delivery entirely).
func resumeSyscall(tid int32, sig int) error {
	return unix.PtraceSyscall(int(tid), sig)
}

// isSyscallStop reports whether a stop-event is a syscall-entry/exit
// stop rather than a signal-delivery or ptrace-event stop.
func isSyscallStop(ws unix.WaitStatus) bool {
	return ws.Stopped() && int(ws.StopSignal()) == syscallTrapSignal
}

// isPtraceEventStop reports whether a stop-event is a clone/fork/vfork/
// exec notification, and if so, which one.
func isPtraceEventStop(ws unix.WaitStatus) (event int, ok bool) {
	if !ws.Stopped() || ws.StopSignal() != unix.SIGTRAP {
		return 0, false
	}
	cause := ws.TrapCause()
	if cause <= 0 {
		return 0, false
	}
	return cause, true
}

// hasPendingSigInfo reports whether PTRACE_GETSIGINFO succeeds for tid,
// i.e. there is real siginfo associated with the pending stop signal.
// We only need the success/failure of the call (spec §4.4's "query
// per-tracee signal info; if present..."), not its contents, so this
// goes straight to the raw syscall rather than requiring a typed
// siginfo wrapper from the unix package.
func hasPendingSigInfo(tid int32) bool {
	var siginfo [128]byte // siginfo_t is 128 bytes on every Linux arch
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&siginfo[0])), 0, 0)
	return errno == 0
}
