//go:build linux && arm64
// +build linux,arm64

package tracer

import "golang.org/x/sys/unix"

// readSyscallRegs decodes the current syscall-stop's registers for
// arm64. Unlike amd64, the syscall number isn't clobbered in a separate
// "orig" register: PTRACE_GETREGSET's user_pt_regs reports it in
// Regs[8] throughout the call, and arguments follow in Regs[0..5].
func readSyscallRegs(tid int32) (syscallRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(tid), &regs); err != nil {
		return syscallRegs{}, err
	}
	return syscallRegs{
		nr: uintptr(regs.Regs[8]),
		args: [6]uintptr{
			uintptr(regs.Regs[0]),
			uintptr(regs.Regs[1]),
			uintptr(regs.Regs[2]),
			uintptr(regs.Regs[3]),
			uintptr(regs.Regs[4]),
			uintptr(regs.Regs[5]),
		},
		ret: uintptr(regs.Regs[0]),
	}, nil
}
