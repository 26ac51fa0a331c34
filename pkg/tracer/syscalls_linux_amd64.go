//go:build linux && amd64
// +build linux,amd64

package tracer

import "golang.org/x/sys/unix"

// readSyscallRegs decodes the current syscall-stop's registers for
// amd64: orig_rax carries the syscall number (rax is clobbered by the
// kernel with -ENOSYS while the call is in progress), the first six
// arguments follow the amd64 syscall calling convention, and rax at
// syscall-exit carries the return value.
func readSyscallRegs(tid int32) (syscallRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(tid), &regs); err != nil {
		return syscallRegs{}, err
	}
	return syscallRegs{
		nr: uintptr(regs.Orig_rax),
		args: [6]uintptr{
			uintptr(regs.Rdi),
			uintptr(regs.Rsi),
			uintptr(regs.Rdx),
			uintptr(regs.R10),
			uintptr(regs.R8),
			uintptr(regs.R9),
		},
		ret: uintptr(regs.Rax),
	}, nil
}
