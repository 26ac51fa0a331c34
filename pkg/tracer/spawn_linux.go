//go:build linux
// +build linux

package tracer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Child-side exit codes (spec §4.3). 125 means the debug-tracing
// facility itself refused us (typically a security sandbox such as
// Docker's default seccomp profile blocking ptrace); 127 means the
// target image could not be exec'd.
const (
	exitCannotTrace = 125
	exitCannotExec  = 127
)

var (
	traceMeFailedMsg = []byte("reprozip: couldn't use ptrace, this may be blocked by a security policy or isolation mechanism\n")
	execFailedMsg    = []byte("reprozip: couldn't execute the target command\n")
)

// spawnTracee forks a child that requests tracing, stops itself, and
// execs argv (using arg0 as the program's own view of argv[0]). It
// returns the child's TID to the parent right after the fork, without
// waiting for the child; the first stop-event the event loop observes
// for this TID is the child's self-sent SIGSTOP (spec §4.3 step 3b).
//
// Precondition: the calling goroutine's OS thread must be locked
// (runtime.LockOSThread), since ptrace state and the fork itself are
// per-thread kernel state.
func spawnTracee(path string, argv []string, arg0 string) (pid int32, err error) {
	pathBytes, err := unix.BytePtrFromString(path)
	if err != nil {
		return 0, err
	}
	argvBytes, err := unix.SlicePtrFromStrings(buildArgv(argv, arg0))
	if err != nil {
		return 0, err
	}
	envvBytes, err := unix.SlicePtrFromStrings(unix.Environ())
	if err != nil {
		return 0, err
	}

	p, errno := forkTraceExec(pathBytes, &argvBytes[0], &envvBytes[0])
	if errno != 0 {
		return 0, errno
	}
	return int32(p), nil
}

// buildArgv replaces argv[0] with arg0 while keeping the rest of the
// command line, matching the original source's trace_arg0 semantics:
// the executable resolved for exec is argv[0] of command, but the
// first argument the program sees is the override (spec §4.3).
func buildArgv(argv []string, arg0 string) []string {
	out := make([]string, len(argv))
	copy(out, argv)
	if len(out) > 0 {
		out[0] = arg0
	} else {
		out = []string{arg0}
	}
	return out
}

// forkTraceExec does the actual raw fork/traceme/stop/exec dance. It is
// adapted from the teacher's forkStub (pkg/sentry/platform/ptrace/
// subprocess_linux.go): a //go:norace raw clone with no allocations
// between the clone and the parent/child divergence, since the Go
// runtime's allocator and scheduler state must not be touched in a
// freshly-forked single-threaded child. Unlike the teacher (which forks
// a seccomp-sandboxed stub that is never exec'd), this child actually
// requests tracing and execs the real target.
//
//go:norace
func forkTraceExec(path *byte, argv, envv **byte) (pid uintptr, errno unix.Errno) {
	beforeFork()

	pid, _, errno = unix.RawSyscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 {
		afterFork()
		return 0, errno
	}

	if pid != 0 {
		// Parent.
		afterFork()
		return pid, 0
	}

	// Child. No allocations, no locks, no scheduling below this point
	// until exec succeeds or we call SYS_EXIT directly.
	afterForkInChild()

	if _, _, e := unix.RawSyscall(unix.SYS_PTRACE, unix.PTRACE_TRACEME, 0, 0); e != 0 {
		rawWrite(traceMeFailedMsg)
		rawExit(exitCannotTrace)
	}

	// Stop ourselves so the tracer can observe a stop-event and install
	// options before any code of the target program runs (spec §4.3
	// step 2b).
	pid, _, _ = unix.RawSyscall(unix.SYS_GETPID, 0, 0, 0)
	unix.RawSyscall(unix.SYS_KILL, pid, uintptr(unix.SIGSTOP), 0)

	unix.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(path)), uintptr(unsafe.Pointer(argv)), uintptr(unsafe.Pointer(envv)))

	// execve only returns on failure.
	rawWrite(execFailedMsg)
	rawExit(exitCannotExec)
	panic("unreachable")
}

// rawWrite writes msg to stderr using a bare syscall, safe to call in
// the no-allocation window between fork and exec.
func rawWrite(msg []byte) {
	if len(msg) == 0 {
		return
	}
	unix.RawSyscall(unix.SYS_WRITE, uintptr(unix.Stderr), uintptr(unsafePointer(&msg[0])), uintptr(len(msg)))
}

// rawExit terminates the calling thread/process immediately via a bare
// syscall, without running any Go runtime shutdown code.
func rawExit(code uintptr) {
	unix.RawSyscall(unix.SYS_EXIT, code, 0, 0)
}
