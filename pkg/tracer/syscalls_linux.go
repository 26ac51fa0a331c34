//go:build linux
// +build linux

package tracer

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

// syscallRegs is the architecture-independent view of a syscall-stop:
// the syscall number, its six argument registers, and (at exit) its
// return value. readSyscallRegs (arch-specific, see
// syscalls_linux_amd64.go) fills it in from PTRACE_GETREGS.
type syscallRegs struct {
	nr   uintptr
	args [6]uintptr
	ret  uintptr
}

// pendingSyscall is what we remember from a syscall-entry stop so the
// matching syscall-exit stop (PTRACE_SYSCALL reports both) can decide
// what actually happened — e.g. the fd an open() call returned.
type pendingSyscall struct {
	regs syscallRegs
}

// handleSyscallStop fills in the one design-level handler spec §4.4
// leaves as a "TODO" in the original source: classifying file-touching
// syscalls and calling the Recorder. It is invoked once per
// syscall-stop; since PTRACE_SYSCALL reports both the entry and the
// exit of a syscall, this toggles between recording the entry registers
// and, on the matching exit, inspecting the outcome and the tracee's
// memory for path arguments.
func handleSyscallStop(ls *loopState, tid int32) error {
	regs, err := readSyscallRegs(tid)
	if err != nil {
		return wrapInternal(err, "ptrace getregs")
	}

	if _, entrySeen := ls.syscallEntry[tid]; !entrySeen {
		ls.syscallEntry[tid] = &pendingSyscall{regs: regs}
		return nil
	}

	entry := ls.syscallEntry[tid]
	delete(ls.syscallEntry, tid)

	thread := ls.registry.GetByTID(tid)
	if thread == nil || thread.State() != stateAttached {
		return nil
	}
	info := thread.Info()

	return inspectSyscall(ls, tid, info, entry.regs, regs.ret)
}

// inspectSyscall classifies one completed syscall and, if it touched a
// path, records the access. retval is the syscall's return value read
// at the matching exit-stop; open/openat/creat/chdir/fchdir calls whose
// outcome indicates failure are not recorded at all (see
// syscallSucceeded).
//
// stat/lstat/fstatat/access/faccessat are recorded regardless of
// outcome: the tracer observed the tracee examine that path either way,
// which is what STAT/LINK report, unlike open/chdir where only a
// successful call actually establishes the access or working directory
// the spec's referential-integrity guarantee depends on.
func inspectSyscall(ls *loopState, tid int32, info ThreadInfo, entry syscallRegs, retval uintptr) error {
	switch entry.nr {
	case unix.SYS_OPEN:
		if !syscallSucceeded(retval) {
			return nil
		}
		return recordOpen(ls, tid, info, entry.args[0], entry.args[1])

	case unix.SYS_OPENAT:
		if !syscallSucceeded(retval) {
			return nil
		}
		return recordOpenAt(ls, tid, info, entry.args[0], entry.args[1], entry.args[2])

	case unix.SYS_CREAT:
		if !syscallSucceeded(retval) {
			return nil
		}
		// creat(path, mode) == open(path, O_CREAT|O_WRONLY|O_TRUNC, mode)
		return recordOpen(ls, tid, info, entry.args[0], uintptr(unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC))

	case unix.SYS_STAT:
		return recordPathAccess(ls, tid, info, entry.args[0], recorder.Stat, false)

	case unix.SYS_LSTAT:
		return recordPathAccess(ls, tid, info, entry.args[0], recorder.Link, false)

	case unix.SYS_NEWFSTATAT:
		noFollow := entry.args[3]&unix.AT_SYMLINK_NOFOLLOW != 0
		return recordPathAtAccess(ls, tid, info, entry.args[0], entry.args[1], noFollow)

	case unix.SYS_ACCESS:
		return recordPathAccess(ls, tid, info, entry.args[0], recorder.Stat, false)

	case unix.SYS_FACCESSAT:
		return recordPathAtAccess(ls, tid, info, entry.args[0], entry.args[1], false)

	case unix.SYS_FACCESSAT2:
		noFollow := entry.args[3]&unix.AT_SYMLINK_NOFOLLOW != 0
		return recordPathAtAccess(ls, tid, info, entry.args[0], entry.args[1], noFollow)

	case unix.SYS_CHDIR:
		if !syscallSucceeded(retval) {
			return nil
		}
		return recordChdir(ls, tid, info, entry.args[0])

	case unix.SYS_FCHDIR:
		if !syscallSucceeded(retval) {
			return nil
		}
		return recordFchdir(ls, tid, info, entry.args[0])

	case unix.SYS_EXECVE, unix.SYS_EXECVEAT:
		// Exec notifications leave the registry untouched; no Recorder
		// call (spec §4.4). The PTRACE_EVENT_EXEC stop (handled in
		// clone_linux.go) is where we'd reset per-group attributes if we
		// ever needed to; cwd is unaffected by exec, so there's nothing
		// to reset today.
		ls.log.Debugf("process %d execve", tid)
	}

	return nil
}

// syscallSucceeded reports whether a raw syscall's return value (read
// straight out of the tracee's registers, not translated through Go's
// errno conventions) indicates success. The kernel's raw ABI returns
// -errno for a failure, which as an unsigned register value falls in
// the top of the address space; valid successful return values (fds,
// byte counts, etc.) never land there.
func syscallSucceeded(retval uintptr) bool {
	r := int64(retval)
	return r >= 0 || r < -4095
}

func recordOpen(ls *loopState, tid int32, info ThreadInfo, pathAddr, flags uintptr) error {
	path, err := readCString(tid, pathAddr)
	if err != nil {
		ls.log.Warningf("process %d: reading open() path: %v", tid, err)
		return nil
	}
	return ls.rec.AddFileOpen(info.Identifier, path, openFileOp(flags), int(flags)&unix.O_DIRECTORY != 0)
}

func recordOpenAt(ls *loopState, tid int32, info ThreadInfo, dirfd, pathAddr, flags uintptr) error {
	path, err := resolvePathAt(tid, dirfd, pathAddr)
	if err != nil {
		ls.log.Warningf("process %d: resolving openat() path: %v", tid, err)
		return nil
	}
	return ls.rec.AddFileOpen(info.Identifier, path, openFileOp(flags), int(flags)&unix.O_DIRECTORY != 0)
}

func recordPathAccess(ls *loopState, tid int32, info ThreadInfo, pathAddr uintptr, op recorder.FileOp, isDir bool) error {
	path, err := readCString(tid, pathAddr)
	if err != nil {
		ls.log.Warningf("process %d: reading path: %v", tid, err)
		return nil
	}
	return ls.rec.AddFileOpen(info.Identifier, path, op, isDir)
}

func recordPathAtAccess(ls *loopState, tid int32, info ThreadInfo, dirfd, pathAddr uintptr, noFollow bool) error {
	path, err := resolvePathAt(tid, dirfd, pathAddr)
	if err != nil {
		ls.log.Warningf("process %d: resolving path: %v", tid, err)
		return nil
	}
	op := recorder.Stat
	if noFollow {
		op = recorder.Link
	}
	return ls.rec.AddFileOpen(info.Identifier, path, op, false)
}

func recordChdir(ls *loopState, tid int32, info ThreadInfo, pathAddr uintptr) error {
	path, err := readCString(tid, pathAddr)
	if err != nil {
		ls.log.Warningf("process %d: reading chdir() path: %v", tid, err)
		return nil
	}
	info.Group.WorkingDir = path
	return ls.rec.AddFileOpen(info.Identifier, path, recorder.WDir, true)
}

func recordFchdir(ls *loopState, tid int32, info ThreadInfo, fd uintptr) error {
	path, err := readFDLink(tid, int(fd))
	if err != nil {
		ls.log.Warningf("process %d: resolving fchdir() fd: %v", tid, err)
		return nil
	}
	info.Group.WorkingDir = path
	return ls.rec.AddFileOpen(info.Identifier, path, recorder.WDir, true)
}

// openFileOp classifies an open/openat/creat call's FileOp from its
// flags argument, following the O_ACCMODE convention: O_RDONLY (0)
// means the previous contents are read, O_WRONLY/O_RDWR mean new
// contents are written. O_RDWR therefore carries both bits.
func openFileOp(flags uintptr) recorder.FileOp {
	var op recorder.FileOp
	switch int(flags) & unix.O_ACCMODE {
	case unix.O_WRONLY:
		op = recorder.Write
	case unix.O_RDWR:
		op = recorder.Read | recorder.Write
	default:
		op = recorder.Read
	}
	if int(flags)&unix.O_CREAT != 0 {
		op |= recorder.Write
	}
	return op
}

// resolvePathAt resolves an *at() syscall's (dirfd, path) pair to an
// absolute-ish path string the same way the kernel would, following the
// AT_FDCWD idiom gVisor's getTaskPathOperation uses when picking a
// lookup start point — but against the real tracee's fd table via
// /proc, since we're observing a real kernel rather than emulating one.
func resolvePathAt(tid int32, dirfd, pathAddr uintptr) (string, error) {
	path, err := readCString(tid, pathAddr)
	if err != nil {
		return "", err
	}
	if len(path) > 0 && path[0] == '/' {
		return path, nil
	}
	if int32(dirfd) == unix.AT_FDCWD {
		return path, nil
	}
	dir, err := readFDLink(tid, int(int32(dirfd)))
	if err != nil {
		return "", err
	}
	return dir + "/" + path, nil
}

// readFDLink resolves tid's open file descriptor fd to the path it
// refers to via /proc/<tid>/fd/<fd>, the standard way to recover a real
// process's fd table entries from outside it.
func readFDLink(tid int32, fd int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/fd/%d", tid, fd))
}

// readCString reads a NUL-terminated string out of tid's address space
// at addr via /proc/<tid>/mem, the standard out-of-process memory read
// path for a ptrace'd tracee.
func readCString(tid int32, addr uintptr) (string, error) {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", tid), os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()

	const chunkSize = 256
	var out []byte
	buf := make([]byte, chunkSize)
	off := int64(addr)
	for {
		n, err := f.ReadAt(buf, off)
		if n == 0 && err != nil {
			return "", err
		}
		if i := indexByte(buf[:n], 0); i >= 0 {
			out = append(out, buf[:i]...)
			return string(out), nil
		}
		out = append(out, buf[:n]...)
		off += int64(n)
		if n < chunkSize {
			return "", fmt.Errorf("reprozip: unterminated string in tracee %d memory", tid)
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
