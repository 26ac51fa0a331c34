//go:build linux
// +build linux

package tracer

import (
	"os"
	"runtime"
	"strings"

	"github.com/remram44/reprozip-go/pkg/tracelog"
	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

// Trace runs argv[0] (with its own arguments argv[1:]) under tracing,
// recording every process it creates and file it touches to rec, and
// returns the root process's exit status (spec §4.5, §4.1 Trace
// operation).
//
// rec.Commit is called once, and only once every tracee has exited
// cleanly; on any error path Commit is never reached, so a partially
// populated Recorder is never mistaken for a finished trace (spec §7).
func Trace(rec recorder.Recorder, argv []string, log tracelog.Logger) (recorder.ExitStatus, error) {
	return TraceWithArg0(rec, argv, argv[0], log)
}

// TraceWithArg0 is Trace, but lets the caller override what the traced
// program sees as its own argv[0] (spec §4.1's trace_arg0, §4.3).
func TraceWithArg0(rec recorder.Recorder, argv []string, arg0 string, log tracelog.Logger) (recorder.ExitStatus, error) {
	if log == nil {
		log = tracelog.Sink()
	}

	if len(argv) == 0 {
		return recorder.ExitStatus{}, errInvalidCommand()
	}
	if err := validateCommand(argv, arg0); err != nil {
		return recorder.ExitStatus{}, err
	}

	// ptrace attaches to a specific OS thread; the thread that calls
	// PTRACE_TRACEME, issues PTRACE_SETOPTIONS/PTRACE_SYSCALL, and reaps
	// via wait4 must be the same one throughout (spec §4.3, §5).
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cwd, err := os.Getwd()
	if err != nil {
		return recorder.ExitStatus{}, wrapInternal(err, "getwd")
	}

	pid, err := spawnTracee(argv[0], argv, arg0)
	if err != nil {
		return recorder.ExitStatus{}, wrapInternal(err, "spawn")
	}

	registry := NewProcesses(log)
	rootGroup := newThreadGroup(cwd)
	if _, err := registry.AddFirst(pid, rootGroup, rec); err != nil {
		return recorder.ExitStatus{}, err
	}
	log.Infof("tracing %s (pid %d)", argv[0], pid)

	status, err := runEventLoop(pid, registry, rec, log)
	if err != nil {
		return recorder.ExitStatus{}, err
	}

	if err := rec.Commit(); err != nil {
		return recorder.ExitStatus{}, wrapInternal(err, "commit")
	}

	return status, nil
}

// validateCommand rejects commands the engine refuses to even attempt
// to spawn (spec §4.1's InvalidCommand edge case): a NUL byte anywhere
// in argv or arg0 can never reach execve as a valid C string.
func validateCommand(argv []string, arg0 string) error {
	for _, a := range argv {
		if strings.IndexByte(a, 0) >= 0 {
			return errInvalidCommand()
		}
	}
	if strings.IndexByte(arg0, 0) >= 0 {
		return errInvalidCommand()
	}
	return nil
}
