//go:build linux
// +build linux

package tracer

import (
	"golang.org/x/sys/unix"

	"github.com/remram44/reprozip-go/pkg/tracelog"
	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

// loopState bundles everything the event loop's handlers need so that
// handleStop/handleSyscallStop/handleCloneEvent don't have to thread
// four separate parameters through every call.
type loopState struct {
	registry *Processes
	rec      recorder.Recorder
	log      tracelog.Logger
	// syscallEntry tracks, per TID, the decoded syscall-entry registers
	// while we wait for the matching syscall-exit stop (PTRACE_SYSCALL
	// reports both transitions; only at exit do we know the outcome,
	// e.g. the fd an open() returned).
	syscallEntry map[int32]*pendingSyscall
}

// runEventLoop is the single-threaded reactor from spec §4.4/§5. It
// blocks on "await any tracee state change, including threads" and
// dispatches each event until the registry is empty (invariant I5),
// then returns the root tracee's exit status (invariant I6).
func runEventLoop(rootTID int32, registry *Processes, rec recorder.Recorder, log tracelog.Logger) (recorder.ExitStatus, error) {
	if log == nil {
		log = tracelog.Sink()
	}
	ls := &loopState{
		registry:     registry,
		rec:          rec,
		log:          log,
		syscallEntry: make(map[int32]*pendingSyscall),
	}

	var rootStatus *recorder.ExitStatus

	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return recorder.ExitStatus{}, wrapInternal(err, "wait4")
		}
		tid := int32(wpid)

		switch {
		case ws.Exited():
			status := recorder.Return(int32(ws.ExitStatus()))
			if tid == rootTID {
				rootStatus = &status
			}
			delete(ls.syscallEntry, tid)
			if err := registry.Exit(tid, status, rec); err != nil {
				return recorder.ExitStatus{}, err
			}
			if registry.IsEmpty() {
				return finalStatus(rootStatus)
			}

		case ws.Signaled():
			status := recorder.FromSignal(int32(ws.Signal()))
			if tid == rootTID {
				rootStatus = &status
			}
			delete(ls.syscallEntry, tid)
			if err := registry.Exit(tid, status, rec); err != nil {
				return recorder.ExitStatus{}, err
			}
			if registry.IsEmpty() {
				return finalStatus(rootStatus)
			}

		case ws.Stopped():
			if err := handleStop(ls, tid, ws); err != nil {
				return recorder.ExitStatus{}, err
			}

		default:
			// Continued or other transitions we don't need to act on.
		}
	}
}

func finalStatus(s *recorder.ExitStatus) (recorder.ExitStatus, error) {
	if s == nil {
		// Precondition violation (spec §4.4): the root is the progenitor
		// of every tracee, so the registry cannot drain without the root
		// having produced a terminal event first.
		return recorder.ExitStatus{}, errInternal("event loop drained without observing the root tracee's exit")
	}
	return *s, nil
}

// handleStop dispatches a single Stopped(tid, sig) event per the table
// in spec §4.4.
func handleStop(ls *loopState, tid int32, ws unix.WaitStatus) error {
	if !ls.registry.HasTID(tid) {
		ls.log.Infof("process %d appeared", tid)
		ls.registry.AddUnknown(tid)
		if err := setTraceOptions(tid); err != nil {
			return wrapInternal(err, "ptrace setoptions")
		}
		// Don't resume: it will be promoted and resumed once the
		// parent's clone-return event arrives.
		return nil
	}

	thread := ls.registry.GetByTID(tid)
	if thread.State() == stateAllocated {
		ls.log.Infof("process %d attached", tid)
		ls.registry.PromoteOnFirstStop(tid)
		if err := setTraceOptions(tid); err != nil {
			return wrapInternal(err, "ptrace setoptions")
		}
		return resumeSyscall(tid, 0)
	}

	// Attached: either a syscall-stop, a clone/fork/vfork/exec event, or
	// a genuine signal-delivery stop.
	if isSyscallStop(ws) {
		if err := handleSyscallStop(ls, tid); err != nil {
			return err
		}
		return resumeSyscall(tid, 0)
	}

	if event, ok := isPtraceEventStop(ws); ok {
		if err := handleCloneEvent(ls, tid, event); err != nil {
			return err
		}
		return resumeSyscall(tid, 0)
	}

	sig := ws.StopSignal()
	if sig == unix.SIGTRAP {
		ls.log.Warningf("not delivering SIGTRAP to %d", tid)
		return resumeSyscall(tid, 0)
	}

	ls.log.Warningf("caught signal %v on %d", sig, tid)
	if hasPendingSigInfo(tid) {
		return resumeSyscall(tid, 0)
	}
	ls.log.Warningf("not delivering signal %v to %d", sig, tid)
	if sig != unix.SIGSTOP {
		return resumeSyscall(tid, 0)
	}
	// sig == SIGSTOP and no siginfo available: leave the stop pending.
	return nil
}
