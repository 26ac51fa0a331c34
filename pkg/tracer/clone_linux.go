//go:build linux
// +build linux

package tracer

import "golang.org/x/sys/unix"

// handleCloneEvent reacts to a clone/fork/vfork/exec ptrace-event stop
// (spec §4.4/§4.7/§3.7). Clone/fork/vfork notifications register the
// new tracee with the registry; exec notifications are a no-op beyond
// logging, since exec doesn't change process topology.
//
// is_thread is derived from the event kind rather than inspecting the
// clone() flags directly: PTRACE_EVENT_CLONE only fires for clone(2)
// calls that don't look like fork()/vfork() (i.e. thread creation via
// CLONE_VM|CLONE_THREAD), while PTRACE_EVENT_FORK/VFORK fire
// specifically for glibc's fork()/vfork(), which never share an address
// space. This mirrors how the kernel itself distinguishes the two.
func handleCloneEvent(ls *loopState, tid int32, event int) error {
	switch event {
	case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		msg, err := unix.PtraceGetEventMsg(int(tid))
		if err != nil {
			return wrapInternal(err, "ptrace geteventmsg")
		}
		newTID := int32(msg)

		parent := ls.registry.GetByTID(tid)
		if parent == nil {
			return errInternal("clone event from untracked tid %d", tid)
		}
		parentInfo := parent.Info()

		isThread := event == unix.PTRACE_EVENT_CLONE

		var group *ThreadGroup
		if isThread {
			group = parentInfo.Group
		} else {
			group = newThreadGroup(parentInfo.Group.WorkingDir)
		}

		// An Unknown entry means the child's first stop already arrived and
		// was left pending; it is promoted and resumed here.
		wasUnknown := ls.registry.HasTID(newTID)
		if _, err := ls.registry.AddChild(newTID, group, parentInfo.Identifier, isThread, ls.rec); err != nil {
			return err
		}
		ls.log.Infof("process %d created child %d (thread=%v)", tid, newTID, isThread)
		if wasUnknown {
			ls.registry.PromoteOnFirstStop(newTID)
			ls.log.Infof("process %d attached", newTID)
			if err := resumeSyscall(newTID, 0); err != nil {
				return err
			}
		}

	case unix.PTRACE_EVENT_EXEC:
		ls.log.Infof("process %d exec'd", tid)
	}

	return nil
}
