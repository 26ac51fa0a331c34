package tracer

import (
	"fmt"

	"github.com/remram44/reprozip-go/pkg/tracelog"
	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

// ThreadGroup holds the attributes shared by every thread of one
// process (spec §3). working_dir is the only attribute today; the
// struct exists precisely so more can be added later (environment,
// file-descriptor table) without touching the Recorder contract.
//
// Threads reference a ThreadGroup by pointer; refCount tracks how many
// live Thread entries still point at it so the group can be released
// when its last thread exits (spec §9, "reference-counted share").
type ThreadGroup struct {
	WorkingDir string
	refCount   int
}

func newThreadGroup(workingDir string) *ThreadGroup {
	return &ThreadGroup{WorkingDir: workingDir}
}

// threadState tags which of the three states (spec §3) a Thread is in.
type threadState int

const (
	stateUnknown threadState = iota
	stateAllocated
	stateAttached
)

// ThreadInfo is the payload carried by Allocated and Attached threads.
type ThreadInfo struct {
	Identifier recorder.ProcessID
	TID        int32
	Group      *ThreadGroup
}

// Thread is the tagged union from spec §3: Unknown carries only a TID
// (the kernel announced a tracee whose parent hasn't returned from its
// clone call yet); Allocated has an identifier but hasn't hit its first
// stop; Attached is the steady state.
type Thread struct {
	state threadState
	tid   int32 // valid in all three states
	info  ThreadInfo
}

func (t *Thread) State() threadState { return t.state }

// Info returns the ThreadInfo for an Allocated or Attached thread. It
// panics for Unknown threads, which carry no identifier yet — callers
// must check State() first.
func (t *Thread) Info() ThreadInfo {
	if t.state == stateUnknown {
		panic("tracer: Info() called on an Unknown thread")
	}
	return t.info
}

// Processes is the in-memory registry of every live tracee: the TID map
// and the identifier map are mutual inverses over every Allocated/
// Attached entry (invariant I1). It is accessed only from the single
// goroutine driving the event loop (spec §5), so no locking is needed.
type Processes struct {
	log       tracelog.Logger
	byTID     map[int32]*Thread
	byID      map[recorder.ProcessID]int32
	emitWDir  bool // see DESIGN.md: WDIR events are emitted for every group
}

// NewProcesses builds an empty registry.
func NewProcesses(log tracelog.Logger) *Processes {
	if log == nil {
		log = tracelog.Sink()
	}
	return &Processes{
		log:      log,
		byTID:    make(map[int32]*Thread),
		byID:     make(map[recorder.ProcessID]int32),
		emitWDir: true,
	}
}

// AddFirst registers the root tracee, which has no parent. It records a
// WDIR file access for the working directory (spec §4.3 step 3a) in
// addition to the AddProcess call.
func (p *Processes) AddFirst(tid int32, group *ThreadGroup, rec recorder.Recorder) (recorder.ProcessID, error) {
	if _, ok := p.byTID[tid]; ok {
		return 0, fmt.Errorf("tracer: AddFirst called twice for tid %d", tid)
	}

	id, err := rec.AddProcess(nil, group.WorkingDir, false)
	if err != nil {
		return 0, err
	}
	group.refCount++

	p.byTID[tid] = &Thread{
		state: stateAllocated,
		tid:   tid,
		info:  ThreadInfo{Identifier: id, TID: tid, Group: group},
	}
	p.byID[id] = tid

	if p.emitWDir {
		if err := rec.AddFileOpen(id, group.WorkingDir, recorder.WDir, true); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// AddChild registers a non-root tracee whose parent's clone-return has
// just been observed. If tid is already present as Unknown, it is
// promoted in place to Allocated, keeping the same TID (spec §4.2).
func (p *Processes) AddChild(tid int32, group *ThreadGroup, parent recorder.ProcessID, isThread bool, rec recorder.Recorder) (recorder.ProcessID, error) {
	id, err := rec.AddProcess(&parent, group.WorkingDir, isThread)
	if err != nil {
		return 0, err
	}

	isNewGroup := group.refCount == 0
	group.refCount++

	info := ThreadInfo{Identifier: id, TID: tid, Group: group}

	if existing, ok := p.byTID[tid]; ok {
		if existing.state != stateUnknown {
			return 0, fmt.Errorf("tracer: AddChild called for already-known tid %d", tid)
		}
		existing.state = stateAllocated
		existing.info = info
	} else {
		p.byTID[tid] = &Thread{state: stateAllocated, tid: tid, info: info}
	}
	p.byID[id] = tid

	if p.emitWDir && isNewGroup {
		if err := rec.AddFileOpen(id, group.WorkingDir, recorder.WDir, true); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// AddUnknown inserts an Unknown entry when the kernel announces a
// tracee the engine has not yet heard about from its parent. No
// Recorder call is made: Unknown threads are never recorded (spec §4.2).
func (p *Processes) AddUnknown(tid int32) {
	if _, ok := p.byTID[tid]; ok {
		return
	}
	p.byTID[tid] = &Thread{state: stateUnknown, tid: tid}
}

// PromoteOnFirstStop transitions an Allocated thread to Attached and
// reports whether this was in fact its first stop (i.e. it was
// Allocated, not already Attached). Callers use the flag to decide
// whether to install tracing options and issue the initial resume.
func (p *Processes) PromoteOnFirstStop(tid int32) bool {
	t, ok := p.byTID[tid]
	if !ok {
		return false
	}
	if t.state != stateAllocated {
		return false
	}
	t.state = stateAttached
	return true
}

// Exit removes tid from both maps. If it was Allocated or Attached, its
// ThreadGroup is released and the Recorder is told the process exited;
// Unknown entries exit silently, since they were never recorded.
func (p *Processes) Exit(tid int32, status recorder.ExitStatus, rec recorder.Recorder) error {
	t, ok := p.byTID[tid]
	if !ok {
		return fmt.Errorf("tracer: Exit called for unknown tid %d", tid)
	}
	delete(p.byTID, tid)

	switch t.state {
	case stateAllocated, stateAttached:
		delete(p.byID, t.info.Identifier)
		t.info.Group.refCount--
		if err := rec.ProcessExit(t.info.Identifier, status); err != nil {
			return err
		}
	case stateUnknown:
		// Never recorded; nothing to tell the Recorder.
	}

	p.log.Infof("process %d exited, %d processes remain", tid, len(p.byTID))
	return nil
}

// IsEmpty reports whether every tracee has exited (invariant I5).
func (p *Processes) IsEmpty() bool {
	return len(p.byTID) == 0
}

// HasTID reports whether tid is currently tracked, in any state.
func (p *Processes) HasTID(tid int32) bool {
	_, ok := p.byTID[tid]
	return ok
}

// GetByTID returns the Thread for tid, or nil if untracked.
func (p *Processes) GetByTID(tid int32) *Thread {
	return p.byTID[tid]
}

// GetByID returns the Thread registered under the given ProcessID, or
// nil if untracked (or if it was never anything but Unknown, which
// never gets a ProcessID).
func (p *Processes) GetByID(id recorder.ProcessID) *Thread {
	tid, ok := p.byID[id]
	if !ok {
		return nil
	}
	return p.byTID[tid]
}
