//go:build linux
// +build linux

package tracer

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/remram44/reprozip-go/pkg/tracelog"
	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

// These exercise the real fork/ptrace/wait4/syscall-classification
// pipeline end to end (spec §8's seed scenarios), with a MemRecorder as
// the Recorder destination. Nothing here mocks the kernel.

func lookPath(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found in PATH: %v", name, err)
	}
	return path
}

func TestTraceEchoReturnsZeroAndRecordsRootProcess(t *testing.T) {
	echo := lookPath(t, "echo")
	mem := recorder.NewMemRecorder()

	status, err := Trace(mem, []string{echo, "test"}, tracelog.Sink())
	require.NoError(t, err)
	assert.True(t, status.Equal(recorder.Return(0)), "got %v", status)

	procs := mem.Processes()
	require.Len(t, procs, 1)
	assert.Nil(t, procs[0].Parent)
	assert.False(t, procs[0].IsThread)

	require.Len(t, procs[0].Files, 1)
	assert.Equal(t, recorder.WDir, procs[0].Files[0].Mode)
	assert.True(t, procs[0].Files[0].IsDirectory)
	assert.Equal(t, procs[0].WorkingDir, procs[0].Files[0].Path)

	require.NotNil(t, procs[0].Exit)
	assert.True(t, procs[0].Exit.Equal(recorder.Return(0)))
	assert.True(t, mem.Committed())
}

func TestTraceFalseReturnsOne(t *testing.T) {
	falseBin := lookPath(t, "false")
	mem := recorder.NewMemRecorder()

	status, err := Trace(mem, []string{falseBin}, tracelog.Sink())
	require.NoError(t, err)
	assert.True(t, status.Equal(recorder.Return(1)), "got %v", status)

	procs := mem.Processes()
	require.Len(t, procs, 1)
	require.NotNil(t, procs[0].Exit)
	assert.True(t, procs[0].Exit.Equal(recorder.Return(1)))
	assert.True(t, mem.Committed())
}

func TestTraceSignaledProcess(t *testing.T) {
	sh := lookPath(t, "sh")
	mem := recorder.NewMemRecorder()

	status, err := Trace(mem, []string{sh, "-c", "kill -SEGV $$"}, tracelog.Sink())
	require.NoError(t, err)
	assert.True(t, status.Equal(recorder.FromSignal(int32(unix.SIGSEGV))), "got %v", status)
	assert.True(t, mem.Committed())
}

func TestTraceParentAndChildProcess(t *testing.T) {
	sh := lookPath(t, "sh")
	mem := recorder.NewMemRecorder()

	status, err := Trace(mem, []string{sh, "-c", "sh -c 'echo hi' & wait"}, tracelog.Sink())
	require.NoError(t, err)
	assert.True(t, status.Equal(recorder.Return(0)), "got %v", status)

	procs := mem.Processes()
	require.Len(t, procs, 2)

	assert.Nil(t, procs[0].Parent)
	require.NotNil(t, procs[1].Parent)
	assert.Equal(t, procs[0].ID, *procs[1].Parent)

	for _, p := range procs {
		require.NotNil(t, p.Exit)
	}
	assert.True(t, mem.Committed())
}

func TestTraceNonexistentBinaryExits127(t *testing.T) {
	mem := recorder.NewMemRecorder()

	status, err := Trace(mem, []string{"/nonexistent/binary"}, tracelog.Sink())
	require.NoError(t, err)
	assert.True(t, status.Equal(recorder.Return(127)), "got %v", status)
	assert.True(t, mem.Committed())
}

func TestTraceRejectsEmbeddedNullByte(t *testing.T) {
	mem := recorder.NewMemRecorder()

	_, err := Trace(mem, []string{"cmd\x00bad"}, tracelog.Sink())
	require.Error(t, err)
	assert.True(t, IsInvalidCommand(err))
	assert.Empty(t, mem.Processes())
	assert.False(t, mem.Committed())
}

func TestTraceWithArg0OverridesArgvZero(t *testing.T) {
	sh := lookPath(t, "sh")
	mem := recorder.NewMemRecorder()

	status, err := TraceWithArg0(mem, []string{sh, "-c", `echo "$0"`}, "custom-arg0", tracelog.Sink())
	require.NoError(t, err)
	assert.True(t, status.Equal(recorder.Return(0)), "got %v", status)
	assert.True(t, mem.Committed())
}
