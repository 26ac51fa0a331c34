package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemRecorderRootProcess(t *testing.T) {
	m := NewMemRecorder()

	id, err := m.AddProcess(nil, "/home/user", false)
	require.NoError(t, err)
	assert.Equal(t, ProcessID(0), id)

	require.NoError(t, m.AddFileOpen(id, "/home/user", WDir, true))
	require.NoError(t, m.ProcessExit(id, Return(0)))
	require.NoError(t, m.Commit())

	assert.True(t, m.Committed())
	procs := m.Processes()
	require.Len(t, procs, 1)
	assert.Nil(t, procs[0].Parent)
	assert.True(t, procs[0].Exit.Equal(Return(0)))
	require.Len(t, procs[0].Files, 1)
	assert.Equal(t, WDir, procs[0].Files[0].Mode)
}

func TestMemRecorderChildReferencesParent(t *testing.T) {
	m := NewMemRecorder()

	root, err := m.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)

	child, err := m.AddProcess(&root, "/tmp", false)
	require.NoError(t, err)

	proc := m.Process(child)
	require.NotNil(t, proc)
	require.NotNil(t, proc.Parent)
	assert.Equal(t, root, *proc.Parent)
}

func TestMemRecorderRejectsUnknownParent(t *testing.T) {
	m := NewMemRecorder()
	bogus := ProcessID(99)
	_, err := m.AddProcess(&bogus, "/tmp", false)
	assert.Error(t, err)
}

func TestMemRecorderRejectsEmptyFileOp(t *testing.T) {
	m := NewMemRecorder()
	id, err := m.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)
	assert.Error(t, m.AddFileOpen(id, "/tmp/x", 0, false))
}

func TestMemRecorderRejectsDoubleExit(t *testing.T) {
	m := NewMemRecorder()
	id, err := m.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)
	require.NoError(t, m.ProcessExit(id, Return(0)))
	assert.Error(t, m.ProcessExit(id, Return(1)))
}

func TestMemRecorderRejectsFileOpenAfterExit(t *testing.T) {
	m := NewMemRecorder()
	id, err := m.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)
	require.NoError(t, m.ProcessExit(id, Return(0)))
	assert.Error(t, m.AddFileOpen(id, "/tmp/x", Read, false))
}

func TestExitStatusEqual(t *testing.T) {
	assert.True(t, Return(0).Equal(Return(0)))
	assert.False(t, Return(0).Equal(Return(1)))
	assert.True(t, FromSignal(9).Equal(FromSignal(9)))
	assert.False(t, Return(0).Equal(FromSignal(0)))
}

func TestFileOpString(t *testing.T) {
	assert.Equal(t, "none", FileOp(0).String())
	assert.Equal(t, "READ", Read.String())
	assert.Equal(t, "READ|WRITE", (Read | Write).String())
}
