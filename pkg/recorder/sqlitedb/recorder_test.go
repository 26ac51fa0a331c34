package sqlitedb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

func TestRecorderWritesProcessAndFileRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite3")

	r, err := Open(path)
	require.NoError(t, err)

	root, err := r.AddProcess(nil, "/home/user", false)
	require.NoError(t, err)
	require.NoError(t, r.AddFileOpen(root, "/home/user", recorder.WDir, true))

	child, err := r.AddProcess(&root, "/home/user", false)
	require.NoError(t, err)
	require.NoError(t, r.AddFileOpen(child, "/home/user/input.txt", recorder.Read, false))

	require.NoError(t, r.ProcessExit(child, recorder.Return(0)))
	require.NoError(t, r.ProcessExit(root, recorder.Return(0)))

	require.NoError(t, r.Commit())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var processCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM process`).Scan(&processCount))
	assert.Equal(t, 2, processCount)

	var fileCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM opened_file`).Scan(&fileCount))
	assert.Equal(t, 2, fileCount)

	var exitKind string
	require.NoError(t, db.QueryRow(`SELECT exit_kind FROM process WHERE id = ?`, int64(root)).Scan(&exitKind))
	assert.Equal(t, "return", exitKind)
}

func TestRecorderRejectsDoubleExit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite3")
	r, err := Open(path)
	require.NoError(t, err)

	id, err := r.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)
	require.NoError(t, r.ProcessExit(id, recorder.Return(0)))
	assert.Error(t, r.ProcessExit(id, recorder.Return(1)))

	require.NoError(t, r.Commit())
}

func TestRecorderRejectsEmptyFileOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite3")
	r, err := Open(path)
	require.NoError(t, err)

	id, err := r.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)
	assert.Error(t, r.AddFileOpen(id, "/tmp/x", 0, false))

	require.NoError(t, r.Commit())
}

func TestOpenIsIdempotentAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite3")

	r, err := Open(path)
	require.NoError(t, err)
	id, err := r.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)
	require.NoError(t, r.ProcessExit(id, recorder.Return(0)))
	require.NoError(t, r.Commit())

	// Re-running a trace against the same destination (the ordinary CLI
	// workflow, which defaults to the same output path every time) must
	// start from a genuinely empty trace rather than colliding with the
	// previous run's rows.
	r2, err := Open(path)
	require.NoError(t, err)
	id2, err := r2.AddProcess(nil, "/tmp", false)
	require.NoError(t, err)
	assert.Equal(t, id, id2, "a reopened trace must assign identifiers from scratch, not continue the prior run's count")
	require.NoError(t, r2.ProcessExit(id2, recorder.Return(0)))
	require.NoError(t, r2.Commit())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var processCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM process`).Scan(&processCount))
	assert.Equal(t, 1, processCount, "the first run's rows must not survive the second Open")
}

func TestOpenRejectsSecondOpenWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite3")
	r, err := Open(path)
	require.NoError(t, err)

	_, err = Open(path)
	assert.Error(t, err, "a second Open of the same destination must wait out (and eventually fail) the lock")

	require.NoError(t, r.Commit())
}
