// Package sqlitedb is the reference Recorder implementation (spec §6):
// a single SQLite file holding the full process/file-access trace, the
// same single-file relational format the real reprozip tool produces.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

const schema = `
CREATE TABLE IF NOT EXISTS process (
	id INTEGER PRIMARY KEY,
	parent INTEGER,
	is_thread INTEGER NOT NULL,
	working_dir TEXT NOT NULL,
	exit_kind TEXT,
	exit_code INTEGER,
	exit_signal INTEGER
);
CREATE TABLE IF NOT EXISTS opened_file (
	process INTEGER NOT NULL REFERENCES process(id),
	path TEXT NOT NULL,
	mode INTEGER NOT NULL,
	is_directory INTEGER NOT NULL
);
`

// Recorder writes a trace to a single SQLite database file. A companion
// lock file (path + ".lock") is held for the database's entire
// lifetime, so two reprozip runs never interleave writes to the same
// destination (spec §6's "single-file ... format" implies one writer).
type Recorder struct {
	db      *sql.DB
	lock    *flock.Flock
	tx      *sql.Tx
	nextID  recorder.ProcessID
	path    string
	closed  bool
}

// Open creates an empty database at path, installs the schema, and
// begins the single transaction that every subsequent call writes into;
// Commit ends that transaction. Open is idempotent (spec §4.1): a
// pre-existing, previously-committed trace at path is removed first, so
// every call genuinely starts from an empty trace rather than inserting
// into tables left over from a prior run. Acquiring the lock file
// retries with a backoff, following the same cenkalti/backoff pattern
// the teacher uses to wait out another process holding a sandbox lock.
func Open(path string) (*Recorder, error) {
	lock := flock.New(path + ".lock")
	if err := lockWithBackoff(lock); err != nil {
		return nil, fmt.Errorf("sqlitedb: acquiring lock: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		lock.Unlock()
		return nil, fmt.Errorf("sqlitedb: removing existing %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("sqlitedb: opening %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("sqlitedb: installing schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("sqlitedb: starting transaction: %w", err)
	}

	return &Recorder{db: db, lock: lock, tx: tx, nextID: 1, path: path}, nil
}

func lockWithBackoff(lock *flock.Flock) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		ok, err := lock.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("sqlitedb: database is locked by another process")
		}
		return nil
	}, b)
}

func (r *Recorder) AddProcess(parent *recorder.ProcessID, workingDir string, isThread bool) (recorder.ProcessID, error) {
	id := r.nextID
	r.nextID++

	var parentArg any
	if parent != nil {
		parentArg = int64(*parent)
	}

	_, err := r.tx.Exec(
		`INSERT INTO process (id, parent, is_thread, working_dir) VALUES (?, ?, ?, ?)`,
		int64(id), parentArg, isThread, workingDir,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitedb: inserting process: %w", err)
	}
	return id, nil
}

func (r *Recorder) AddFileOpen(id recorder.ProcessID, path string, mode recorder.FileOp, isDirectory bool) error {
	if mode == 0 {
		return fmt.Errorf("sqlitedb: AddFileOpen for process %d with no FileOp bits set", id)
	}
	_, err := r.tx.Exec(
		`INSERT INTO opened_file (process, path, mode, is_directory) VALUES (?, ?, ?, ?)`,
		int64(id), path, uint32(mode), isDirectory,
	)
	if err != nil {
		return fmt.Errorf("sqlitedb: inserting opened_file: %w", err)
	}
	return nil
}

func (r *Recorder) ProcessExit(id recorder.ProcessID, status recorder.ExitStatus) error {
	var kind string
	var code, sig any
	switch status.Kind {
	case recorder.Returned:
		kind = "return"
		code = status.Code
	case recorder.Signaled:
		kind = "signal"
		sig = status.Signal
	}
	res, err := r.tx.Exec(
		`UPDATE process SET exit_kind = ?, exit_code = ?, exit_signal = ? WHERE id = ? AND exit_kind IS NULL`,
		kind, code, sig, int64(id),
	)
	if err != nil {
		return fmt.Errorf("sqlitedb: recording process exit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitedb: ProcessExit called twice for process %d", id)
	}
	return nil
}

// Commit ends the transaction and releases the lock file. Neither the
// database file nor the lock is touched again afterward; a failed
// Commit leaves the database in whatever state sqlite's rollback left
// it in, never a silently-partial trace.
func (r *Recorder) Commit() error {
	if r.closed {
		return fmt.Errorf("sqlitedb: Commit called twice")
	}
	r.closed = true
	if err := r.tx.Commit(); err != nil {
		r.db.Close()
		r.lock.Unlock()
		return fmt.Errorf("sqlitedb: committing transaction: %w", err)
	}
	if err := r.db.Close(); err != nil {
		r.lock.Unlock()
		return fmt.Errorf("sqlitedb: closing database: %w", err)
	}
	return r.lock.Unlock()
}
