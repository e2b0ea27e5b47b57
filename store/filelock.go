package store

import (
	"fmt"
	"os"
	"time"

	"github.com/foxcpp/gosmime/errs"
)

// advisoryLock serializes writers to the file backend (spec.md §5: "The
// file backend must serialise writers with an advisory file lock; readers
// may proceed in parallel"). It is a plain O_EXCL sentinel file rather than
// flock(2)/LockFileEx, since neither the teacher nor any example repo in
// the retrieval pack pulls in a file-locking library — see DESIGN.md.
type advisoryLock struct {
	path string
}

func newAdvisoryLock(root string) *advisoryLock {
	return &advisoryLock{path: root + ".lock"}
}

// Acquire blocks (polling) until the lock file can be created exclusively,
// or returns IOError after timeout.
func (l *advisoryLock) Acquire(timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(l.path) }, nil
		}
		if !os.IsExist(err) {
			return nil, &errs.IOError{Op: "lock", Err: err}
		}
		if time.Now().After(deadline) {
			return nil, &errs.IOError{Op: "lock", Err: fmt.Errorf("timed out waiting for %s", l.path)}
		}
		time.Sleep(20 * time.Millisecond)
	}
}
