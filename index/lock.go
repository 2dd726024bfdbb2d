package index

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked means another run holds the index.
var ErrLocked = errors.New("profile index is locked by another run")

// Lock is an exclusive advisory lock on an index file, held in a sibling
// ".lock" file for the duration of a run.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock for the index at path without waiting.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
