// Package util provides shared helpers for the mediatheque engine.
package util

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// OwnerLocks serializes operations touching one owner's physical tree.
// In-process callers share a keyed mutex; when a lock directory is
// configured, a file lock additionally guards against other processes
// (the maintenance CLI running next to a serving process).
type OwnerLocks struct {
	mu      sync.Mutex
	held    map[string]*sync.Mutex
	lockDir string
}

// NewOwnerLocks creates an owner lock set. lockDir may be empty to disable
// cross-process file locking.
func NewOwnerLocks(lockDir string) *OwnerLocks {
	return &OwnerLocks{
		held:    make(map[string]*sync.Mutex),
		lockDir: lockDir,
	}
}

func (l *OwnerLocks) mutexFor(owner string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.held[owner]
	if !ok {
		m = &sync.Mutex{}
		l.held[owner] = m
	}
	return m
}

// Lock acquires the owner's lock and returns its release function.
func (l *OwnerLocks) Lock(owner string) (func(), error) {
	m := l.mutexFor(owner)
	m.Lock()

	if l.lockDir == "" {
		return m.Unlock, nil
	}

	fl := flock.New(filepath.Join(l.lockDir, "owner-"+owner+".lock"))
	if err := fl.Lock(); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("acquire owner lock for %s: %w", owner, err)
	}
	return func() {
		_ = fl.Unlock()
		m.Unlock()
	}, nil
}
