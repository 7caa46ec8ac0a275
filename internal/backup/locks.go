package backup

import (
	"sync"
)

// InstanceLocks serializes operations per instance so a backup and a restore
// (or two backups) never run concurrently against the same target. This is an
// in-process lock only; coordinating multiple dbkeeper processes would need a
// file lock, which this tool does not implement.
type InstanceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewInstanceLocks creates an empty lock table.
func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Acquire blocks until the instance lock is held and returns the release
// function.
func (il *InstanceLocks) Acquire(instanceID string) func() {
	il.mu.Lock()
	lock, ok := il.locks[instanceID]
	if !ok {
		lock = &sync.Mutex{}
		il.locks[instanceID] = lock
	}
	il.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
