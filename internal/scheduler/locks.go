package scheduler

import (
	"slices"
	"sync"
)

// ResourceLockManager serialises tasks that write the same artefact
// (a LaTeX section, a dataset, a notes file). Distinct artefacts can be
// written concurrently. Entries are reference counted and dropped once no
// task holds or waits on them.
type ResourceLockManager struct {
	mu    sync.Mutex
	locks map[string]*resourceLock
}

type resourceLock struct {
	mu   sync.Mutex
	refs int
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]*resourceLock),
	}
}

// Lock acquires the lock for one resource, creating it on first use.
func (r *ResourceLockManager) Lock(resource string) {
	r.mu.Lock()
	l, ok := r.locks[resource]
	if !ok {
		l = &resourceLock{}
		r.locks[resource] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the lock for one resource.
func (r *ResourceLockManager) Unlock(resource string) {
	r.mu.Lock()
	l, ok := r.locks[resource]
	if !ok {
		r.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(r.locks, resource)
	}
	r.mu.Unlock()

	l.mu.Unlock()
}

// LockAll acquires locks for all resources in sorted order, which keeps two
// tasks with overlapping sets from deadlocking each other.
func (r *ResourceLockManager) LockAll(resources []string) {
	for _, res := range sortedUnique(resources) {
		r.Lock(res)
	}
}

// UnlockAll releases locks taken by LockAll, in reverse order.
func (r *ResourceLockManager) UnlockAll(resources []string) {
	sorted := sortedUnique(resources)
	for i := len(sorted) - 1; i >= 0; i-- {
		r.Unlock(sorted[i])
	}
}

// Held returns the number of resources currently locked or awaited.
func (r *ResourceLockManager) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

func sortedUnique(resources []string) []string {
	if len(resources) == 0 {
		return nil
	}
	sorted := slices.Clone(resources)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
