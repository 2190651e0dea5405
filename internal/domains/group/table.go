// Package group owns the in-memory table of active groups and the per-group
// serialization discipline that makes mutating it safe under concurrent
// connections.
package group

import (
	"sync"
	"time"

	"weat-sync/go-backend/internal/domains/group/model"
)

// Table maps group id to its in-memory state. Keys present here are exactly
// the groups considered active; durable records may outlive their entry.
// The map itself is guarded; the read-modify-persist-broadcast span for one
// group is serialized by the caller through Locks.
type Table struct {
	mu      sync.RWMutex
	groups  map[string]*model.GroupState
	touched map[string]time.Time
	locks   KeyedLocks
}

func NewTable() *Table {
	return &Table{
		groups:  make(map[string]*model.GroupState),
		touched: make(map[string]time.Time),
	}
}

func (t *Table) Get(groupID string) (*model.GroupState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.groups[groupID]
	return state, ok
}

func (t *Table) Set(groupID string, state *model.GroupState, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[groupID] = state
	t.touched[groupID] = now
}

// Touch bumps the last-activity timestamp without replacing the entry.
func (t *Table) Touch(groupID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.groups[groupID]; ok {
		t.touched[groupID] = now
	}
}

func (t *Table) Delete(groupID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups, groupID)
	delete(t.touched, groupID)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.groups)
}

func (t *Table) GroupIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.groups))
	for id := range t.groups {
		ids = append(ids, id)
	}
	return ids
}

// Lock serializes mutations for one group id. Distinct groups map to
// distinct (striped) mutexes, so cross-group operations never contend on a
// global lock.
func (t *Table) Lock(groupID string) func() {
	return t.locks.Lock(groupID)
}

// Sweep removes groups that have sat below two accepted members for longer
// than idleTTL: invites that were never answered would otherwise pin their
// entry forever. Returns the reaped group ids.
func (t *Table) Sweep(now time.Time, idleTTL time.Duration) []string {
	if idleTTL <= 0 {
		return nil
	}
	cutoff := now.Add(-idleTTL)

	// The scan reads only the touched map, which t.mu guards. Reading a
	// group's members here would race with mutations, which hold only the
	// group's stripe lock; the acceptance check waits for the second phase.
	var stale []string
	t.mu.RLock()
	for id, ts := range t.touched {
		if ts.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	t.mu.RUnlock()

	var reaped []string
	for _, id := range stale {
		unlock := t.Lock(id)
		t.mu.Lock()
		state, ok := t.groups[id]
		if ok && state.AcceptedCount() < 2 && t.touched[id].Before(cutoff) {
			delete(t.groups, id)
			delete(t.touched, id)
			reaped = append(reaped, id)
		}
		t.mu.Unlock()
		unlock()
	}
	return reaped
}
