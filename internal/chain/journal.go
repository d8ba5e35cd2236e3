package chain

import "fmt"

// Journal is an undo log. Every state mutation appends the closure that
// reverses it; RevertToSnapshot replays those closures newest-first.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type Journal struct {
	entries   []func()
	revisions []int
}

func NewJournal() *Journal {
	return &Journal{}
}

// Append records undo for the mutation that is about to happen.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot returns a revision id that RevertToSnapshot can roll back to.
// Snapshots nest.
func (j *Journal) Snapshot() int {
	id := len(j.revisions)
	j.revisions = append(j.revisions, len(j.entries))
	return id
}

// RevertToSnapshot undoes every mutation recorded since Snapshot returned id
// and invalidates id and every later revision.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 || id >= len(j.revisions) {
		panic(fmt.Sprintf("FATAL: revision id %d cannot be reverted (have %d)", id, len(j.revisions)))
	}
	mark := j.revisions[id]
	for i := len(j.entries) - 1; i >= mark; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:mark]
	j.revisions = j.revisions[:id]
}

// Commit forgets all undo information. Called once a transaction is final.
func (j *Journal) Commit() {
	clear(j.entries)
	j.entries = j.entries[:0]
	j.revisions = j.revisions[:0]
}

// Len returns the number of recorded mutations since the last Commit.
func (j *Journal) Len() int {
	return len(j.entries)
}

// Assign sets *ptr = v and journals the previous value.
func Assign[T any](j *Journal, ptr *T, v T) {
	prev := *ptr
	j.Append(func() { *ptr = prev })
	*ptr = v
}

// MapSet sets m[k] = v and journals the previous entry (or its absence).
func MapSet[K comparable, V any](j *Journal, m map[K]V, k K, v V) {
	prev, existed := m[k]
	j.Append(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// MapDelete removes m[k] and journals the previous entry.
func MapDelete[K comparable, V any](j *Journal, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	j.Append(func() { m[k] = prev })
	delete(m, k)
}
