package chain

import "github.com/ethereum/go-ethereum/common"

// Enumerable is an insertion-ordered key set with a 1-based index <-> key
// bijection. Index 0 means "absent". Removal is swap-and-pop: the last key
// moves into the vacated slot, so removal is O(1) and ordering is not stable.
// Every mutation is journaled.
type Enumerable[K comparable] struct {
	journal *Journal
	keys    []K
	index   map[K]int
}

func NewEnumerable[K comparable](j *Journal) *Enumerable[K] {
	return &Enumerable[K]{
		journal: j,
		index:   make(map[K]int),
	}
}

func (e *Enumerable[K]) Len() int {
	return len(e.keys)
}

// IndexOf returns the 1-based index of k, or 0 if k is absent.
func (e *Enumerable[K]) IndexOf(k K) int {
	return e.index[k]
}

func (e *Enumerable[K]) Contains(k K) bool {
	return e.index[k] != 0
}

// At returns the key stored at 1-based index i.
func (e *Enumerable[K]) At(i int) (K, bool) {
	var zero K
	if i < 1 || i > len(e.keys) {
		return zero, false
	}
	return e.keys[i-1], true
}

// Keys returns a copy of the keys in index order.
func (e *Enumerable[K]) Keys() []K {
	out := make([]K, len(e.keys))
	copy(out, e.keys)
	return out
}

// Add appends k and returns its index. If k is already present the existing
// index is returned with added=false.
func (e *Enumerable[K]) Add(k K) (idx int, added bool) {
	if i := e.index[k]; i != 0 {
		return i, false
	}
	e.keys = append(e.keys, k)
	idx = len(e.keys)
	e.index[k] = idx
	e.journal.Append(func() {
		e.keys = e.keys[:len(e.keys)-1]
		delete(e.index, k)
	})
	return idx, true
}

// Remove deletes k, moving the last key into its slot. Returns false if k
// was absent.
func (e *Enumerable[K]) Remove(k K) bool {
	i := e.index[k]
	if i == 0 {
		return false
	}
	n := len(e.keys)
	last := e.keys[n-1]
	if i != n {
		e.keys[i-1] = last
		e.index[last] = i
	}
	e.keys = e.keys[:n-1]
	delete(e.index, k)

	e.journal.Append(func() {
		if i != n {
			e.keys = append(e.keys, last)
			e.keys[i-1] = k
			e.index[last] = n
		} else {
			e.keys = append(e.keys, k)
		}
		e.index[k] = i
	})
	return true
}

// Clear removes every key.
func (e *Enumerable[K]) Clear() {
	if len(e.keys) == 0 {
		return
	}
	prevKeys, prevIndex := e.keys, e.index
	e.keys = nil
	e.index = make(map[K]int)
	e.journal.Append(func() {
		e.keys = prevKeys
		e.index = prevIndex
	})
}

// AddressSet is the enumerable capability set used for updaters, movers,
// retainers, signers and products.
type AddressSet = Enumerable[common.Address]

func NewAddressSet(j *Journal) *AddressSet {
	return NewEnumerable[common.Address](j)
}
