package core

import (
	"container/list"
	"time"

	"CoverLedger/internal/observability"
)

// Dedup tiers reported by IdempotencyChecker.IsDuplicate.
const (
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// DBIdempotencyChecker looks a transaction up in the persisted log.
type DBIdempotencyChecker interface {
	IsDuplicate(txType string, txID string) (bool, error)
}

// IdempotencyChecker deduplicates transaction ids in two tiers: a bounded
// in-memory LRU of composite keys, then the persisted log. Used only from
// the engine under its lock.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

func compositeKey(txType, txID string) string {
	return txType + ":" + txID
}

// IsDuplicate reports whether the transaction was already processed and
// which tier caught it. A database error counts as "not seen": the nonce
// check still rejects a genuine resubmission.
func (ic *IdempotencyChecker) IsDuplicate(txType string, txID string) (bool, string) {
	key := compositeKey(txType, txID)
	if ic.lru.Contains(key) {
		return true, TierLRU
	}
	if ic.dbChecker == nil {
		return false, ""
	}

	start := time.Now()
	dup, err := ic.dbChecker.IsDuplicate(txType, txID)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
		if err != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
	}
	if err != nil || !dup {
		return false, ""
	}
	ic.mark(key)
	return true, TierPostgres
}

// MarkProcessed records a transaction that produced a receipt.
func (ic *IdempotencyChecker) MarkProcessed(txType string, txID string) {
	ic.mark(compositeKey(txType, txID))
}

func (ic *IdempotencyChecker) mark(key string) {
	if evicted := ic.lru.Add(key); evicted && ic.metrics != nil {
		ic.metrics.DedupLRUEvictions.Inc()
	}
}

func (ic *IdempotencyChecker) Size() int { return ic.lru.Size() }

// IdempotencyLRU is a bounded set of keys, least recently used evicted first.
type IdempotencyLRU struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains reports membership and promotes a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts or promotes key and reports whether another key was evicted.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, ok := lru.index[key]; ok {
		lru.order.MoveToFront(elem)
		return false
	}
	lru.index[key] = lru.order.PushFront(key)
	if lru.order.Len() <= lru.capacity {
		return false
	}
	oldest := lru.order.Back()
	lru.order.Remove(oldest)
	delete(lru.index, oldest.Value.(string))
	return true
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}
