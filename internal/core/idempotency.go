package core

import (
	"TroveLedger/internal/observability"
	"container/list"
	"fmt"
)

// RequestDeduper implements two-tier request deduplication: an in-memory
// LRU in front of the persisted event log.
type RequestDeduper struct {
	lru       *RequestLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

// DBIdempotencyChecker looks a request id up in durable storage
type DBIdempotencyChecker interface {
	IsDuplicate(requestID string) (bool, error)
}

func NewRequestDeduper(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *RequestDeduper {
	return &RequestDeduper{
		lru:       NewRequestLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks both tiers. A storage error is returned, not treated
// as "not seen": applying a command twice is worse than refusing it.
func (d *RequestDeduper) IsDuplicate(command, requestID string) (bool, error) {
	if d.lru.Contains(requestID) {
		d.recordDuplicate(command, "lru")
		return true, nil
	}

	if d.dbChecker == nil {
		return false, nil
	}
	isDup, err := d.dbChecker.IsDuplicate(requestID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
	}
	if isDup {
		d.recordDuplicate(command, "postgres")
		d.lru.Add(requestID)
		return true, nil
	}
	return false, nil
}

// MarkProcessed adds the request id after a successful apply
func (d *RequestDeduper) MarkProcessed(requestID string) {
	evicted := d.lru.Add(requestID)
	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(d.lru.Size()))
		if evicted {
			d.metrics.DedupLRUEvictions.Inc()
		}
	}
}

// Warm loads recent request ids, oldest first.
func (d *RequestDeduper) Warm(requestIDs []string) {
	for _, id := range requestIDs {
		d.lru.Add(id)
	}
}

// Keys returns the cached ids from oldest to newest.
func (d *RequestDeduper) Keys() []string {
	return d.lru.Keys()
}

func (d *RequestDeduper) recordDuplicate(command, tier string) {
	if d.metrics != nil {
		d.metrics.IdempotencyDuplicates.WithLabelValues(command, tier).Inc()
	}
}

// --- LRU Implementation ---

// RequestLRU is an LRU set of request ids. Not thread-safe: the engine
// mutex guards it.
type RequestLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List // front = most recent

	evictions int64
}

func NewRequestLRU(capacity int) *RequestLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &RequestLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *RequestLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts or promotes key and reports whether an old key was evicted.
func (lru *RequestLRU) Add(key string) bool {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return false
	}

	lru.cache[key] = lru.order.PushFront(key)
	if lru.order.Len() <= lru.capacity {
		return false
	}

	oldest := lru.order.Back()
	lru.order.Remove(oldest)
	delete(lru.cache, oldest.Value.(string))
	lru.evictions++
	return true
}

func (lru *RequestLRU) Keys() []string {
	keys := make([]string, 0, lru.order.Len())
	for e := lru.order.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

func (lru *RequestLRU) Size() int {
	return lru.order.Len()
}

func (lru *RequestLRU) Evictions() int64 {
	return lru.evictions
}
