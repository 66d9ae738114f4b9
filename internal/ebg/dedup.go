package ebg

import (
	"container/list"
	"sync"
	"time"
)

// dedupEntry is one LRU node: the key plus the instant it was seen, so
// age-based eviction can run alongside capacity-based eviction (spec
// §4.6: "LRU, bounded by age and cardinality").
type dedupEntry struct {
	key  dedupKey
	seen time.Time
}

// dedupSet is a bounded, age-aware LRU of recently seen (msg_id, sender)
// pairs.
type dedupSet struct {
	mu       sync.Mutex
	capacity int
	maxAge   time.Duration
	now      func() time.Time

	order   *list.List
	byKey   map[dedupKey]*list.Element
}

func newDedupSet(capacity int, maxAge time.Duration, now func() time.Time) *dedupSet {
	return &dedupSet{
		capacity: capacity,
		maxAge:   maxAge,
		now:      now,
		order:    list.New(),
		byKey:    make(map[dedupKey]*list.Element),
	}
}

// seenOrRecord reports whether key was already present (a duplicate),
// and records it as seen if not.
func (d *dedupSet) seenOrRecord(key dedupKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpiredLocked()

	if el, ok := d.byKey[key]; ok {
		d.order.MoveToFront(el)
		return true
	}

	el := d.order.PushFront(dedupEntry{key: key, seen: d.now()})
	d.byKey[key] = el

	for d.order.Len() > d.capacity {
		d.evictOldestLocked()
	}
	return false
}

func (d *dedupSet) evictExpiredLocked() {
	if d.maxAge <= 0 {
		return
	}
	now := d.now()
	for {
		back := d.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(dedupEntry)
		if now.Sub(entry.seen) <= d.maxAge {
			return
		}
		d.order.Remove(back)
		delete(d.byKey, entry.key)
	}
}

func (d *dedupSet) evictOldestLocked() {
	back := d.order.Back()
	if back == nil {
		return
	}
	entry := back.Value.(dedupEntry)
	d.order.Remove(back)
	delete(d.byKey, entry.key)
}
