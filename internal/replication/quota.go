// internal/replication/quota.go
package replication

import (
	"sync"
	"time"
)

// Quota is a monthly operation budget. The counter resets when the UTC
// calendar month rolls over, not on a sliding window.
type Quota struct {
	mu    sync.Mutex
	limit int
	month string
	used  int

	now func() time.Time
}

// NewQuota creates a monthly quota. A limit of zero or less means
// unlimited.
func NewQuota(limit int) *Quota {
	return &Quota{limit: limit, now: time.Now}
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// rollover must be called with the lock held.
func (q *Quota) rollover() {
	key := monthKey(q.now())
	if key != q.month {
		q.month = key
		q.used = 0
	}
}

// Allow reports whether at least one more operation fits this month. It
// reserves nothing; racing callers must use TryAcquire.
func (q *Quota) Allow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.limit <= 0 || q.used < q.limit
}

// TryAcquire consumes one unit if the budget has room. The check and the
// consumption happen under one lock so concurrent callers cannot push the
// counter past the ceiling.
func (q *Quota) TryAcquire() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.limit > 0 && q.used >= q.limit {
		return false
	}
	q.used++
	return true
}

// Release returns n unspent units, for reservations that never ran.
func (q *Quota) Release(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.used -= n
	if q.used < 0 {
		q.used = 0
	}
}

// Record consumes n units of the budget.
func (q *Quota) Record(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.used += n
}

// Remaining returns how much budget is left this month. Unlimited quotas
// report -1.
func (q *Quota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.limit <= 0 {
		return -1
	}
	if q.used >= q.limit {
		return 0
	}
	return q.limit - q.used
}
