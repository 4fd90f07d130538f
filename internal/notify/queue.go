package notify

import (
	"sync"

	"autotrader/internal/events"
)

// alertQueue sits between the bus and delivery. CRITICAL alerts are never
// dropped and always leave first; other alerts are capped at limit, the
// oldest making room for the newest.
type alertQueue struct {
	mu       sync.Mutex
	ready    chan struct{}
	critical []events.Alert
	normal   []events.Alert
	limit    int
	closed   bool
}

func newAlertQueue(limit int) *alertQueue {
	if limit <= 0 {
		limit = 1
	}
	return &alertQueue{ready: make(chan struct{}, 1), limit: limit}
}

// push enqueues a and returns the alert evicted to make room, if any.
func (q *alertQueue) push(a events.Alert) (evicted events.Alert, ok bool) {
	q.mu.Lock()
	if a.Level == events.LevelCritical {
		q.critical = append(q.critical, a)
	} else {
		if len(q.normal) >= q.limit {
			evicted, ok = q.normal[0], true
			q.normal = q.normal[1:]
		}
		q.normal = append(q.normal, a)
	}
	q.mu.Unlock()
	q.signal()
	return evicted, ok
}

// close wakes the consumer. Queued CRITICAL alerts are still handed out;
// the rest are discarded.
func (q *alertQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// pop blocks for the next alert. It returns false once the queue is closed
// and holds no CRITICAL alerts. Single consumer only.
func (q *alertQueue) pop() (events.Alert, bool) {
	for {
		q.mu.Lock()
		switch {
		case len(q.critical) > 0:
			a := q.critical[0]
			q.critical = q.critical[1:]
			q.mu.Unlock()
			return a, true
		case q.closed:
			q.normal = nil
			q.mu.Unlock()
			return events.Alert{}, false
		case len(q.normal) > 0:
			a := q.normal[0]
			q.normal = q.normal[1:]
			q.mu.Unlock()
			return a, true
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *alertQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
