package router

import (
	"sync"
	"time"
)

// serveTimeoutTracker watches every dispatched job's serve deadline and,
// when one elapses with no JobUpdate, notifies onExpire so the router can
// run the abandoned-job recovery path (remove the driver from the index,
// remove the outstanding entry, surface a failed JobUpdate to the client).
// This is the serve-timeout enforcement the source repo left unimplemented
// (marked TODO); the spec requires it be specified and built here.
//
// The shape — a TTL-keyed map swept by a background ticker, guarded by one
// mutex, with a stop channel for clean shutdown — tracks one deadline per
// busy driver.
type serveTimeoutTracker struct {
	mu       sync.Mutex
	deadline map[string]time.Time // driverNode -> serve deadline
	onExpire func(driverNode string)
	stop     chan struct{}
}

func newServeTimeoutTracker(onExpire func(driverNode string)) *serveTimeoutTracker {
	t := &serveTimeoutTracker{
		deadline: make(map[string]time.Time),
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
	go t.sweep()
	return t
}

// track records that driverNode must produce a JobUpdate within ttl or be
// considered to have abandoned the job.
func (t *serveTimeoutTracker) track(driverNode string, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline[driverNode] = time.Now().Add(ttl)
}

// untrack clears a driver's deadline, called when its JobUpdate(isFinal)
// arrives before the deadline, or when the driver is otherwise removed from
// bookkeeping.
func (t *serveTimeoutTracker) untrack(driverNode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.deadline, driverNode)
}

func (t *serveTimeoutTracker) sweep() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			var expired []string
			t.mu.Lock()
			for driverNode, d := range t.deadline {
				if now.After(d) {
					expired = append(expired, driverNode)
					delete(t.deadline, driverNode)
				}
			}
			t.mu.Unlock()
			for _, driverNode := range expired {
				t.onExpire(driverNode)
			}
		case <-t.stop:
			return
		}
	}
}

func (t *serveTimeoutTracker) Stop() {
	close(t.stop)
}
