package router

import (
	"testing"
	"time"
)

func TestServeTimeoutTrackerFiresOnExpiry(t *testing.T) {
	fired := make(chan string, 1)
	tracker := newServeTimeoutTracker(func(driverNode string) { fired <- driverNode })
	defer tracker.Stop()

	tracker.track("driverA", 50*time.Millisecond)

	select {
	case node := <-fired:
		if node != "driverA" {
			t.Fatalf("unexpected node: %s", node)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry callback")
	}
}

func TestServeTimeoutTrackerUntrackSuppressesExpiry(t *testing.T) {
	fired := make(chan string, 1)
	tracker := newServeTimeoutTracker(func(driverNode string) { fired <- driverNode })
	defer tracker.Stop()

	tracker.track("driverA", 50*time.Millisecond)
	tracker.untrack("driverA")

	select {
	case node := <-fired:
		t.Fatalf("expiry fired for an untracked driver: %s", node)
	case <-time.After(150 * time.Millisecond):
	}
}
