// Package recent tracks a bounded window of recently-completed job ids,
// purely for diagnostics: distinguishing "stray reply for a job that
// already finished" from "stray reply for a job that never existed" in
// logs. It is never consulted for scheduling correctness — invariant 1
// alone (at most one of {outstanding, probe, queue, completed} per JobId)
// governs that.
package recent

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSize = 4096

// Completed is a bounded set of job ids that finished (successfully or
// abandoned) recently enough to still be useful in a log line.
type Completed struct {
	cache *lru.Cache[uint64, struct{}]
}

func NewCompleted() *Completed {
	cache, err := lru.New[uint64, struct{}](defaultSize)
	if err != nil {
		// Only returns an error for a non-positive size, which defaultSize
		// never is.
		panic(err)
	}
	return &Completed{cache: cache}
}

func (c *Completed) Mark(jobID uint64) {
	c.cache.Add(jobID, struct{}{})
}

func (c *Completed) Contains(jobID uint64) bool {
	return c.cache.Contains(jobID)
}
