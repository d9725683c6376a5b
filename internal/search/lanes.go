package search

import (
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/cespare/xxhash/v2"
)

// job is one change event awaiting application. attempt counts earlier
// failed tries.
type job struct {
	event   watcher.ChangeEvent
	attempt int
}

// lane is one worker's bounded queue. Every event for a given path lands in
// the same lane, so changes to one file are applied in the order detected.
type lane struct {
	id   int
	jobs chan job
}

func newLanes(workers, queueSize int) []*lane {
	lanes := make([]*lane, workers)
	for i := range lanes {
		lanes[i] = &lane{id: i, jobs: make(chan job, queueSize)}
	}
	return lanes
}

// route returns the lane that owns path.
func route(lanes []*lane, path string) *lane {
	return lanes[xxhash.Sum64String(path)%uint64(len(lanes))]
}

func pending(lanes []*lane) int {
	n := 0
	for _, l := range lanes {
		n += len(l.jobs)
	}
	return n
}
