package archive

import (
	"sync"
	"time"
)

// RetentionSweeper runs the archive's purge-older-than on a daily timer,
// fired at a fixed low-traffic hour rather than on every startup.
type RetentionSweeper struct {
	store    *Store
	maxAge   time.Duration
	hour     int // local hour of day to fire, e.g. 4 for 04:00
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRetentionSweeper builds a sweeper that purges rows older than maxAge,
// firing once per day at the given local hour.
func NewRetentionSweeper(store *Store, maxAge time.Duration, hour int) *RetentionSweeper {
	return &RetentionSweeper{store: store, maxAge: maxAge, hour: hour, stop: make(chan struct{})}
}

// Start begins the background sweep goroutine.
func (r *RetentionSweeper) Start() {
	go func() {
		for {
			wait := time.Until(nextFireAt(time.Now(), r.hour))
			select {
			case <-time.After(wait):
				r.store.PurgeOlderThan(r.maxAge)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper.
func (r *RetentionSweeper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func nextFireAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
