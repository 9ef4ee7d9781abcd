package audio

import (
	"sync"
	"time"
)

// DwellTracker tracks how long the observed frequency has been unchanged.
// It gates capture start until the tuner has settled on one frequency.
// It is safe for concurrent use.
type DwellTracker struct {
	mu          sync.Mutex
	frequencyHz uint64
	stableSince time.Time
}

// NewDwellTracker creates a new dwell tracker.
func NewDwellTracker() *DwellTracker {
	return &DwellTracker{}
}

// Observe records the frequency carried by an incoming chunk and reports
// whether it changed since the previous observation. A change restarts
// the stability clock at now.
func (d *DwellTracker) Observe(frequencyHz uint64, now time.Time) (changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stableSince.IsZero() || frequencyHz != d.frequencyHz {
		changed = !d.stableSince.IsZero()
		d.frequencyHz = frequencyHz
		d.stableSince = now
	}
	return changed
}

// Stable reports whether the current frequency has been unchanged for at
// least the given dwell.
func (d *DwellTracker) Stable(dwell time.Duration, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stableSince.IsZero() {
		return false
	}
	return now.Sub(d.stableSince) >= dwell
}

// Reset clears the tracker state.
func (d *DwellTracker) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frequencyHz = 0
	d.stableSince = time.Time{}
}
