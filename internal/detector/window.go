package detector

import (
	"time"

	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// eventWindow is a time-bounded sliding window over the activity event log.
// Events arrive in log order; eviction advances a head index and compacts
// lazily.
type eventWindow struct {
	retention time.Duration
	events    []models.ActivityEvent
	head      int
}

func newEventWindow(retention time.Duration) *eventWindow {
	return &eventWindow{
		retention: retention,
		events:    make([]models.ActivityEvent, 0, 256),
	}
}

func (w *eventWindow) add(ev models.ActivityEvent) {
	w.events = append(w.events, ev)
}

func (w *eventWindow) evict(now time.Time) {
	cutoff := now.Add(-w.retention)
	for w.head < len(w.events) {
		if !w.events[w.head].ObservedAt.Before(cutoff) {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]models.ActivityEvent{}, w.events[w.head:]...)
		w.head = 0
	}
}

// snapshot returns the live slice of retained events. Callers must not
// mutate it.
func (w *eventWindow) snapshot() []models.ActivityEvent {
	return w.events[w.head:]
}

func (w *eventWindow) len() int {
	return len(w.events) - w.head
}

// volumeRing keeps the most recent N per-address transaction volumes for the
// statistical detector.
type volumeRing struct {
	cap    int
	values []float64
}

func newVolumeRing(cap int) *volumeRing {
	return &volumeRing{cap: cap, values: make([]float64, 0, cap)}
}

func (r *volumeRing) push(v float64) {
	if len(r.values) == r.cap {
		copy(r.values, r.values[1:])
		r.values[len(r.values)-1] = v
		return
	}
	r.values = append(r.values, v)
}

// history returns the retained samples, oldest first.
func (r *volumeRing) history() []float64 {
	return r.values
}
