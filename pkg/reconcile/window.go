package reconcile

import "time"

// Window is a half-open time range [From, To)
type Window struct {
	From time.Time
	To   time.Time
}

// WindowAround returns the rolling range of halfWidth on either side of now
func WindowAround(now time.Time, halfWidth time.Duration) Window {
	return Window{From: now.Add(-halfWidth), To: now.Add(halfWidth)}
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}
