package enforcement

import (
	"sync"
	"time"
)

const DefaultDebounceWindow = 200 * time.Millisecond

// TabSwitchDetector decides which visibility and focus events count as a
// tab switch.
type TabSwitchDetector interface {
	Observe(ev Event) bool
}

// DebounceDetector counts a switch when the page becomes hidden, or when
// focus returns more than window after the last focus, blur or counted
// switch. A hidden page followed by a focus within the window is a single
// switch. The first observed event only sets the reference time, so event
// timestamps never get compared with the detector's own clock.
type DebounceDetector struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
}

func NewDebounceDetector(window time.Duration) *DebounceDetector {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &DebounceDetector{window: window}
}

func (d *DebounceDetector) Observe(ev Event) bool {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last.IsZero() {
		d.last = at
	}

	switch ev.Kind {
	case EventVisibilityChange:
		if !ev.Hidden {
			return false
		}
		d.last = at
		return true
	case EventFocus:
		counted := at.Sub(d.last) > d.window
		d.last = at
		return counted
	case EventBlur:
		d.last = at
	}
	return false
}
