package enforcement

import (
	"log/slog"
	"sync/atomic"
)

// Disposition tells the page what to do with the event it forwarded.
type Disposition struct {
	PreventDefault bool       `json:"prevent_default"`
	Breach         BreachKind `json:"-"`
}

// BreachHandler receives every breach the listener raises.
type BreachHandler func(kind BreachKind)

// SuppressedKinds lists the events whose default action is always
// prevented while a session is attached.
func SuppressedKinds() []EventKind {
	return []EventKind{EventCopy, EventCut, EventPaste, EventContextMenu}
}

// Listener turns raw browser events into breaches.
type Listener struct {
	detector TabSwitchDetector
	onBreach BreachHandler
	detached atomic.Bool
	log      *slog.Logger
}

func NewListener(detector TabSwitchDetector, onBreach BreachHandler, log *slog.Logger) *Listener {
	return &Listener{detector: detector, onBreach: onBreach, log: log}
}

// Handle processes one event. After Detach every event is ignored.
func (l *Listener) Handle(ev Event) Disposition {
	if l.detached.Load() {
		return Disposition{}
	}

	var d Disposition
	switch ev.Kind {
	case EventCopy, EventCut, EventPaste, EventContextMenu:
		l.log.Debug("Suppressed event", "event", ev.Kind)
		return Disposition{PreventDefault: true}
	case EventFullscreenChange:
		if !ev.FullscreenActive {
			d.Breach = BreachFullscreenExit
		}
	case EventVisibilityChange, EventFocus, EventBlur:
		if l.detector.Observe(ev) {
			d.Breach = BreachTabSwitch
		}
	}

	if d.Breach != BreachNone {
		l.log.Info("Security breach", "kind", d.Breach, "event", ev.Kind)
		l.onBreach(d.Breach)
	}
	return d
}

// Detach stops the listener for good.
func (l *Listener) Detach() {
	l.detached.Store(true)
}

func (l *Listener) Detached() bool {
	return l.detached.Load()
}
