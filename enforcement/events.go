package enforcement

import (
	"fmt"
	"time"
)

// EventKind is a browser event forwarded by the exam page.
type EventKind int

const (
	EventVisibilityChange EventKind = iota
	EventFocus
	EventBlur
	EventFullscreenChange
	EventCopy
	EventCut
	EventPaste
	EventContextMenu
)

var eventNames = map[EventKind]string{
	EventVisibilityChange: "visibilitychange",
	EventFocus:            "focus",
	EventBlur:             "blur",
	EventFullscreenChange: "fullscreenchange",
	EventCopy:             "copy",
	EventCut:              "cut",
	EventPaste:            "paste",
	EventContextMenu:      "contextmenu",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind maps a DOM event name to its kind.
func ParseEventKind(name string) (EventKind, error) {
	for kind, n := range eventNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown event %q", name)
}

// Event is one browser event. Hidden is only meaningful for visibility
// changes and FullscreenActive only for fullscreen changes. A zero At means
// the event is stamped on arrival.
type Event struct {
	Kind             EventKind
	Hidden           bool
	FullscreenActive bool
	At               time.Time
}

// BreachKind is a security breach raised by the listener.
type BreachKind int

const (
	BreachNone BreachKind = iota
	BreachTabSwitch
	BreachFullscreenExit
)

func (k BreachKind) String() string {
	switch k {
	case BreachTabSwitch:
		return "tab_switch"
	case BreachFullscreenExit:
		return "fullscreen_exit"
	default:
		return "none"
	}
}

func (k BreachKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BreachKind) UnmarshalText(text []byte) error {
	for _, c := range []BreachKind{BreachNone, BreachTabSwitch, BreachFullscreenExit} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown breach kind %q", text)
}
