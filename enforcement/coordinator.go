package enforcement

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxTabSwitches = 15
	DefaultGracePeriod    = 3 * time.Second
)

type State int

const (
	StateCompliant State = iota
	StateWarned
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateWarned:
		return "warned"
	case StateTerminating:
		return "terminating"
	default:
		return "compliant"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, c := range []State{StateCompliant, StateWarned, StateTerminating} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

type TerminationReason string

const (
	ReasonCandidateEnded TerminationReason = "candidate_ended"
	ReasonTabSwitchLimit TerminationReason = "tab_switch_limit"
)

// Browser is the part of the exam page the coordinator drives.
type Browser interface {
	RequestFullscreen() error
	ExitFullscreen() error
	SuspendExam()
	ShowFullscreenWarning()
	ShowTabSwitchWarning(count, max int, dismissible bool)
	HideWarning()
}

// Terminator asks the enclosing application to leave the exam.
type Terminator func(reason TerminationReason)

type CoordinatorConfig struct {
	MaxTabSwitches int
	GracePeriod    time.Duration
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State          State      `json:"state"`
	Kind           BreachKind `json:"kind"`
	TabSwitches    int        `json:"tab_switches"`
	MaxTabSwitches int        `json:"max_tab_switches"`
}

// Coordinator is the session security state machine.
type Coordinator struct {
	mu        sync.Mutex
	cfg       CoordinatorConfig
	browser   Browser
	terminate Terminator
	state     State
	kind      BreachKind
	count     int

	// Both dialogs can be open at once. A fullscreen exit stays pending
	// until the candidate returns or ends the exam.
	fullscreenPending bool
	tabWarningOpen    bool

	grace  *time.Timer
	closed bool
	once   sync.Once
	log    *slog.Logger
}

func NewCoordinator(cfg CoordinatorConfig, browser Browser, terminate Terminator, log *slog.Logger) *Coordinator {
	if cfg.MaxTabSwitches <= 0 {
		cfg.MaxTabSwitches = DefaultMaxTabSwitches
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Coordinator{cfg: cfg, browser: browser, terminate: terminate, log: log}
}

// Start requests fullscreen. Browsers may refuse without a user gesture,
// so a failure is only logged.
func (c *Coordinator) Start() {
	if err := c.browser.RequestFullscreen(); err != nil {
		c.log.Warn("Fullscreen request refused", "error", err)
	}
}

// OnBreach applies one breach to the state machine.
func (c *Coordinator) OnBreach(kind BreachKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch kind {
	case BreachFullscreenExit:
		if c.state == StateTerminating {
			return
		}
		c.fullscreenPending = true
		c.browser.SuspendExam()
		c.browser.ShowFullscreenWarning()
		c.settle()

	case BreachTabSwitch:
		c.count++
		if c.state == StateTerminating {
			c.browser.ShowTabSwitchWarning(c.count, c.cfg.MaxTabSwitches, false)
			return
		}
		if c.count < c.cfg.MaxTabSwitches {
			c.tabWarningOpen = true
			c.browser.ShowTabSwitchWarning(c.count, c.cfg.MaxTabSwitches, true)
			c.settle()
			return
		}

		c.state, c.kind = StateTerminating, BreachTabSwitch
		c.browser.ShowTabSwitchWarning(c.count, c.cfg.MaxTabSwitches, false)
		c.log.Warn("Tab switch limit reached, ending exam", "count", c.count, "grace_period", c.cfg.GracePeriod)
		c.grace = time.AfterFunc(c.cfg.GracePeriod, func() {
			c.fire(ReasonTabSwitchLimit)
		})
	}
}

// settle derives the state from the open dialogs. The fullscreen exit
// wins because it blocks the exam. Callers hold mu.
func (c *Coordinator) settle() {
	switch {
	case c.state == StateTerminating:
	case c.fullscreenPending:
		c.state, c.kind = StateWarned, BreachFullscreenExit
	case c.tabWarningOpen:
		c.state, c.kind = StateWarned, BreachTabSwitch
	default:
		c.state, c.kind = StateCompliant, BreachNone
	}
}

// ReturnToExam answers the fullscreen dialog by re-entering fullscreen. A
// tab-switch warning that is still open is shown again.
func (c *Coordinator) ReturnToExam() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateTerminating || !c.fullscreenPending {
		return
	}

	if err := c.browser.RequestFullscreen(); err != nil {
		c.log.Warn("Fullscreen request refused", "error", err)
	}
	c.fullscreenPending = false
	c.browser.HideWarning()
	if c.tabWarningOpen {
		c.browser.ShowTabSwitchWarning(c.count, c.cfg.MaxTabSwitches, true)
	}
	c.settle()
}

// DismissTabWarning closes the tab-switch warning while below the limit.
// A pending fullscreen exit keeps the exam suspended and its dialog is
// shown again.
func (c *Coordinator) DismissTabWarning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateTerminating || !c.tabWarningOpen {
		return false
	}

	c.tabWarningOpen = false
	c.browser.HideWarning()
	if c.fullscreenPending {
		c.browser.ShowFullscreenWarning()
	}
	c.settle()
	return true
}

// EndExam terminates the session at the candidate's request.
func (c *Coordinator) EndExam() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminating
	c.mu.Unlock()

	c.fire(ReasonCandidateEnded)
}

// fire requests termination. Only the first request is forwarded.
func (c *Coordinator) fire(reason TerminationReason) {
	c.mu.Lock()
	closed := c.closed
	if c.grace != nil {
		c.grace.Stop()
	}
	c.mu.Unlock()
	if closed {
		return
	}

	c.once.Do(func() {
		c.log.Info("Requesting exam termination", "reason", reason)
		c.terminate(reason)
	})
}

// Close stops the grace timer. Events received afterwards are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.grace != nil {
		c.grace.Stop()
	}
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:          c.state,
		Kind:           c.kind,
		TabSwitches:    c.count,
		MaxTabSwitches: c.cfg.MaxTabSwitches,
	}
}
