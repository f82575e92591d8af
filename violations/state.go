package violations

import (
	"sync"

	"exam-integrity-monitor/models"
)

// State is the latest frame classification. It is replaced as a whole on
// every successful analysis and never reset implicitly.
type State struct {
	MultipleFaces  bool `json:"multiple_faces"`
	LookingAway    bool `json:"looking_away"`
	HeadTurning    bool `json:"head_turning"`
	DeviceDetected bool `json:"device_detected"`
}

func FromDetection(d models.DetectionResult) State {
	return State{
		MultipleFaces:  d.MultipleFaces,
		LookingAway:    d.LookingAway,
		HeadTurning:    d.HeadTurning,
		DeviceDetected: d.DeviceDetected,
	}
}

// Any reports whether at least one flag is raised.
func (s State) Any() bool {
	return s.MultipleFaces || s.LookingAway || s.HeadTurning || s.DeviceDetected
}

// Store holds the current State.
type Store struct {
	mu          sync.RWMutex
	state       State
	lastSeq     uint64
	updates     uint64
	ignoreStale bool
}

// NewStore creates an empty store. With ignoreStale set, an update for a
// frame older than the last applied one is dropped.
func NewStore(ignoreStale bool) *Store {
	return &Store{ignoreStale: ignoreStale}
}

// Apply replaces the state; it reports false when the update was dropped.
func (s *Store) Apply(seq uint64, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ignoreStale && seq < s.lastSeq {
		return false
	}
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
	s.state = state
	s.updates++
	return true
}

func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Updates returns how many classifications were applied.
func (s *Store) Updates() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}
