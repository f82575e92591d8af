package view

import (
	"fmt"

	"exam-integrity-monitor/enforcement"
	"exam-integrity-monitor/identity"
	"exam-integrity-monitor/violations"
)

const (
	CameraUnavailableText = "Unable to access webcam. Please ensure you have granted camera permissions."
	ProxyReportedText     = "A possible proxy attempt was detected and reported"

	pendingIdentityText     = "Verifying identity..."
	verifiedFallbackText    = "Identity verified"
	mismatchFallbackText    = "Face does not match the registered student"
	unavailableFallbackText = "Identity verification unavailable"
)

var labels = []struct {
	active func(violations.State) bool
	text   string
}{
	{func(s violations.State) bool { return s.MultipleFaces }, "Multiple Faces Detected"},
	{func(s violations.State) bool { return s.HeadTurning }, "Head Rotation Detected"},
	{func(s violations.State) bool { return s.LookingAway }, "Looking Away Detected"},
	{func(s violations.State) bool { return s.DeviceDetected }, "Device Detected"},
}

// Inputs is everything the monitor exposes for display.
type Inputs struct {
	Violations        violations.State
	Identity          *identity.Result
	ProxyReported     bool
	Enforcement       enforcement.Status
	CameraUnavailable bool
}

type Identity struct {
	Checked  bool   `json:"checked"`
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

type Snapshot struct {
	Violations        violations.State   `json:"violations"`
	AnyViolation      bool               `json:"any_violation"`
	ActiveLabels      []string           `json:"active_labels"`
	Identity          Identity           `json:"identity"`
	ProxyReported     bool               `json:"proxy_reported"`
	Enforcement       enforcement.Status `json:"enforcement"`
	CameraUnavailable bool               `json:"camera_unavailable"`
}

// Project builds the display state. It has no side effects.
func Project(in Inputs) Snapshot {
	s := Snapshot{
		Violations:        in.Violations,
		AnyViolation:      in.Violations.Any(),
		ActiveLabels:      []string{},
		Identity:          projectIdentity(in.Identity),
		ProxyReported:     in.ProxyReported,
		Enforcement:       in.Enforcement,
		CameraUnavailable: in.CameraUnavailable,
	}
	for _, l := range labels {
		if l.active(in.Violations) {
			s.ActiveLabels = append(s.ActiveLabels, l.text)
		}
	}
	return s
}

func projectIdentity(r *identity.Result) Identity {
	if r == nil {
		return Identity{Message: pendingIdentityText}
	}
	id := Identity{Checked: true, Verified: r.Success && r.Verified}
	switch {
	case id.Verified:
		id.Message = firstNonEmpty(r.Message, verifiedFallbackText)
	case r.Success:
		id.Message = firstNonEmpty(r.Message, r.Error, mismatchFallbackText)
	default:
		id.Message = firstNonEmpty(r.Error, r.Message, unavailableFallbackText)
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Render returns the banner lines shown next to the camera preview.
func (s Snapshot) Render() []string {
	if s.CameraUnavailable {
		return []string{CameraUnavailableText}
	}

	lines := append([]string(nil), s.ActiveLabels...)
	lines = append(lines, s.Identity.Message)
	if s.ProxyReported {
		lines = append(lines, ProxyReportedText)
	}
	if s.Enforcement.TabSwitches > 0 {
		lines = append(lines, fmt.Sprintf("Tab switches: %d/%d", s.Enforcement.TabSwitches, s.Enforcement.MaxTabSwitches))
	}
	return lines
}
